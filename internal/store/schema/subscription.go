package schema

import "time"

// Subscription represents the subscriptions table - owner plan records.
// Written by billing; the relay core only reads it to derive quota ceilings.
type Subscription struct {
	// ID is the subscription identity (UUID)
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// UserID is the owner; one subscription per user
	UserID string `gorm:"column:user_id;not null;unique;type:varchar(36)"`
	// Tier is the plan name: free, pro, business
	Tier string `gorm:"column:tier;not null;default:free;type:varchar(16)"`
	// CreatedAt is the timestamp when this subscription was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this subscription was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Subscription model
func (Subscription) TableName() string {
	return "subscriptions"
}
