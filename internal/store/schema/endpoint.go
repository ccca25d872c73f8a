package schema

import (
	"time"
)

// Endpoint represents the endpoints table - tenant-owned inbound webhook addresses
type Endpoint struct {
	// ID is the endpoint identity (UUID), immutable
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// UserID is the owning user
	UserID string `gorm:"column:user_id;not null;type:varchar(36);index;uniqueIndex:uidx_endpoints_user_name"`
	// Name is the validated slug that appears in inbound URLs
	Name string `gorm:"column:name;not null;type:varchar(64);uniqueIndex:uidx_endpoints_user_name"`
	// DeletedAt is the soft-delete marker; nil means live
	DeletedAt *time.Time `gorm:"column:deleted_at;type:timestamptz;index"`
	// CreatedAt is the timestamp when this endpoint was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this endpoint was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Endpoint model
func (Endpoint) TableName() string {
	return "endpoints"
}
