package schema

import "time"

// Destination represents the destinations table - registered forwarding targets
type Destination struct {
	// ID is the destination identity (UUID)
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// EndpointID is the endpoint this destination forwards for
	EndpointID string `gorm:"column:endpoint_id;not null;type:varchar(36);index"`
	// Kind is the class of forwarding session: browser, cli
	Kind string `gorm:"column:kind;not null;type:varchar(16)"`
	// Label is a free-form display name
	Label string `gorm:"column:label;type:varchar(128)"`
	// CreatedAt is the timestamp when this destination was registered
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this destination was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Destination model
func (Destination) TableName() string {
	return "destinations"
}
