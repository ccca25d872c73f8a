package schema

import (
	"time"

	"gorm.io/datatypes"
)

// Event represents the events table - immutable snapshots of received webhooks
type Event struct {
	// ID is a ULID: time-sortable, so one endpoint's events sort in ingestion order
	ID string `gorm:"column:id;primaryKey;type:varchar(26)"`
	// EndpointID is the endpoint this event was received on
	EndpointID string `gorm:"column:endpoint_id;not null;type:varchar(36);index"`
	// Method is the HTTP method of the inbound request
	Method string `gorm:"column:method;not null;type:varchar(8)"`
	// Headers is the captured request header snapshot as JSON
	Headers datatypes.JSON `gorm:"column:headers;not null;type:jsonb"`
	// Body is the captured request payload
	Body []byte `gorm:"column:body;type:bytea"`
	// ReceivedAt is when the event was ingested; the expiry sweep keys on it
	ReceivedAt time.Time `gorm:"column:received_at;not null;type:timestamptz;index"`
}

// TableName specifies the table name for the Event model
func (Event) TableName() string {
	return "events"
}
