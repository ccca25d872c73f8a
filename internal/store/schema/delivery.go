package schema

import "time"

// Delivery represents the deliveries table - one forwarding attempt per live connection
type Delivery struct {
	// ID is the delivery identity (UUID)
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// EventID is the event being forwarded; deleting the event cascades here
	EventID string `gorm:"column:event_id;not null;type:varchar(26);index;constraint:OnDelete:CASCADE"`
	// ConnectionID is the live connection this attempt targeted
	ConnectionID string `gorm:"column:connection_id;not null;type:varchar(36)"`
	// Status is the state machine position: pending, in_progress, success, failed, timeout
	Status string `gorm:"column:status;not null;default:pending;type:varchar(16);index:idx_deliveries_status_started"`
	// AttemptType distinguishes fanout-time deliveries from explicit replays
	AttemptType string `gorm:"column:attempt_type;not null;default:initial;type:varchar(16)"`
	// StartedAt is when the attempt began; the timeout sweep keys on it
	StartedAt time.Time `gorm:"column:started_at;not null;type:timestamptz;index:idx_deliveries_status_started"`
	// FinishedAt is set when the delivery reaches a terminal state
	FinishedAt *time.Time `gorm:"column:finished_at;type:timestamptz"`
}

// TableName specifies the table name for the Delivery model
func (Delivery) TableName() string {
	return "deliveries"
}
