package schema

import "time"

// RateLimit represents the rate_limits table - per-endpoint hourly event counters
type RateLimit struct {
	// EndpointID is part of the composite key with Bucket
	EndpointID string `gorm:"column:endpoint_id;primaryKey;type:varchar(36)"`
	// Bucket is the start of the UTC clock hour this counter covers
	Bucket time.Time `gorm:"column:bucket;primaryKey;type:timestamptz;index"`
	// Count is monotonically non-decreasing until the retention sweep deletes the row
	Count int `gorm:"column:count;not null;default:0"`
}

// TableName specifies the table name for the RateLimit model
func (RateLimit) TableName() string {
	return "rate_limits"
}
