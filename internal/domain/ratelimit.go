package domain

import "time"

// RateLimit is the per-endpoint, per-hour-bucket event counter. Counts are
// monotonically non-decreasing until the retention sweep deletes the row;
// the increment is a single atomic upsert at the persistence layer.
type RateLimit struct {
	EndpointID string    `json:"endpoint_id"`
	Bucket     time.Time `json:"bucket"`
	Count      int       `json:"count"`
}
