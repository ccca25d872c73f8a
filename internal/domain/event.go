package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxEventBodySize bounds the stored payload snapshot
const MaxEventBodySize = 1 << 20 // 1 MiB

var validMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {}, "HEAD": {}, "OPTIONS": {},
}

// Event is one received webhook payload: an immutable snapshot of the
// inbound request. Event IDs are ULIDs so a single endpoint's events sort
// in ingestion order.
type Event struct {
	ID         string            `json:"id"`
	EndpointID string            `json:"endpoint_id"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
	ReceivedAt time.Time         `json:"received_at"`
}

// NewEvent validates untrusted input and constructs a new event. The event
// must reference an existing, non-deleted endpoint; that referential check
// belongs to the ingestion pipeline, not here.
func NewEvent(endpointID, method string, headers map[string]string, body []byte, now time.Time) (*Event, error) {
	if endpointID == "" {
		return nil, NewValidationError("event endpoint is required")
	}
	if _, ok := validMethods[method]; !ok {
		return nil, NewValidationError("unsupported HTTP method %q", method)
	}
	if len(body) > MaxEventBodySize {
		return nil, NewValidationError("event body exceeds %d bytes", MaxEventBodySize)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return &Event{
		ID:         ulid.MustNewDefault(now).String(),
		EndpointID: endpointID,
		Method:     method,
		Headers:    headers,
		Body:       body,
		ReceivedAt: now,
	}, nil
}
