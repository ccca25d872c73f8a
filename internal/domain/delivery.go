package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the state of one forwarding attempt
type DeliveryStatus string

const (
	// DeliveryStatusPending is set when a delivery is created at fanout time
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusInProgress is set the instant a push is attempted
	DeliveryStatusInProgress DeliveryStatus = "in_progress"
	// DeliveryStatusSuccess is terminal: the session acknowledged receipt
	DeliveryStatusSuccess DeliveryStatus = "success"
	// DeliveryStatusFailed is terminal: an explicit failure acknowledgement,
	// or the push could not be enqueued
	DeliveryStatusFailed DeliveryStatus = "failed"
	// DeliveryStatusTimeout is terminal: the timeout sweep found the delivery
	// stuck in progress past the staleness threshold
	DeliveryStatusTimeout DeliveryStatus = "timeout"
)

// AttemptType distinguishes fanout-time deliveries from explicit replays
type AttemptType string

const (
	AttemptTypeInitial AttemptType = "initial"
	AttemptTypeReplay  AttemptType = "replay"
)

// deliveryTransitions is the full transition table. Terminal states have no
// outgoing edges; anything not listed fails with InvalidTransition.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusPending:    {DeliveryStatusInProgress},
	DeliveryStatusInProgress: {DeliveryStatusSuccess, DeliveryStatusFailed, DeliveryStatusTimeout},
}

// CanTransition reports whether from -> to is a permitted delivery transition
func CanTransition(from, to DeliveryStatus) bool {
	for _, next := range deliveryTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryStatusSuccess, DeliveryStatusFailed, DeliveryStatusTimeout:
		return true
	}
	return false
}

// Delivery is one forwarding attempt of an Event to one live connection.
// A delivery is only ever created when fanout occurs; status mutates only
// through the transition table.
type Delivery struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	ConnectionID string         `json:"connection_id"`
	Status       DeliveryStatus `json:"status"`
	AttemptType  AttemptType    `json:"attempt_type"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// NewDelivery constructs a pending delivery for one connection
func NewDelivery(eventID, connectionID string, attempt AttemptType, now time.Time) (*Delivery, error) {
	if eventID == "" {
		return nil, NewValidationError("delivery event is required")
	}
	if connectionID == "" {
		return nil, NewValidationError("delivery connection is required")
	}
	if attempt != AttemptTypeInitial && attempt != AttemptTypeReplay {
		return nil, NewValidationError("unknown attempt type %q", attempt)
	}
	return &Delivery{
		ID:           uuid.NewString(),
		EventID:      eventID,
		ConnectionID: connectionID,
		Status:       DeliveryStatusPending,
		AttemptType:  attempt,
		StartedAt:    now,
	}, nil
}

// Transition applies a status change in memory, enforcing the transition
// table. Terminal transitions stamp FinishedAt.
func (d *Delivery) Transition(to DeliveryStatus, now time.Time) error {
	if !CanTransition(d.Status, to) {
		return NewInvalidTransitionError(d.Status, to)
	}
	d.Status = to
	if to.IsTerminal() {
		d.FinishedAt = &now
	}
	return nil
}
