package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// endpoint names are slugs: they appear in inbound webhook URLs
var endpointNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-_]{0,63}$`)

// Endpoint is a tenant-owned inbound webhook address. Identity is immutable;
// deletion is a soft-delete flag so events referencing the endpoint keep a
// resolvable owner until they expire.
type Endpoint struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewEndpoint validates untrusted input and constructs a new endpoint.
// Invariant violations surface as Validation errors and never escape as
// anything else.
func NewEndpoint(userID, name string, now time.Time) (*Endpoint, error) {
	if userID == "" {
		return nil, NewValidationError("endpoint owner is required")
	}
	if !endpointNameRe.MatchString(name) {
		return nil, NewValidationError("endpoint name %q must be 1-64 lowercase letters, digits, '-' or '_'", name)
	}
	return &Endpoint{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsDeleted reports whether the endpoint is soft-deleted
func (e *Endpoint) IsDeleted() bool {
	return e.DeletedAt != nil
}

// Delete marks the endpoint soft-deleted. Idempotent.
func (e *Endpoint) Delete(now time.Time) {
	if e.DeletedAt == nil {
		e.DeletedAt = &now
		e.UpdatedAt = now
	}
}

// Restore clears the soft-delete flag. Idempotent.
func (e *Endpoint) Restore(now time.Time) {
	if e.DeletedAt != nil {
		e.DeletedAt = nil
		e.UpdatedAt = now
	}
}

// Destination is a registered real-time forwarding target for an endpoint
type Destination struct {
	ID         string    `json:"id"`
	EndpointID string    `json:"endpoint_id"`
	Kind       TargetKind `json:"kind"`
	Label      string    `json:"label"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TargetKind identifies the class of forwarding session a destination describes
type TargetKind string

const (
	TargetKindBrowser TargetKind = "browser"
	TargetKindCLI     TargetKind = "cli"
)

// IsValidTargetKind checks if a target kind is valid
func IsValidTargetKind(k TargetKind) bool {
	return k == TargetKindBrowser || k == TargetKindCLI
}

// NewDestination validates untrusted input and constructs a new destination
func NewDestination(endpointID string, kind TargetKind, label string, now time.Time) (*Destination, error) {
	if endpointID == "" {
		return nil, NewValidationError("destination endpoint is required")
	}
	if !IsValidTargetKind(kind) {
		return nil, NewValidationError("destination kind %q is not supported", kind)
	}
	if len(label) > 128 {
		return nil, NewValidationError("destination label exceeds 128 characters")
	}
	return &Destination{
		ID:         uuid.NewString(),
		EndpointID: endpointID,
		Kind:       kind,
		Label:      label,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
