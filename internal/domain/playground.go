package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// PlaygroundSessionStatus is the state of an anonymous trial session
type PlaygroundSessionStatus string

const (
	PlaygroundSessionActive  PlaygroundSessionStatus = "active"
	PlaygroundSessionExpired PlaygroundSessionStatus = "expired"
)

// PlaygroundSession is an anonymous trial session: a short-lived endpoint
// usable without an account. Expired sessions are removed by the cleanup
// sweep.
type PlaygroundSession struct {
	ID         string                  `json:"id"`
	Token      string                  `json:"token"`
	EndpointID string                  `json:"endpoint_id"`
	Status     PlaygroundSessionStatus `json:"status"`
	ExpiresAt  time.Time               `json:"expires_at"`
	CreatedAt  time.Time               `json:"created_at"`
}

// NewPlaygroundSession constructs a new anonymous session valid for ttl
func NewPlaygroundSession(endpointID string, ttl time.Duration, now time.Time) (*PlaygroundSession, error) {
	if endpointID == "" {
		return nil, NewValidationError("playground session endpoint is required")
	}
	if ttl <= 0 {
		return nil, NewValidationError("playground session TTL must be positive")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, NewInfraError("generate playground token", err)
	}
	return &PlaygroundSession{
		ID:         uuid.NewString(),
		Token:      hex.EncodeToString(buf),
		EndpointID: endpointID,
		Status:     PlaygroundSessionActive,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}, nil
}

// IsExpired reports whether the session is past its expiry at the given time
func (p *PlaygroundSession) IsExpired(now time.Time) bool {
	return p.Status == PlaygroundSessionExpired || !now.Before(p.ExpiresAt)
}
