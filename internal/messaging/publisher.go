package messaging

import (
	"context"

	"github.com/hookline/hookline/internal/domain"
)

// Publisher defines the interface for mirroring admitted events to a message
// broker. The mirror is best-effort: ingestion never fails because a publish
// failed.
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishEvent publishes an admitted event to the broker
	PublishEvent(ctx context.Context, event *domain.Event) error
	// Close closes the connection
	Close()
}
