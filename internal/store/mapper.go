package store

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/store/schema"
)

// Mapping between schema rows and domain entities. Rows come from trusted
// storage, so rehydration bypasses the validating constructors.

func endpointToSchema(e *domain.Endpoint) *schema.Endpoint {
	return &schema.Endpoint{
		ID:        e.ID,
		UserID:    e.UserID,
		Name:      e.Name,
		DeletedAt: e.DeletedAt,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func endpointToDomain(row *schema.Endpoint) *domain.Endpoint {
	return &domain.Endpoint{
		ID:        row.ID,
		UserID:    row.UserID,
		Name:      row.Name,
		DeletedAt: row.DeletedAt,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func destinationToSchema(d *domain.Destination) *schema.Destination {
	return &schema.Destination{
		ID:         d.ID,
		EndpointID: d.EndpointID,
		Kind:       string(d.Kind),
		Label:      d.Label,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func destinationToDomain(row *schema.Destination) *domain.Destination {
	return &domain.Destination{
		ID:         row.ID,
		EndpointID: row.EndpointID,
		Kind:       domain.TargetKind(row.Kind),
		Label:      row.Label,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

func eventToSchema(e *domain.Event) (*schema.Event, error) {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event headers: %w", err)
	}
	return &schema.Event{
		ID:         e.ID,
		EndpointID: e.EndpointID,
		Method:     e.Method,
		Headers:    datatypes.JSON(headers),
		Body:       e.Body,
		ReceivedAt: e.ReceivedAt,
	}, nil
}

func eventToDomain(row *schema.Event) (*domain.Event, error) {
	headers := map[string]string{}
	if len(row.Headers) > 0 {
		if err := json.Unmarshal(row.Headers, &headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event headers: %w", err)
		}
	}
	return &domain.Event{
		ID:         row.ID,
		EndpointID: row.EndpointID,
		Method:     row.Method,
		Headers:    headers,
		Body:       row.Body,
		ReceivedAt: row.ReceivedAt,
	}, nil
}

func deliveryToSchema(d *domain.Delivery) *schema.Delivery {
	return &schema.Delivery{
		ID:           d.ID,
		EventID:      d.EventID,
		ConnectionID: d.ConnectionID,
		Status:       string(d.Status),
		AttemptType:  string(d.AttemptType),
		StartedAt:    d.StartedAt,
		FinishedAt:   d.FinishedAt,
	}
}

func deliveryToDomain(row *schema.Delivery) *domain.Delivery {
	return &domain.Delivery{
		ID:           row.ID,
		EventID:      row.EventID,
		ConnectionID: row.ConnectionID,
		Status:       domain.DeliveryStatus(row.Status),
		AttemptType:  domain.AttemptType(row.AttemptType),
		StartedAt:    row.StartedAt,
		FinishedAt:   row.FinishedAt,
	}
}

func playgroundSessionToSchema(p *domain.PlaygroundSession) *schema.PlaygroundSession {
	return &schema.PlaygroundSession{
		ID:         p.ID,
		Token:      p.Token,
		EndpointID: p.EndpointID,
		Status:     string(p.Status),
		ExpiresAt:  p.ExpiresAt,
		CreatedAt:  p.CreatedAt,
	}
}

func playgroundSessionToDomain(row *schema.PlaygroundSession) *domain.PlaygroundSession {
	return &domain.PlaygroundSession{
		ID:         row.ID,
		Token:      row.Token,
		EndpointID: row.EndpointID,
		Status:     domain.PlaygroundSessionStatus(row.Status),
		ExpiresAt:  row.ExpiresAt,
		CreatedAt:  row.CreatedAt,
	}
}

func subscriptionToDomain(row *schema.Subscription) *domain.Subscription {
	return &domain.Subscription{
		ID:        row.ID,
		UserID:    row.UserID,
		Tier:      domain.Tier(row.Tier),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
