package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.DeliveryStatus
		to      domain.DeliveryStatus
		allowed bool
	}{
		{"pending to in_progress", domain.DeliveryStatusPending, domain.DeliveryStatusInProgress, true},
		{"in_progress to success", domain.DeliveryStatusInProgress, domain.DeliveryStatusSuccess, true},
		{"in_progress to failed", domain.DeliveryStatusInProgress, domain.DeliveryStatusFailed, true},
		{"in_progress to timeout", domain.DeliveryStatusInProgress, domain.DeliveryStatusTimeout, true},
		{"pending to success skips in_progress", domain.DeliveryStatusPending, domain.DeliveryStatusSuccess, false},
		{"pending to timeout", domain.DeliveryStatusPending, domain.DeliveryStatusTimeout, false},
		{"success is absorbing", domain.DeliveryStatusSuccess, domain.DeliveryStatusFailed, false},
		{"failed is absorbing", domain.DeliveryStatusFailed, domain.DeliveryStatusInProgress, false},
		{"timeout is absorbing", domain.DeliveryStatusTimeout, domain.DeliveryStatusSuccess, false},
		{"self transition rejected", domain.DeliveryStatusInProgress, domain.DeliveryStatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, domain.CanTransition(tt.from, tt.to))
		})
	}
}

func TestDelivery_Transition(t *testing.T) {
	now := time.Now()

	d, err := domain.NewDelivery("evt-1", "conn-1", domain.AttemptTypeInitial, now)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusPending, d.Status)
	assert.Nil(t, d.FinishedAt)

	require.NoError(t, d.Transition(domain.DeliveryStatusInProgress, now))
	assert.Nil(t, d.FinishedAt)

	require.NoError(t, d.Transition(domain.DeliveryStatusSuccess, now.Add(time.Second)))
	require.NotNil(t, d.FinishedAt)
	assert.Equal(t, now.Add(time.Second), *d.FinishedAt)

	// no transition escapes a terminal state
	err = d.Transition(domain.DeliveryStatusFailed, now.Add(2*time.Second))
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))
	assert.Equal(t, domain.DeliveryStatusSuccess, d.Status)
}

func TestNewDelivery_Validation(t *testing.T) {
	now := time.Now()

	_, err := domain.NewDelivery("", "conn-1", domain.AttemptTypeInitial, now)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = domain.NewDelivery("evt-1", "", domain.AttemptTypeInitial, now)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = domain.NewDelivery("evt-1", "conn-1", "retry", now)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestDeliveryStatus_IsTerminal(t *testing.T) {
	assert.False(t, domain.DeliveryStatusPending.IsTerminal())
	assert.False(t, domain.DeliveryStatusInProgress.IsTerminal())
	assert.True(t, domain.DeliveryStatusSuccess.IsTerminal())
	assert.True(t, domain.DeliveryStatusFailed.IsTerminal())
	assert.True(t, domain.DeliveryStatusTimeout.IsTerminal())
}
