package jetstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/domain"
)

func TestEventSubjectLowercasesMethod(t *testing.T) {
	evt, err := domain.NewEvent("ep-1", "POST", nil, []byte(`{}`), time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, "events.ep-1.post", eventSubject(evt))
}
