package blocklist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/blocklist"
)

func writeBlocklist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blocklist.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		expectedErr  string // Error message to assert, empty means no error expected
		validateFunc func(t *testing.T, bl blocklist.Blocklist)
	}{
		{
			name: "valid blocklist",
			content: `{
				"endpoints": ["EP-1", "ep-2"],
				"users": ["user-bad"]
			}`,
			validateFunc: func(t *testing.T, bl blocklist.Blocklist) {
				assert.True(t, bl.IsEndpointBlocked("ep-1"))
				assert.True(t, bl.IsEndpointBlocked("EP-2"))
				assert.False(t, bl.IsEndpointBlocked("ep-3"))
				assert.True(t, bl.IsUserBlocked("user-bad"))
				assert.False(t, bl.IsUserBlocked("user-good"))
			},
		},
		{
			name:    "empty blocklist blocks nothing",
			content: `{}`,
			validateFunc: func(t *testing.T, bl blocklist.Blocklist) {
				assert.False(t, bl.IsEndpointBlocked("ep-1"))
				assert.False(t, bl.IsUserBlocked("user-1"))
			},
		},
		{
			name:        "invalid JSON",
			content:     `{not json`,
			expectedErr: "failed to parse blocklist JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bl, err := blocklist.Load(writeBlocklist(t, tt.content))
			if tt.expectedErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErr)
				return
			}
			require.NoError(t, err)
			tt.validateFunc(t, bl)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := blocklist.Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read blocklist file")
}
