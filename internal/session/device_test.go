package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateDeviceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "device-id")

	id, err := LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	again, err := LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestLoadOrCreateDeviceID_ReplacesGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-id")
	require.NoError(t, os.WriteFile(path, []byte("not-a-uuid"), 0o600))

	id, err := LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", id)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, id+"\n", string(raw))
}
