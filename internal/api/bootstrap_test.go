package api

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remedyrun/remedy/pkg/filestore"
)

func TestWriteReadBootstrap_RoundTrips(t *testing.T) {
	store := filestore.New(t.TempDir())
	b := Bootstrap{Status: BootstrapStarting, StartedAt: "2026-07-29T00:00:00Z", RunID: "abc12345"}

	require.NoError(t, writeBootstrap(store, b))

	got, err := readBootstrap(store, "abc12345")
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestWritePIDFile(t *testing.T) {
	store := filestore.New(t.TempDir())
	require.NoError(t, writePIDFile(store, "abc12345", 4242))

	data, err := os.ReadFile(pidPath(store, "abc12345"))
	require.NoError(t, err)
	assert.Equal(t, "4242", string(data))
}
