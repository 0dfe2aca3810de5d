package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	require.NoError(t, err)
	require.Equal(t, Default(), d)
}

func TestLoadOverridesSelectively(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cantp.ini")
	content := "[cantp]\nsa = 0x03\ntimeout_ms = 500\nconnection = socketcan can0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint8(0x03), d.SourceAddress)
	require.Equal(t, uint8(0xFF), d.DestinationAddress)
	require.Equal(t, 500*time.Millisecond, d.Timeout)
	require.Equal(t, "socketcan can0", d.Connection)
}
