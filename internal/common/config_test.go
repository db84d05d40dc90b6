package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 7070, config.Server.Port)
	assert.False(t, config.Broker.Offline)
	assert.Equal(t, 1000, config.Broker.MaxWorkers)

	timeout, err := config.RedeliveryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Minute, timeout)

	window, err := config.LivenessWindow()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, window)
}

func TestLoadFromFilesLayering(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	require.NoError(t, os.WriteFile(base, []byte(`
[server]
port = 8080

[broker]
max_workers = 50
`), 0644))

	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 9090
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Server.Port, "later file wins")
	assert.Equal(t, 50, config.Broker.MaxWorkers, "earlier file survives where not overridden")
	assert.Equal(t, "localhost", config.Server.Host, "defaults fill the gaps")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADITUS_MAX_WORKERS", "25")
	t.Setenv("ADITUS_OFFLINE", "true")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 25, config.Broker.MaxWorkers)
	assert.True(t, config.Broker.Offline)
}

func TestTestTaskRedeliveryCollapsesTimeout(t *testing.T) {
	config := DefaultConfig()
	config.Broker.TestTaskRedelivery = true

	timeout, err := config.RedeliveryTimeout()
	require.NoError(t, err)
	assert.Equal(t, time.Second, timeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	config := DefaultConfig()
	config.Server.Port = -1
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Broker.MaxWorkers = 0
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Broker.RedeliveryTimeout = "soon"
	assert.Error(t, config.Validate())
}

func TestDatabasePath(t *testing.T) {
	config := DefaultConfig()
	config.Database.URI = "/var/lib/aditus/"
	config.Database.Name = "analyses"
	assert.Equal(t, "/var/lib/aditus/analyses", config.DatabasePath())
}
