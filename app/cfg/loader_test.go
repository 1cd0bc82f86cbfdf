package cfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}
}

func TestLoadArgsDefaults(t *testing.T) {
	cfg, err := LoadArgs([]string{})
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "./data/publisher.db", cfg.DBPath)
	assert.Equal(t, "./destinations", cfg.DestinationsDir)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Equal(t, 120*time.Second, cfg.PublishTimeout)
	assert.Equal(t, 24*time.Hour, cfg.ReplayTTL)
	assert.Same(t, cfg, Get())
}

func TestLoadArgsOverrides(t *testing.T) {
	cfg, err := LoadArgs([]string{
		"--db-path", "/tmp/test.db",
		"--worker-count", "8",
		"--publish-timeout", "15",
		"--redis-addr", "localhost:6379",
	})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 15*time.Second, cfg.PublishTimeout)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadArgsRejectsInvalidWorkerCount(t *testing.T) {
	_, err := LoadArgs([]string{"--worker-count", "0"})
	assert.Error(t, err)
}

func TestLoadArgsRejectsUnknownFlag(t *testing.T) {
	_, err := LoadArgs([]string{"--no-such-flag"})
	assert.Error(t, err)
}
