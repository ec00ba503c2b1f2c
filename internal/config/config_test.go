package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoEnvironment(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "A", cfg.NodeID)
	assert.Equal(t, "serial", cfg.CCMode)
	assert.Equal(t, 8, cfg.CCWorkers)
	assert.Equal(t, 2, cfg.MaxRenewals)
	assert.Equal(t, ":5555", cfg.CCClientAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.False(t, cfg.Pretty)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	t.Setenv("NODE_ID", "B")
	t.Setenv("CC_MODE", "threaded")
	t.Setenv("CC_WORKERS", "16")
	t.Setenv("MAX_RENEWALS", "3")
	t.Setenv("PRETTY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "B", cfg.NodeID)
	assert.Equal(t, "threaded", cfg.CCMode)
	assert.Equal(t, 16, cfg.CCWorkers)
	assert.Equal(t, 3, cfg.MaxRenewals)
	assert.True(t, cfg.Pretty)
}

func TestLoadRejectsMalformedIntegerEnv(t *testing.T) {
	t.Setenv("CC_WORKERS", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
