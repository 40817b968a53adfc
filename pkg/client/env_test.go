package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/logging"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("RUNLOG_API_URL", "http://127.0.0.1:9999")
	t.Setenv("RUNLOG_AGENT_NAME", "env-agent")
	t.Setenv("RUNLOG_BUFFER_DIR", "/tmp/env-buffer")
	t.Setenv("RUNLOG_STRICT", "true")
	t.Setenv("RUNLOG_MAX_RETRIES", "7")
	t.Setenv("RUNLOG_RETRY_BASE_DELAY", "0.5")
	t.Setenv("RUNLOG_CONNECT_TIMEOUT", "2s")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.BaseURL)
	assert.Equal(t, "env-agent", cfg.AgentName)
	assert.Equal(t, "/tmp/env-buffer", cfg.BufferDir)
	assert.True(t, cfg.Strict)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func TestNew_EnvFillsUnsetFields(t *testing.T) {
	t.Setenv("RUNLOG_API_URL", "http://127.0.0.1:9999")
	t.Setenv("RUNLOG_AGENT_NAME", "env-agent")
	t.Setenv("RUNLOG_MAX_RETRIES", "7")

	c, err := New(Config{Logger: logging.Nop()})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999", c.cfg.BaseURL)
	assert.Equal(t, "env-agent", c.cfg.AgentName)
	assert.Equal(t, 7, c.cfg.MaxRetries)
}

func TestNew_ExplicitFieldsBeatEnv(t *testing.T) {
	t.Setenv("RUNLOG_API_URL", "http://127.0.0.1:9999")
	t.Setenv("RUNLOG_AGENT_NAME", "env-agent")
	t.Setenv("RUNLOG_MAX_RETRIES", "7")

	c, err := New(Config{
		BaseURL:    "http://127.0.0.1:8787",
		AgentName:  "explicit-agent",
		MaxRetries: 2,
		Logger:     logging.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8787", c.cfg.BaseURL)
	assert.Equal(t, "explicit-agent", c.cfg.AgentName)
	assert.Equal(t, 2, c.cfg.MaxRetries)
}

func TestConfigFromEnv_RejectsBadValues(t *testing.T) {
	t.Setenv("RUNLOG_MAX_RETRIES", "banana")
	_, err := ConfigFromEnv()
	assert.ErrorContains(t, err, "RUNLOG_MAX_RETRIES")

	t.Setenv("RUNLOG_MAX_RETRIES", "3")
	t.Setenv("RUNLOG_RETRY_BASE_DELAY", "-1")
	_, err = ConfigFromEnv()
	assert.ErrorContains(t, err, "RUNLOG_RETRY_BASE_DELAY")
}

func TestEnvDuration_AcceptsSecondsAndDurations(t *testing.T) {
	t.Setenv("RUNLOG_CONNECT_TIMEOUT", "30")
	d, err := envDuration("RUNLOG_CONNECT_TIMEOUT")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	t.Setenv("RUNLOG_CONNECT_TIMEOUT", "250ms")
	d, err = envDuration("RUNLOG_CONNECT_TIMEOUT")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = envDuration("RUNLOG_UNSET_KEY")
	require.NoError(t, err)
	assert.Zero(t, d)
}
