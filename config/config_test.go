package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("HEARTBEAT_INTERVAL", "")
	t.Setenv("MAX_QUEUED_MESSAGES", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "/ws", cfg.WSPath)
	require.Equal(t, 30*time.Second, cfg.HeartbeatPeriod)
	require.Equal(t, 64, cfg.MaxQueuedMsgs)
	require.Equal(t, 15*time.Second, cfg.SetupTimeout)
}

func TestLoadConfig_RequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("HEARTBEAT_INTERVAL", "5")
	t.Setenv("MAX_QUEUED_MESSAGES", "8")
	t.Setenv("WS_PATH", "/session")
	t.Setenv("SETUP_TIMEOUT", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.HeartbeatPeriod)
	require.Equal(t, 8, cfg.MaxQueuedMsgs)
	require.Equal(t, "/session", cfg.WSPath)
	require.Equal(t, 3*time.Second, cfg.SetupTimeout)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	t.Setenv("MAX_QUEUED_MESSAGES", "0")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("MAX_QUEUED_MESSAGES", "nope")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("MAX_QUEUED_MESSAGES", "4")
	t.Setenv("WS_PATH", "session")
	_, err = LoadConfig()
	require.Error(t, err)
}
