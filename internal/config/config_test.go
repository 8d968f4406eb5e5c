package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"CONFIG_FILE", "PORT", "FRONTEND_URL", "CORS_ORIGINS", "LOG_LEVEL",
	"MEMORY_BACKEND", "MEMORY_DB_PATH", "TXDB_DRIVER", "TXDB_DSN", "TXDB_INIT",
	"LLM_PROVIDER", "LLM_MODEL", "LLM_FALLBACK_PROVIDER", "LLM_FALLBACK_MODEL", "LLM_MAX_TOKENS",
	"OPENAI_BASE_URL", "GOOGLE_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
	"AGENT_ADDR", "AGENT_TIMEOUT", "AGENT_MAX_TOOL_CALLS", "HISTORY_WINDOW",
	"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
	"CONVERSATION_LOG_ENABLED", "CONVERSATION_LOG_DIR", "CONVERSATION_LOG_GLOBAL_ENABLED",
	"CONVERSATION_LOG_GLOBAL_PATH", "CONVERSATION_LOG_QUEUE_SIZE", "CONVERSATION_LOG_MAX_OPEN_FILES",
}

// clearEnv unsets every key Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, MemoryBackendMemory, cfg.Memory.Backend)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 60*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, 15, cfg.Agent.MaxToolCalls)
	assert.Equal(t, 6, cfg.Agent.HistoryWindow)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ORIGINS", "http://localhost:5173, https://finchat.example ")
	t.Setenv("MEMORY_BACKEND", "sqlite")
	t.Setenv("AGENT_TIMEOUT", "90")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("TXDB_INIT", "yes")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"http://localhost:5173", "https://finchat.example"}, cfg.CORSOrigins)
	assert.Equal(t, MemoryBackendSQLite, cfg.Memory.Backend)
	assert.Equal(t, 90*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.True(t, cfg.TxDB.Init)
	assert.Equal(t, "g-key", cfg.LLM.APIKey(""))
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
llm:
  provider: anthropic
  model: claude-sonnet-4-5
agent:
  timeout: 45s
  history_window: 4
conversation_log:
  enabled: true
  dir: /tmp/finchat-logs
`), 0o600))
	clearEnv(t)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7100")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Port, "environment wins over the file")
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, 4, cfg.Agent.HistoryWindow)
	assert.Equal(t, 15, cfg.Agent.MaxToolCalls, "unset keys keep defaults")
	assert.True(t, cfg.ConversationLog.Enabled)
	assert.Equal(t, "a-key", cfg.LLM.APIKey(cfg.LLM.Provider))
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Memory.Backend = "redis"
	cfg.Agent.Timeout = 0
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEMORY_BACKEND")
	assert.Contains(t, err.Error(), "AGENT_TIMEOUT")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("FINCHAT_TEST_BOOL", "maybe")
	t.Setenv("FINCHAT_TEST_INT", "x")
	t.Setenv("FINCHAT_TEST_DURATION", "2m")
	t.Setenv("FINCHAT_TEST_LIST", " , ")

	assert.True(t, getEnvBool("FINCHAT_TEST_BOOL", true))
	assert.Equal(t, 3, getEnvInt("FINCHAT_TEST_INT", 3))
	assert.Equal(t, 2*time.Minute, getEnvDuration("FINCHAT_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a"}, getEnvList("FINCHAT_TEST_LIST", []string{"a"}))
	assert.Equal(t, "fallback", getEnv("FINCHAT_TEST_UNSET", "fallback"))
}
