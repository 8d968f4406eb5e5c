// Package config provides application configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file
// named by CONFIG_FILE, then environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Memory backends.
const (
	MemoryBackendMemory = "memory"
	MemoryBackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Port            string                `yaml:"port"`
	FrontendURL     string                `yaml:"frontend_url"`
	CORSOrigins     []string              `yaml:"cors_origins"`
	LogLevel        string                `yaml:"log_level"`
	Memory          MemoryConfig          `yaml:"memory"`
	TxDB            TxDBConfig            `yaml:"txdb"`
	LLM             LLMConfig             `yaml:"llm"`
	Agent           AgentConfig           `yaml:"agent"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	ConversationLog ConversationLogConfig `yaml:"conversation_log"`
}

// MemoryConfig selects the session memory backend.
type MemoryConfig struct {
	Backend string `yaml:"backend"`
	DBPath  string `yaml:"db_path"`
}

// TxDBConfig points at the transactions database the SQL agent queries.
type TxDBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Init   bool   `yaml:"init"`
}

// LLMConfig selects the model provider. API keys are only read from the
// environment.
type LLMConfig struct {
	Provider         string `yaml:"provider"`
	Model            string `yaml:"model"`
	FallbackProvider string `yaml:"fallback_provider"`
	FallbackModel    string `yaml:"fallback_model"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	MaxTokens        int    `yaml:"max_tokens"`

	GoogleAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
}

// AgentConfig controls agent invocation.
type AgentConfig struct {
	// Addr, when set, routes prompts to a remote agent over gRPC instead of
	// the in-process SQL agent.
	Addr          string        `yaml:"addr"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxToolCalls  int           `yaml:"max_tool_calls"`
	HistoryWindow int           `yaml:"history_window"`
}

// RateLimitConfig bounds chat requests per client. Requests <= 0 disables
// limiting.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	GlobalEnabled bool   `yaml:"global_enabled"`
	GlobalPath    string `yaml:"global_path"`
	QueueSize     int    `yaml:"queue_size"`
	MaxOpenFiles  int    `yaml:"max_open_files"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:        "8000",
		CORSOrigins: []string{"*"},
		LogLevel:    "info",
		Memory: MemoryConfig{
			Backend: MemoryBackendMemory,
			DBPath:  "./data/memory.db",
		},
		TxDB: TxDBConfig{
			Driver: "sqlite",
			DSN:    "./data/transactions.db",
		},
		LLM: LLMConfig{
			Provider: "gemini",
		},
		Agent: AgentConfig{
			Timeout:       60 * time.Second,
			MaxToolCalls:  15,
			HistoryWindow: 6,
		},
		RateLimit: RateLimitConfig{
			Requests: 30,
			Window:   time.Minute,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:      false,
			Dir:          "./data/logs/conversations",
			GlobalPath:   "./data/logs/conversations/all.ndjson",
			QueueSize:    1000,
			MaxOpenFiles: 64,
		},
	}
}

// Load reads configuration from CONFIG_FILE (if set) and the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Memory.Backend = getEnv("MEMORY_BACKEND", c.Memory.Backend)
	c.Memory.DBPath = getEnv("MEMORY_DB_PATH", c.Memory.DBPath)

	c.TxDB.Driver = getEnv("TXDB_DRIVER", c.TxDB.Driver)
	c.TxDB.DSN = getEnv("TXDB_DSN", c.TxDB.DSN)
	c.TxDB.Init = getEnvBool("TXDB_INIT", c.TxDB.Init)

	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.FallbackProvider = getEnv("LLM_FALLBACK_PROVIDER", c.LLM.FallbackProvider)
	c.LLM.FallbackModel = getEnv("LLM_FALLBACK_MODEL", c.LLM.FallbackModel)
	c.LLM.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.LLM.OpenAIBaseURL)
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.GoogleAPIKey = getEnv("GOOGLE_API_KEY", c.LLM.GoogleAPIKey)
	c.LLM.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.LLM.AnthropicAPIKey)
	c.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.LLM.OpenAIAPIKey)

	c.Agent.Addr = getEnv("AGENT_ADDR", c.Agent.Addr)
	c.Agent.Timeout = getEnvDuration("AGENT_TIMEOUT", c.Agent.Timeout)
	c.Agent.MaxToolCalls = getEnvInt("AGENT_MAX_TOOL_CALLS", c.Agent.MaxToolCalls)
	c.Agent.HistoryWindow = getEnvInt("HISTORY_WINDOW", c.Agent.HistoryWindow)

	c.RateLimit.Requests = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.Requests)
	c.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", c.ConversationLog.GlobalEnabled)
	c.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", c.ConversationLog.GlobalPath)
	c.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize)
	c.ConversationLog.MaxOpenFiles = getEnvInt("CONVERSATION_LOG_MAX_OPEN_FILES", c.ConversationLog.MaxOpenFiles)
}

// Validate checks that all required configuration fields are set. Missing
// LLM credentials are not an error here: they surface per request as an
// agent configuration failure.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	switch c.Memory.Backend {
	case MemoryBackendMemory:
	case MemoryBackendSQLite:
		if c.Memory.DBPath == "" {
			errs = append(errs, errors.New("MEMORY_DB_PATH cannot be empty for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("MEMORY_BACKEND must be %q or %q, got %q", MemoryBackendMemory, MemoryBackendSQLite, c.Memory.Backend))
	}
	if c.Agent.Timeout <= 0 {
		errs = append(errs, errors.New("AGENT_TIMEOUT must be > 0"))
	}
	if c.Agent.MaxToolCalls <= 0 {
		errs = append(errs, errors.New("AGENT_MAX_TOOL_CALLS must be > 0"))
	}
	if c.Agent.HistoryWindow <= 0 {
		errs = append(errs, errors.New("HISTORY_WINDOW must be > 0"))
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be > 0 when rate limiting is enabled"))
	}
	if c.ConversationLog.Enabled {
		if c.ConversationLog.Dir == "" {
			errs = append(errs, errors.New("CONVERSATION_LOG_DIR cannot be empty"))
		}
		if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
			errs = append(errs, errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty"))
		}
		if c.ConversationLog.QueueSize <= 0 {
			errs = append(errs, errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0"))
		}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// APIKey returns the credential for an LLM provider name.
func (c LLMConfig) APIKey(provider string) string {
	switch strings.ToLower(provider) {
	case "", "gemini", "google":
		return c.GoogleAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai", "openrouter", "local":
		return c.OpenAIAPIKey
	default:
		return ""
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not a valid level", s)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare integers are seconds.
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
