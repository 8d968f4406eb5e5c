package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/ashureev/finchat/internal/llm"
)

// ErrNoDatabase is returned when a SQL agent is built without a database.
var ErrNoDatabase = errors.New("transactions database is not configured")

// CachedBuilder memoizes the first successfully built Agent. Failed builds
// are not cached, so a credential added later is picked up by the next call.
type CachedBuilder struct {
	mu    sync.Mutex
	inner Builder
	agent Agent
}

// NewCachedBuilder wraps inner.
func NewCachedBuilder(inner Builder) *CachedBuilder {
	return &CachedBuilder{inner: inner}
}

// Build returns the cached agent or builds a new one. Errors are always
// reported as KindConfiguration.
func (c *CachedBuilder) Build(ctx context.Context) (Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agent != nil {
		return c.agent, nil
	}
	a, err := c.inner.Build(ctx)
	if err != nil {
		if KindOf(err) == KindConfiguration {
			return nil, err
		}
		return nil, ConfigurationError(err)
	}
	c.agent = a
	return a, nil
}

// Close releases the cached agent when it holds resources such as a
// network connection.
func (c *CachedBuilder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if closer, ok := c.agent.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// SQLAgentConfig describes how to build a SQLAgent.
type SQLAgentConfig struct {
	Primary  llm.Config
	Fallback *llm.Config
	Options  SQLAgentOptions
}

// SQLAgentBuilder builds SQL agents over db.
type SQLAgentBuilder struct {
	cfg    SQLAgentConfig
	db     Database
	logger *slog.Logger
}

// NewSQLAgentBuilder creates a builder. A nil db makes every Build fail with
// a configuration error.
func NewSQLAgentBuilder(cfg SQLAgentConfig, db Database, logger *slog.Logger) *SQLAgentBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLAgentBuilder{cfg: cfg, db: db, logger: logger}
}

// Build constructs the provider chain and the agent.
func (b *SQLAgentBuilder) Build(ctx context.Context) (Agent, error) {
	if b.db == nil {
		return nil, ConfigurationError(ErrNoDatabase)
	}

	provider, err := llm.NewProvider(ctx, b.cfg.Primary)
	if err != nil {
		return nil, ConfigurationError(err)
	}

	if b.cfg.Fallback != nil {
		fallback, err := llm.NewProvider(ctx, *b.cfg.Fallback)
		if err != nil {
			b.logger.Warn("Fallback LLM provider unavailable", "provider", b.cfg.Fallback.Provider, "error", err)
		} else {
			provider = llm.NewFallbackProvider(provider, fallback)
		}
	}

	opts := b.cfg.Options
	opts.Logger = b.logger
	b.logger.Info("SQL agent initialized", "provider", provider.Name(), "model", provider.DefaultModel())
	return NewSQLAgent(provider, b.db, opts), nil
}
