package llm

import (
	"context"
	"log/slog"
)

// FallbackProvider tries providers in order, falling back on retryable errors.
type FallbackProvider struct {
	providers []Provider
}

// NewFallbackProvider creates a provider chain. The first provider is primary.
func NewFallbackProvider(providers ...Provider) *FallbackProvider {
	return &FallbackProvider{providers: providers}
}

func (f *FallbackProvider) Name() string {
	if len(f.providers) > 0 {
		return f.providers[0].Name() + "+fallback"
	}
	return "fallback"
}

func (f *FallbackProvider) DefaultModel() string {
	if len(f.providers) > 0 {
		return f.providers[0].DefaultModel()
	}
	return ""
}

// Chat sends req to each provider in turn until one succeeds or a
// non-retryable error is returned. The request model is cleared for
// fallbacks so each provider uses its own default.
func (f *FallbackProvider) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	var lastErr error
	for i, p := range f.providers {
		attempt := req
		if i > 0 {
			clone := *req
			clone.Model = ""
			attempt = &clone
		}

		resp, err := p.Chat(ctx, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		slog.Warn("LLM provider failed, trying next", "provider", p.Name(), "error", err)
	}
	return nil, lastErr
}
