package llm

import (
	"context"
	"errors"
	"strings"
)

// Provider is the interface all LLM backends implement.
type Provider interface {
	// Chat sends a chat completion request and returns the full response.
	Chat(ctx context.Context, req *ChatRequest) (*Response, error)

	// Name returns the provider name (e.g. "gemini", "anthropic").
	Name() string

	// DefaultModel returns the model used when a request leaves Model empty.
	DefaultModel() string
}

// ErrorType classifies provider errors so callers can decide whether to retry.
type ErrorType int

const (
	ErrorUnknown      ErrorType = iota
	ErrorRateLimit              // 429
	ErrorAuth                   // 401/403
	ErrorInvalidInput           // 400
	ErrorServerError            // 500+
	ErrorTimeout                // context deadline exceeded
	ErrorNetwork                // connection refused, DNS, etc.
)

func (t ErrorType) String() string {
	switch t {
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorAuth:
		return "auth"
	case ErrorInvalidInput:
		return "invalid_input"
	case ErrorServerError:
		return "server_error"
	case ErrorTimeout:
		return "timeout"
	case ErrorNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error wraps a provider error with its classification.
type Error struct {
	Type     ErrorType
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Provider + ": " + e.Err.Error()
	}
	return e.Provider + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	switch e.Type {
	case ErrorRateLimit, ErrorServerError, ErrorTimeout, ErrorNetwork:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a classified provider error that may
// succeed on retry.
func IsRetryable(err error) bool {
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		return false
	}
	return llmErr.Retryable()
}

// classify maps a raw SDK error onto an ErrorType by inspecting its message.
// The SDKs expose different typed errors; their messages all carry the HTTP
// status or a recognizable phrase.
func classify(provider string, err error) *Error {
	llmErr := &Error{Provider: provider, Err: err, Message: err.Error()}

	if errors.Is(err, context.DeadlineExceeded) {
		llmErr.Type = ErrorTimeout
		return llmErr
	}

	lower := strings.ToLower(llmErr.Message)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "permission_denied") || strings.Contains(lower, "api key not valid"):
		llmErr.Type = ErrorAuth
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") || strings.Contains(lower, "resource_exhausted"):
		llmErr.Type = ErrorRateLimit
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid"):
		llmErr.Type = ErrorInvalidInput
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "unavailable"):
		llmErr.Type = ErrorServerError
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		llmErr.Type = ErrorTimeout
	case strings.Contains(lower, "connection") || strings.Contains(lower, "dns") ||
		strings.Contains(lower, "refused") || strings.Contains(lower, "no such host"):
		llmErr.Type = ErrorNetwork
	default:
		llmErr.Type = ErrorUnknown
	}
	return llmErr
}
