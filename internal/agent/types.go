// Package agent implements the natural-language-to-SQL agent and the
// contract the conversation layer uses to call it.
package agent

import (
	"errors"
	"fmt"
)

// Result is what an agent returns: either plain text or a structured payload
// whose "output" field carries the answer.
type Result struct {
	text       string
	fields     map[string]any
	structured bool
}

// TextResult wraps a plain-text answer.
func TextResult(text string) Result {
	return Result{text: text}
}

// StructuredResult wraps a structured answer.
func StructuredResult(fields map[string]any) Result {
	return Result{fields: fields, structured: true}
}

// Structured reports whether the result is a structured payload.
func (r Result) Structured() bool { return r.structured }

// Fields returns the structured payload, or nil for a text result.
func (r Result) Fields() map[string]any { return r.fields }

// Reply normalizes the result to the reply string. A structured result must
// carry an "output" field; non-string outputs are formatted with fmt.
func (r Result) Reply() (string, error) {
	if !r.structured {
		return r.text, nil
	}
	out, ok := r.fields["output"]
	if !ok {
		return "", &Error{Kind: KindMalformedOutput, Op: "normalize", Err: ErrMissingOutput}
	}
	if s, ok := out.(string); ok {
		return s, nil
	}
	return fmt.Sprint(out), nil
}

// ErrMissingOutput is wrapped when a structured result has no "output" field.
var ErrMissingOutput = errors.New(`agent result has no "output" field`)

// Kind categorizes agent failures.
type Kind string

const (
	// KindConfiguration means the agent could not be constructed.
	KindConfiguration Kind = "configuration"
	// KindInvocation means the agent call itself failed.
	KindInvocation Kind = "invocation"
	// KindTimeout means the agent call exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindMalformedOutput means the agent answered with an unusable payload.
	KindMalformedOutput Kind = "malformed_output"
)

// Error is the single failure channel for agent construction and invocation.
type Error struct {
	Kind      Kind
	Op        string
	Err       error
	transient bool
}

func (e *Error) Error() string {
	if e.Op == "" {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || (e.Kind == KindInvocation && e.transient)
}

// ConfigurationError wraps a construction failure.
func ConfigurationError(err error) *Error {
	return &Error{Kind: KindConfiguration, Op: "build agent", Err: err}
}

// InvocationError wraps an invocation failure; transient marks it retryable.
func InvocationError(err error, transient bool) *Error {
	return &Error{Kind: KindInvocation, Op: "invoke agent", Err: err, transient: transient}
}

// TimeoutError wraps a deadline failure.
func TimeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Op: "invoke agent", Err: err}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Kind
	}
	return ""
}

// IsRetryable reports whether err is an agent error that may succeed later.
func IsRetryable(err error) bool {
	var agentErr *Error
	return errors.As(err, &agentErr) && agentErr.Retryable()
}
