package agent

import (
	"context"
)

// Agent answers a natural-language prompt, typically by querying the
// transactions database.
type Agent interface {
	Invoke(ctx context.Context, prompt string) (Result, error)
}

// Builder constructs an Agent. Construction fails with a KindConfiguration
// error when a credential or collaborator is missing.
type Builder interface {
	Build(ctx context.Context) (Agent, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context) (Agent, error)

// Build calls f.
func (f BuilderFunc) Build(ctx context.Context) (Agent, error) {
	return f(ctx)
}

// Static returns a Builder that always yields a.
func Static(a Agent) Builder {
	return BuilderFunc(func(context.Context) (Agent, error) { return a, nil })
}

// Ensure implementations satisfy Agent.
var (
	_ Agent = (*SQLAgent)(nil)
	_ Agent = (*GrpcClient)(nil)
)
