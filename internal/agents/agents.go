// Package agents defines the narrow contracts the workflow core uses to talk
// to language-model and tool capabilities. The core never sees prompting
// internals, token accounting, or model selection; it only calls Run and
// handles text or an error.
package agents

import "context"

// RunOptions carries optional per-invocation settings.
type RunOptions struct {
	// MaxIterations bounds internal tool-use loops; 0 means provider default.
	MaxIterations int
}

// RunOption mutates RunOptions.
type RunOption func(*RunOptions)

// WithMaxIterations bounds the agent's internal tool-use iterations.
func WithMaxIterations(n int) RunOption {
	return func(o *RunOptions) { o.MaxIterations = n }
}

// Agent is one language-model capability bound to a workflow role. Failures
// surface as errors; the calling step decides containment versus propagation.
type Agent interface {
	Run(ctx context.Context, prompt string, opts ...RunOption) (string, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, prompt string, opts ...RunOption) (string, error)

func (f AgentFunc) Run(ctx context.Context, prompt string, opts ...RunOption) (string, error) {
	return f(ctx, prompt, opts...)
}

// Pool bundles the four workflow roles. It is built once at startup and
// shared across runs; agents must be safe for concurrent use.
type Pool struct {
	Question Agent
	Answer   Agent
	Report   Agent
	Review   Agent
}
