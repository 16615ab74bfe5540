// Package backend implements the subprocess and HTTP executors that a role
// dispatches a rendered prompt to (spec §4.3). Grounded on an OpenAI-style
// HTTP request shape and a subprocess-command execution pattern, generalized
// to the shared execute(prompt, cancel) -> Result contract every role
// strategy in package role needs.
package backend

import (
	"context"

	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/stepresult"
)

// Executor is the shared contract every backend kind implements: execute a
// rendered prompt and classify any failure. Implementations must be safe
// for concurrent use, since a parallel query step invokes every resolved
// backend at once.
type Executor interface {
	Name() string
	Execute(ctx context.Context, prompt string) (string, *stepresult.StepError)
}

// New builds the Executor for a named backend definition.
func New(name string, cfg config.Backend) (Executor, error) {
	switch cfg.Kind {
	case config.BackendCLI:
		return &cliExecutor{name: name, cfg: cfg}, nil
	case config.BackendHTTP:
		return &httpExecutor{name: name, cfg: cfg}, nil
	default:
		return nil, &Error{Component: "backend", Operation: "new", Message: "unknown backend kind: " + string(cfg.Kind)}
	}
}

// Error is an ambient (non-StepError) construction-time failure.
type Error struct {
	Component string
	Operation string
	Message   string
}

func (e *Error) Error() string { return e.Component + ":" + e.Operation + ": " + e.Message }
