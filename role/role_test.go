package role

import (
	"context"
	"testing"

	"github.com/ducks/llmux/backend"
	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/stepresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor lets tests script a backend's behavior without spawning a
// real subprocess or HTTP server.
type fakeExecutor struct {
	name  string
	calls int
	fn    func(call int) (string, *stepresult.StepError)
}

func (f *fakeExecutor) Name() string { return f.name }

func (f *fakeExecutor) Execute(ctx context.Context, prompt string) (string, *stepresult.StepError) {
	f.calls++
	return f.fn(f.calls)
}

func succeed(name, output string) *fakeExecutor {
	return &fakeExecutor{name: name, fn: func(int) (string, *stepresult.StepError) { return output, nil }}
}

func failWith(name string, kind stepresult.ErrorKind) *fakeExecutor {
	return &fakeExecutor{name: name, fn: func(int) (string, *stepresult.StepError) {
		return "", &stepresult.StepError{Kind: kind, Backend: name, Message: "boom"}
	}}
}

func TestResolveFirstTriesUntilSuccess(t *testing.T) {
	bad := failWith("claude", stepresult.KindAuthError)
	good := succeed("gpt4", "the answer")

	roles := map[string]config.Role{
		"reviewer": {Backends: []string{"claude", "gpt4"}, Execution: config.ExecFirst},
	}
	backends := map[string]backend.Executor{"claude": bad, "gpt4": good}

	r := NewResolver(roles, backends, nil)
	res := r.Resolve(context.Background(), "reviewer", "review", "prompt")

	require.False(t, res.Failed)
	assert.Equal(t, "the answer", res.Output)
	assert.Equal(t, "gpt4", res.Backend)
	assert.Equal(t, 1, bad.calls)
}

func TestResolveFallbackShortCircuitsOnPermanentError(t *testing.T) {
	permanent := failWith("claude", stepresult.KindAuthError)
	neverCalled := succeed("gpt4", "should not run")

	roles := map[string]config.Role{
		"reviewer": {Backends: []string{"claude", "gpt4"}, Execution: config.ExecFallback},
	}
	backends := map[string]backend.Executor{"claude": permanent, "gpt4": neverCalled}

	r := NewResolver(roles, backends, nil)
	res := r.Resolve(context.Background(), "reviewer", "review", "prompt")

	require.True(t, res.Failed)
	assert.Equal(t, stepresult.KindAuthError, res.Error.Kind)
	assert.Equal(t, 0, neverCalled.calls)
}

func TestResolveFallbackContinuesOnRetryableError(t *testing.T) {
	transient := failWith("claude", stepresult.KindRateLimit)
	good := succeed("gpt4", "fallback worked")

	roles := map[string]config.Role{
		"reviewer": {Backends: []string{"claude", "gpt4"}, Execution: config.ExecFallback},
	}
	backends := map[string]backend.Executor{"claude": transient, "gpt4": good}

	r := NewResolver(roles, backends, nil)
	res := r.Resolve(context.Background(), "reviewer", "review", "prompt")

	require.False(t, res.Failed)
	assert.Equal(t, "fallback worked", res.Output)
}

func TestResolveParallelGatherAllInDeclaredOrder(t *testing.T) {
	a := succeed("a", "result-a")
	b := failWith("b", stepresult.KindTimeout)
	c := succeed("c", "result-c")

	roles := map[string]config.Role{
		"panel": {Backends: []string{"a", "b", "c"}, Execution: config.ExecParallel, MinSuccess: 2},
	}
	backends := map[string]backend.Executor{"a": a, "b": b, "c": c}

	r := NewResolver(roles, backends, nil)
	res := r.Resolve(context.Background(), "panel", "query", "prompt")

	require.False(t, res.Failed)
	require.Len(t, res.Outputs, 3)
	assert.Equal(t, "a", res.Outputs[0].Backend)
	assert.Equal(t, "b", res.Outputs[1].Backend)
	assert.Equal(t, "c", res.Outputs[2].Backend)
	assert.True(t, res.Outputs[1].Failed)
	assert.Equal(t, 2, res.Outputs.SuccessCount())
}

func TestResolveParallelFailsBelowMinSuccess(t *testing.T) {
	a := failWith("a", stepresult.KindTimeout)
	b := failWith("b", stepresult.KindTimeout)

	roles := map[string]config.Role{
		"panel": {Backends: []string{"a", "b"}, Execution: config.ExecParallel, MinSuccess: 1},
	}
	backends := map[string]backend.Executor{"a": a, "b": b}

	r := NewResolver(roles, backends, nil)
	res := r.Resolve(context.Background(), "panel", "query", "prompt")

	require.True(t, res.Failed)
}

func TestResolveNoEnabledBackendsIsNoBackendsAvailable(t *testing.T) {
	roles := map[string]config.Role{
		"reviewer": {Backends: []string{"missing"}, Execution: config.ExecFirst},
	}
	r := NewResolver(roles, map[string]backend.Executor{}, nil)
	res := r.Resolve(context.Background(), "reviewer", "review", "prompt")

	require.True(t, res.Failed)
	assert.Equal(t, stepresult.KindNoBackendsAvail, res.Error.Kind)
}

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.acquire(context.Background()))
	done := make(chan struct{})
	go func() {
		require.NoError(t, sem.acquire(context.Background()))
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("second acquire should have blocked while capacity is 1 and held")
	default:
	}
	sem.release()
	<-done
	sem.release()
}
