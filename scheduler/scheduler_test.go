package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ducks/llmux/backend"
	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/role"
	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/template"
	"github.com/ducks/llmux/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	name  string
	calls int32
	fn    func(prompt string) (string, *stepresult.StepError)
}

func (f *fakeExecutor) Name() string { return f.name }

func (f *fakeExecutor) Execute(_ context.Context, prompt string) (string, *stepresult.StepError) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(prompt)
}

func newResolver(t *testing.T, exec *fakeExecutor) *role.Resolver {
	t.Helper()
	roles := map[string]config.Role{
		"reviewer": {Backends: []string{exec.name}, Execution: config.ExecFirst, MinSuccess: 1},
	}
	backends := map[string]backend.Executor{exec.name: exec}
	return role.NewResolver(roles, backends, nil)
}

func wf(t *testing.T, steps ...workflow.Step) *workflow.Workflow {
	t.Helper()
	w := &workflow.Workflow{Name: "test", Steps: steps}
	require.NoError(t, w.Validate())
	return w
}

func TestRunSequentialDependencyChain(t *testing.T) {
	exec := &fakeExecutor{name: "echoer", fn: func(prompt string) (string, *stepresult.StepError) {
		return "reviewed: " + prompt, nil
	}}
	w := wf(t,
		workflow.Step{Name: "diff", Type: workflow.StepShell, Run: "echo hello"},
		workflow.Step{Name: "review", Type: workflow.StepQuery, Role: "reviewer",
			Prompt: "{{ steps.diff.output | trim }}", DependsOn: []string{"diff"}},
	)
	s := New(w, newResolver(t, exec), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{})

	require.NotNil(t, results["diff"])
	assert.False(t, results["diff"].Failed)
	assert.Equal(t, "hello\n", results["diff"].Output)

	require.NotNil(t, results["review"])
	assert.False(t, results["review"].Failed)
	assert.Equal(t, "reviewed: hello", results["review"].Output)
}

func TestRunBlocksDependentOnFailedDependency(t *testing.T) {
	exec := &fakeExecutor{name: "echoer", fn: func(string) (string, *stepresult.StepError) {
		return "should not be called", nil
	}}
	w := wf(t,
		workflow.Step{Name: "diff", Type: workflow.StepShell, Run: "false"},
		workflow.Step{Name: "review", Type: workflow.StepQuery, Role: "reviewer",
			Prompt: "{{ steps.diff.output }}", DependsOn: []string{"diff"}},
	)
	s := New(w, newResolver(t, exec), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{})

	assert.True(t, results["diff"].Failed)
	assert.True(t, results["review"].Blocked)
	assert.Equal(t, stepresult.KindDependencyFailed, results["review"].Error.Kind)
	assert.Equal(t, int32(0), atomic.LoadInt32(&exec.calls))
}

func TestRunContinueOnErrorAllowsDependents(t *testing.T) {
	exec := &fakeExecutor{name: "echoer", fn: func(string) (string, *stepresult.StepError) {
		return "ran anyway", nil
	}}
	w := wf(t,
		workflow.Step{Name: "diff", Type: workflow.StepShell, Run: "false", ContinueOnError: true},
		workflow.Step{Name: "review", Type: workflow.StepQuery, Role: "reviewer",
			Prompt: "unconditional", DependsOn: []string{"diff"}},
	)
	s := New(w, newResolver(t, exec), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{})

	assert.True(t, results["diff"].Failed)
	assert.False(t, results["review"].Blocked)
	assert.Equal(t, "ran anyway", results["review"].Output)
}

func TestRunIfConditionSkipsStep(t *testing.T) {
	exec := &fakeExecutor{name: "echoer", fn: func(string) (string, *stepresult.StepError) {
		return "should not run", nil
	}}
	w := wf(t,
		workflow.Step{Name: "diff", Type: workflow.StepShell, Run: "true"},
		workflow.Step{Name: "review", Type: workflow.StepQuery, Role: "reviewer", Prompt: "x",
			If: "steps.diff.failed", DependsOn: []string{"diff"}},
	)
	s := New(w, newResolver(t, exec), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{})

	assert.True(t, results["review"].Skipped)
	assert.Equal(t, int32(0), atomic.LoadInt32(&exec.calls))
}

func TestRunForEachCollectsItems(t *testing.T) {
	w := wf(t,
		workflow.Step{Name: "each", Type: workflow.StepShell, Run: "echo {{ item }}", ForEach: "args.names"},
	)
	s := New(w, newResolver(t, &fakeExecutor{name: "unused", fn: func(string) (string, *stepresult.StepError) { return "", nil }}), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{Args: map[string]any{"names": []any{"a", "b", "c"}}})

	require.Len(t, results["each"].Items, 3)
	assert.Equal(t, "a\n", results["each"].Items[0].Output)
	assert.Equal(t, "b\n", results["each"].Items[1].Output)
	assert.Equal(t, "c\n", results["each"].Items[2].Output)
}

func TestRunCancelledContextProducesCancelledResults(t *testing.T) {
	w := wf(t, workflow.Step{Name: "diff", Type: workflow.StepShell, Run: "echo hi"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(w, newResolver(t, &fakeExecutor{name: "unused", fn: func(string) (string, *stepresult.StepError) { return "", nil }}), nil, nil, 0)
	results := s.Run(ctx, RunContext{})

	assert.True(t, results["diff"].Cancelled)
	assert.Equal(t, stepresult.KindCancelled, results["diff"].Error.Kind)
}

func TestRunRespectsWorkerConcurrencyCap(t *testing.T) {
	slowRun := "sleep 0.05"
	w := wf(t,
		workflow.Step{Name: "a", Type: workflow.StepShell, Run: slowRun},
		workflow.Step{Name: "b", Type: workflow.StepShell, Run: slowRun},
		workflow.Step{Name: "c", Type: workflow.StepShell, Run: slowRun},
	)
	s := New(w, newResolver(t, &fakeExecutor{name: "unused", fn: func(string) (string, *stepresult.StepError) { return "", nil }}), nil, nil, 1)

	start := time.Now()
	results := s.Run(context.Background(), RunContext{})
	elapsed := time.Since(start)

	for _, name := range []string{"a", "b", "c"} {
		assert.False(t, results[name].Failed, "step %s failed: %v", name, results[name].Error)
	}
	// Three 50ms steps serialized by a worker cap of 1 take close to 150ms;
	// run unbounded (cap 0) they would finish in roughly 50ms.
	assert.GreaterOrEqual(t, elapsed, 140*time.Millisecond)
}

func TestApplierAndMemoryStoreAreInvokedForTheirStepTypes(t *testing.T) {
	applyCalled := false
	storeCalled := false
	w := wf(t,
		workflow.Step{Name: "edit", Type: workflow.StepApply, Source: "nonexistent"},
		workflow.Step{Name: "remember", Type: workflow.StepStore, Prompt: "note this"},
	)
	s := New(w, newResolver(t, &fakeExecutor{name: "unused", fn: func(string) (string, *stepresult.StepError) { return "", nil }}),
		applierFunc(func(_ context.Context, step *workflow.Step, _ template.Context) *stepresult.StepResult {
			applyCalled = true
			return &stepresult.StepResult{StepName: step.Name, Output: "applied"}
		}),
		memoryFunc(func(_ context.Context, _ string, step *workflow.Step, _ template.Context) *stepresult.StepResult {
			storeCalled = true
			return &stepresult.StepResult{StepName: step.Name, Output: "stored"}
		}),
		0,
	)
	results := s.Run(context.Background(), RunContext{})

	assert.True(t, applyCalled)
	assert.True(t, storeCalled)
	assert.Equal(t, "applied", results["edit"].Output)
	assert.Equal(t, "stored", results["remember"].Output)
}

func TestQueryStepOutputSchemaMismatchFails(t *testing.T) {
	exec := &fakeExecutor{name: "echoer", fn: func(string) (string, *stepresult.StepError) {
		return `{"action": 5}`, nil
	}}
	w := wf(t,
		workflow.Step{Name: "plan", Type: workflow.StepQuery, Role: "reviewer", Prompt: "go",
			OutputSchema: map[string]any{
				"type":     "object",
				"required": []any{"action"},
				"properties": map[string]any{
					"action": map[string]any{"type": "string"},
				},
			}},
	)
	s := New(w, newResolver(t, exec), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{})

	require.True(t, results["plan"].Failed)
	assert.Equal(t, stepresult.KindOutputParseFailed, results["plan"].Error.Kind)
}

func TestQueryStepOutputSchemaMatchSucceeds(t *testing.T) {
	exec := &fakeExecutor{name: "echoer", fn: func(string) (string, *stepresult.StepError) {
		return "here is the plan: ```json\n{\"action\": \"build\"}\n```", nil
	}}
	w := wf(t,
		workflow.Step{Name: "plan", Type: workflow.StepQuery, Role: "reviewer", Prompt: "go",
			OutputSchema: map[string]any{
				"type":     "object",
				"required": []any{"action"},
			}},
	)
	s := New(w, newResolver(t, exec), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{})

	require.False(t, results["plan"].Failed)
}

func TestQueryStepRetriesOnRateLimitUpToRetries(t *testing.T) {
	var calls int32
	exec := &fakeExecutor{name: "flaky", fn: func(string) (string, *stepresult.StepError) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", &stepresult.StepError{Kind: stepresult.KindRateLimit}
		}
		return "ok", nil
	}}
	w := wf(t,
		workflow.Step{Name: "ask", Type: workflow.StepQuery, Role: "reviewer", Prompt: "go",
			Retries: 1, RetryDelayMS: 1},
	)
	s := New(w, newResolver(t, exec), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{})

	require.False(t, results["ask"].Failed)
	assert.Equal(t, "ok", results["ask"].Output)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueryStepWithOutputSchemaAppendsFormatInstructions(t *testing.T) {
	var seenPrompt string
	exec := &fakeExecutor{name: "echoer", fn: func(prompt string) (string, *stepresult.StepError) {
		seenPrompt = prompt
		return `{"action": "build"}`, nil
	}}
	w := wf(t,
		workflow.Step{Name: "plan", Type: workflow.StepQuery, Role: "reviewer", Prompt: "decide",
			OutputSchema: map[string]any{"type": "object", "required": []any{"action"}}},
	)
	s := New(w, newResolver(t, exec), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{})

	require.False(t, results["plan"].Failed)
	assert.Contains(t, seenPrompt, "decide")
	assert.Contains(t, seenPrompt, "MUST respond with valid JSON")
}

func TestQueryStepDoesNotRetryKindOutsideRetryOn(t *testing.T) {
	var calls int32
	exec := &fakeExecutor{name: "flaky", fn: func(string) (string, *stepresult.StepError) {
		atomic.AddInt32(&calls, 1)
		return "", &stepresult.StepError{Kind: stepresult.KindAuthError}
	}}
	w := wf(t,
		workflow.Step{Name: "ask", Type: workflow.StepQuery, Role: "reviewer", Prompt: "go",
			Retries: 3, RetryDelayMS: 1},
	)
	s := New(w, newResolver(t, exec), nil, nil, 0)
	results := s.Run(context.Background(), RunContext{})

	require.True(t, results["ask"].Failed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type applierFunc func(ctx context.Context, step *workflow.Step, tctx template.Context) *stepresult.StepResult

func (f applierFunc) Apply(ctx context.Context, step *workflow.Step, tctx template.Context) *stepresult.StepResult {
	return f(ctx, step, tctx)
}

type memoryFunc func(ctx context.Context, ecosystem string, step *workflow.Step, tctx template.Context) *stepresult.StepResult

func (f memoryFunc) Store(ctx context.Context, ecosystem string, step *workflow.Step, tctx template.Context) *stepresult.StepResult {
	return f(ctx, ecosystem, step, tctx)
}
