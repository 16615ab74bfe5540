package apply

import (
	"context"
	"os"
	"path/filepath"
	"testing"

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
	fn func(prompt string) (string, *stepresult.StepError)
}

func (f *fakeExecutor) Name() string { return "fixer" }

func (f *fakeExecutor) Execute(_ context.Context, prompt string) (string, *stepresult.StepError) {
	return f.fn(prompt)
}

func newResolver(t *testing.T, exec *fakeExecutor) *role.Resolver {
	t.Helper()
	roles := map[string]config.Role{
		"fixer": {Backends: []string{"fixer"}, Execution: config.ExecFirst, MinSuccess: 1},
	}
	backends := map[string]backend.Executor{"fixer": exec}
	return role.NewResolver(roles, backends, nil)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestApplyOldNewExactMatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc old() {}\n")

	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits: []workflow.InlineEdit{{File: "main.go", Old: "func old() {}", New: "func renamed() {}"}},
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.False(t, res.Failed)
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "func renamed() {}")
}

func TestApplyOldNewWhitespaceNormalizedFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc  old()  {}\n")

	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits: []workflow.InlineEdit{{File: "main.go", Old: "func old() {}", New: "func renamed() {}"}},
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.False(t, res.Failed)
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "func renamed() {}")
}

func TestApplyDiffExactMatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "line1\nline2\nline3\n")

	diff := "@@ -1,3 +1,3 @@\n line1\n-line2\n+changed\n line3\n"
	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits: []workflow.InlineEdit{{File: "main.go", Diff: diff}},
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.False(t, res.Failed)
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "line1\nchanged\nline3\n", string(got))
}

func TestApplyDiffFuzzyWindowMatch(t *testing.T) {
	dir := t.TempDir()
	// Hunk claims line 1 but the real content has drifted down by 5 lines.
	writeFile(t, dir, "main.go", "a\nb\nc\nd\ne\nline1\nline2\nline3\n")

	diff := "@@ -1,3 +1,3 @@\n line1\n-line2\n+changed\n line3\n"
	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits: []workflow.InlineEdit{{File: "main.go", Diff: diff}},
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.False(t, res.Failed)
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "changed")
	assert.NotContains(t, string(got), "line2")
}

func TestApplyFileNotFound(t *testing.T) {
	dir := t.TempDir()
	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits: []workflow.InlineEdit{{File: "missing.go", Old: "a", New: "b"}},
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.True(t, res.Failed)
	assert.Equal(t, stepresult.KindFileNotFound, res.Error.Kind)
}

func TestApplyEditNotApplied(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits: []workflow.InlineEdit{{File: "main.go", Old: "does not exist anywhere", New: "x"}},
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.True(t, res.Failed)
	assert.Equal(t, stepresult.KindEditNotApplied, res.Error.Kind)
}

func TestApplyFullFileReplacementCreatesNewFile(t *testing.T) {
	dir := t.TempDir()
	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits: []workflow.InlineEdit{{File: "new.go", Content: "package main\n"}},
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.False(t, res.Failed)
	got, err := os.ReadFile(filepath.Join(dir, "new.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(got))
}

func TestApplyEditSetFromFencedJSONOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\nfunc old() {}\n")
	wf := &workflow.Workflow{Steps: []workflow.Step{
		{Name: "produce", Type: workflow.StepQuery, Role: "fixer", Prompt: "go"},
	}}
	step := &workflow.Step{Name: "apply", Type: workflow.StepApply, Source: "produce"}
	a := New(wf, nil, dir)

	tctx := template.Context{Steps: map[string]*stepresult.StepResult{
		"produce": {StepName: "produce", Output: "here you go:\n```json\n{\"edits\": [{\"file\": \"main.go\", \"old\": \"old\", \"new\": \"fixed\"}]}\n```\n"},
	}}
	res := a.Apply(context.Background(), step, tctx)

	require.False(t, res.Failed)
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\nfunc fixed() {}\n", string(got))
}

func TestApplyAmbiguousMatchFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "foo\nfoo\n")
	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits: []workflow.InlineEdit{{File: "main.go", Old: "foo", New: "bar"}},
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.True(t, res.Failed)
	assert.Equal(t, stepresult.KindEditNotApplied, res.Error.Kind)
}

func TestApplyVerifySucceedsFirstTry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\nfunc old() {}\n")
	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits:  []workflow.InlineEdit{{File: "main.go", Old: "func old() {}", New: "func renamed() {}"}},
		Verify: "grep -q renamed main.go",
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.False(t, res.Failed)
	assert.Equal(t, 1, res.Attempt)
}

func TestApplyVerifyFailsRetriesAgainstOriginalPreimage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\nfunc old() {}\n")

	source := &workflow.Step{Name: "gen", Type: workflow.StepQuery, Role: "fixer", Prompt: "fix it"}
	applyStep := &workflow.Step{
		Name: "fix", Type: workflow.StepApply, Source: "gen",
		DependsOn:     []string{"gen"},
		Verify:        "grep -q actually_fixed main.go",
		VerifyRetries: 1,
	}
	w := &workflow.Workflow{Steps: []workflow.Step{*source, *applyStep}}

	calls := 0
	exec := &fakeExecutor{fn: func(string) (string, *stepresult.StepError) {
		calls++
		return `{"edits":[{"file":"main.go","old":"func old() {}","new":"func actually_fixed() {}"}]}`, nil
	}}

	// The first edit set comes from gen's recorded output; the executor is
	// only called for the re-invocation after the first verify failure.
	firstResult := &stepresult.StepResult{Output: `{"edits":[{"file":"main.go","old":"func old() {}","new":"func still_broken() {}"}]}`}
	tctx := template.Context{Steps: map[string]*stepresult.StepResult{"gen": firstResult}}

	a := New(w, newResolver(t, exec), dir)
	res := a.Apply(context.Background(), applyStep, tctx)

	require.False(t, res.Failed)
	assert.Equal(t, 2, res.Attempt)
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "func actually_fixed() {}")
	assert.NotContains(t, string(got), "still_broken")
	assert.Equal(t, 1, calls)
}

func TestApplyVerifyExhaustsRetriesAndRollsBack(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\nfunc old() {}\n")

	source := &workflow.Step{Name: "gen", Type: workflow.StepQuery, Role: "fixer", Prompt: "fix it"}
	applyStep := &workflow.Step{
		Name: "fix", Type: workflow.StepApply, Source: "gen",
		DependsOn:         []string{"gen"},
		Verify:            "grep -q never_happens main.go",
		VerifyRetries:     1,
		RollbackOnFailure: true,
	}
	w := &workflow.Workflow{Steps: []workflow.Step{*source, *applyStep}}

	exec := &fakeExecutor{fn: func(string) (string, *stepresult.StepError) {
		return `{"edits":[{"file":"main.go","old":"func old() {}","new":"func still_broken() {}"}]}`, nil
	}}
	firstResult := &stepresult.StepResult{Output: `{"edits":[{"file":"main.go","old":"func old() {}","new":"func still_broken() {}"}]}`}
	tctx := template.Context{Steps: map[string]*stepresult.StepResult{"gen": firstResult}}

	a := New(w, newResolver(t, exec), dir)
	res := a.Apply(context.Background(), applyStep, tctx)

	require.True(t, res.Failed)
	assert.Equal(t, stepresult.KindVerificationFailed, res.Error.Kind)
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\nfunc old() {}\n", string(got))
}

func TestApplyVerifyFailsNoRollbackLeavesCommittedState(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\nfunc old() {}\n")

	step := &workflow.Step{
		Name: "fix", Type: workflow.StepApply,
		Edits:         []workflow.InlineEdit{{File: "main.go", Old: "func old() {}", New: "func still_broken() {}"}},
		Verify:        "grep -q never_happens main.go",
		VerifyRetries: 0,
	}
	a := New(&workflow.Workflow{}, nil, dir)
	res := a.Apply(context.Background(), step, template.Context{})

	require.True(t, res.Failed)
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "still_broken")
}
