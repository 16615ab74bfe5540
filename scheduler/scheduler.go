// Package scheduler drives a parsed workflow's step DAG to completion:
// ready-set computation over depends_on, declaration-order tie-breaking
// among ready steps, a worker-pool concurrency cap, failure propagation
// into blocked StepResults, and cooperative cancellation draining (spec
// §4.1, §5). Grounded on a sequential step-runner pattern and the
// now-absorbed DAGExecutor shape, generalized from a linear-order stub into
// genuine dependency-driven concurrent scheduling.
package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ducks/llmux/role"
	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/template"
	"github.com/ducks/llmux/workflow"
)

// RunContext carries the per-invocation values a template renders against
// that the workflow file itself does not declare: resolved CLI args,
// process environment, the active team/ecosystem names (spec §4.5 "Render
// context roots").
type RunContext struct {
	RunID     string
	Args      map[string]any
	Env       map[string]string
	Team      string
	Ecosystem string
}

// Applier executes an "apply" step: staged edits, verification, and
// rollback (spec §4.4). Implemented by package apply; kept as an interface
// here so scheduler has no import-time dependency on the file-editing
// machinery, following the pattern of injecting tool implementations into
// an executor rather than constructing them inline.
type Applier interface {
	Apply(ctx context.Context, step *workflow.Step, tctx template.Context) *stepresult.StepResult
}

// MemoryStore executes a "store" step against the persistent fact/
// relationship store scoped to an ecosystem (spec §4.8).
type MemoryStore interface {
	Store(ctx context.Context, ecosystem string, step *workflow.Step, tctx template.Context) *stepresult.StepResult
}

// Scheduler runs one parsed Workflow to completion against a role
// Resolver and the pluggable apply/memory collaborators.
type Scheduler struct {
	wf       *workflow.Workflow
	resolver *role.Resolver
	applier  Applier
	memory   MemoryStore
	workers  int
}

// New builds a Scheduler. workers <= 0 means every ready step may run at
// once (bounded only by role.Semaphore at the backend-call layer).
func New(wf *workflow.Workflow, resolver *role.Resolver, applier Applier, memory MemoryStore, workers int) *Scheduler {
	if workers <= 0 {
		workers = len(wf.Steps)
		if workers == 0 {
			workers = 1
		}
	}
	return &Scheduler{wf: wf, resolver: resolver, applier: applier, memory: memory, workers: workers}
}

type namedResult struct {
	name string
	res  *stepresult.StepResult
}

// Run drives every step to completion (or to a blocked/cancelled result)
// and returns the full by-name result set. It never returns a non-nil
// error itself: a cancelled context surfaces as Cancelled StepResults, the
// same single-commit-path contract package role follows.
func (s *Scheduler) Run(ctx context.Context, rc RunContext) map[string]*stepresult.StepResult {
	total := len(s.wf.Steps)
	results := make(map[string]*stepresult.StepResult, total)
	scheduled := make(map[string]bool, total)
	doneCh := make(chan namedResult, total)
	inFlight := 0
	remaining := total

	isCancelled := func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	// dispatch is only ever called from this single goroutine: it is the
	// sole writer of results/scheduled/inFlight/remaining, so none of
	// those need a mutex. Per-step goroutines only read an immutable
	// snapshot of their own dependencies' results.
	dispatch := func() {
		cancelled := isCancelled()
		for i := range s.wf.Steps {
			step := &s.wf.Steps[i]
			if scheduled[step.Name] {
				continue
			}
			if cancelled {
				scheduled[step.Name] = true
				remaining--
				results[step.Name] = &stepresult.StepResult{
					StepName:  step.Name,
					Failed:    true,
					Cancelled: true,
					Error: &stepresult.StepError{
						Kind:    stepresult.KindCancelled,
						Message: "run cancelled before step started",
					},
				}
				continue
			}
			if inFlight >= s.workers {
				continue
			}
			gate, blockedBy := s.gate(step, results)
			switch gate {
			case gateWaiting:
				continue
			case gateBlocked:
				scheduled[step.Name] = true
				remaining--
				results[step.Name] = stepresult.NewBlocked(step.Name, blockedBy)
			case gateReady:
				scheduled[step.Name] = true
				inFlight++
				deps := depSnapshot(step, results)
				go func(step *workflow.Step) {
					doneCh <- namedResult{name: step.Name, res: s.runStep(ctx, step, rc, deps)}
				}(step)
			}
		}
	}

	dispatch()
	for remaining > 0 {
		nr := <-doneCh
		results[nr.name] = nr.res
		remaining--
		inFlight--
		dispatch()
	}
	return results
}

// templateContext builds the frozen per-step render context (spec §4.5).
// groups are resolved only against deps, the step's declared dependencies:
// a {{ groups.X }} reference is only guaranteed resolvable when every step
// in group X is also named in the referencing step's depends_on.
func (s *Scheduler) templateContext(rc RunContext, deps map[string]*stepresult.StepResult) template.Context {
	return template.Context{
		Args:      rc.Args,
		Env:       rc.Env,
		Team:      rc.Team,
		Ecosystem: rc.Ecosystem,
		Steps:     deps,
		Groups:    groupsView(s.wf.Groups, deps),
	}
}

func groupsView(groups []workflow.Group, deps map[string]*stepresult.StepResult) map[string]any {
	out := make(map[string]any, len(groups))
	for _, g := range groups {
		list := make([]any, 0, len(g.Steps))
		for _, name := range g.Steps {
			if r, ok := deps[name]; ok {
				list = append(list, r.TemplateValue())
			}
		}
		out[g.Name] = list
	}
	return out
}

func (s *Scheduler) runStep(ctx context.Context, step *workflow.Step, rc RunContext, deps map[string]*stepresult.StepResult) *stepresult.StepResult {
	start := time.Now()
	tctx := s.templateContext(rc, deps)
	var res *stepresult.StepResult

	if step.If != "" {
		ok, err := evalCondition(step.If, tctx)
		switch {
		case err != nil:
			res = stepresult.NewFailed(step.Name, &stepresult.StepError{
				Kind: stepresult.KindTemplateError, Message: "evaluating if condition", Err: err,
			})
		case !ok:
			res = &stepresult.StepResult{StepName: step.Name, Skipped: true}
		}
	}

	if res == nil {
		if step.ForEach != "" {
			res = s.runForEach(ctx, step, tctx)
		} else {
			res = s.runOnce(ctx, step, tctx)
		}
	}

	elapsed := time.Since(start)
	if res.DurationMS == 0 {
		res.DurationMS = elapsed.Milliseconds()
	}
	recordStepMetrics(step, res, elapsed)
	return res
}

func (s *Scheduler) runForEach(ctx context.Context, step *workflow.Step, tctx template.Context) *stepresult.StepResult {
	items, err := evalList(step.ForEach, tctx)
	if err != nil {
		return stepresult.NewFailed(step.Name, &stepresult.StepError{
			Kind: stepresult.KindTemplateError, Message: "evaluating for_each source", Err: err,
		})
	}

	children := make([]*stepresult.StepResult, 0, len(items))
	failed := false
	for _, item := range items {
		itemCtx := tctx
		itemCtx.Item = item
		child := s.runOnce(ctx, step, itemCtx)
		if child.Failed {
			failed = true
		}
		children = append(children, child)
	}
	return &stepresult.StepResult{StepName: step.Name, Items: children, Failed: failed}
}

func (s *Scheduler) runOnce(ctx context.Context, step *workflow.Step, tctx template.Context) *stepresult.StepResult {
	switch step.Type {
	case workflow.StepShell:
		return s.runShell(ctx, step, tctx)

	case workflow.StepQuery:
		prompt, err := renderField(step.Prompt, tctx)
		if err != nil {
			return templateFailure(step.Name, "prompt", err)
		}
		prompt = appendSchemaInstructions(prompt, step)
		return retryStep(ctx, step, func(attempt int) *stepresult.StepResult {
			return validateOutputSchema(step, s.resolver.Resolve(ctx, step.Role, step.Name, prompt))
		})

	case workflow.StepApply:
		if s.applier == nil {
			return stepresult.NewFailed(step.Name, &stepresult.StepError{
				Kind: stepresult.KindConfigError, Message: "no applier configured for apply steps",
			})
		}
		return retryStep(ctx, step, func(attempt int) *stepresult.StepResult {
			return s.applier.Apply(ctx, step, tctx)
		})

	case workflow.StepStore:
		if s.memory == nil {
			return stepresult.NewFailed(step.Name, &stepresult.StepError{
				Kind: stepresult.KindConfigError, Message: "no memory store configured for store steps",
			})
		}
		return retryStep(ctx, step, func(attempt int) *stepresult.StepResult {
			return s.memory.Store(ctx, tctx.Ecosystem, step, tctx)
		})

	case workflow.StepInput:
		text, err := renderField(step.Prompt, tctx)
		if err != nil {
			return templateFailure(step.Name, "prompt", err)
		}
		return &stepresult.StepResult{StepName: step.Name, Output: text}

	default:
		return stepresult.NewFailed(step.Name, &stepresult.StepError{
			Kind: stepresult.KindInvalidWorkflow, Message: "unknown step type: " + string(step.Type),
		})
	}
}

// appendSchemaInstructions appends a formatting instruction to a query
// step's rendered prompt when it declares output_schema, asking the backend
// for a bare JSON response matching the schema. Grounded on
// workflow/executor.rs's execute_query_step, which does the same before
// dispatch rather than relying on validation to catch free-form prose after
// the fact.
func appendSchemaInstructions(prompt string, step *workflow.Step) string {
	if len(step.OutputSchema) == 0 {
		return prompt
	}
	schemaJSON, err := json.MarshalIndent(step.OutputSchema, "", "  ")
	if err != nil {
		return prompt
	}
	return prompt + "\n\nIMPORTANT: You MUST respond with valid JSON matching this schema:\n```json\n" +
		string(schemaJSON) + "\n```\n\nDo not include any text before or after the JSON object."
}

// validateOutputSchema checks a successful query step's output against its
// declared output_schema (spec §6 "output_schema", §7 "OutputParseFailed
// (schema mismatch)"), converting a non-matching result into a failed one.
// Parallel-strategy results (res.Outputs set, res.Output empty) are left
// unchecked: the schema names a single output shape, not one per backend.
func validateOutputSchema(step *workflow.Step, res *stepresult.StepResult) *stepresult.StepResult {
	if res.Failed || res.Output == "" {
		return res
	}
	schema := step.ParseOutputSchema()
	if schema == nil {
		return res
	}

	raw, ok := workflow.ExtractJSON(res.Output)
	if !ok {
		return stepresult.NewFailed(step.Name, &stepresult.StepError{
			Kind:    stepresult.KindOutputParseFailed,
			Message: "output_schema declared but no JSON value could be extracted from the output",
			Backend: res.Backend,
		})
	}
	if errs := workflow.ValidateAgainstSchema(raw, schema); len(errs) > 0 {
		return stepresult.NewFailed(step.Name, &stepresult.StepError{
			Kind:    stepresult.KindOutputParseFailed,
			Message: "output_schema mismatch: " + strings.Join(errs, "; "),
			Backend: res.Backend,
		})
	}
	return res
}

func renderField(src string, tctx template.Context) (string, error) {
	if src == "" {
		return "", nil
	}
	tpl, err := template.Parse(src)
	if err != nil {
		return "", err
	}
	return tpl.Render(tctx)
}

func templateFailure(stepName, field string, err error) *stepresult.StepResult {
	return stepresult.NewFailed(stepName, &stepresult.StepError{
		Kind:    stepresult.KindTemplateError,
		Message: "rendering " + field,
		Err:     err,
	})
}
