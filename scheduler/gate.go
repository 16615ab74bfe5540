package scheduler

import (
	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/workflow"
)

type gateResult int

const (
	// gateWaiting means at least one dependency has not finished yet.
	gateWaiting gateResult = iota
	// gateReady means every dependency finished and enough of them
	// succeeded (per min_deps_success / continue_on_error) to proceed.
	gateReady
	// gateBlocked means dependencies finished but did not satisfy the
	// success threshold: the step must become a blocked StepResult
	// without ever executing (spec §4.1 "error.kind=DependencyFailed").
	gateBlocked
)

// gate evaluates whether step is ready to run, blocked, or still waiting,
// given the already-finished steps in results. A dependency counts as
// satisfied if it succeeded, or if it failed but was declared with
// continue_on_error = true (the producer opting its dependents out of
// blocking). min_deps_success lets a step proceed once that many of its
// declared dependencies are satisfied, defaulting to "all of them".
func (s *Scheduler) gate(step *workflow.Step, results map[string]*stepresult.StepResult) (gateResult, string) {
	required := step.MinDepsSuccess
	if required <= 0 {
		required = len(step.DependsOn)
	}

	satisfied := 0
	blockedBy := ""
	for _, dep := range step.DependsOn {
		r, ok := results[dep]
		if !ok {
			return gateWaiting, ""
		}
		depStep, _ := s.wf.StepByName(dep)
		if !r.Failed || (depStep != nil && depStep.ContinueOnError) {
			satisfied++
		} else if blockedBy == "" {
			blockedBy = dep
		}
	}

	if satisfied < required {
		return gateBlocked, blockedBy
	}
	return gateReady, ""
}

// depSnapshot copies the finished results step depends on, so the
// goroutine running step can read its view of steps.* without touching the
// shared results map the single dispatch loop owns.
func depSnapshot(step *workflow.Step, results map[string]*stepresult.StepResult) map[string]*stepresult.StepResult {
	out := make(map[string]*stepresult.StepResult, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		out[dep] = results[dep]
	}
	return out
}
