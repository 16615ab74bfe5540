// Package role resolves a role name and a rendered prompt to a StepResult,
// applying the first/parallel/fallback execution strategies (spec §4.2).
// Grounded on a named lookup over a provider interface (now generalized as
// internal/registry.BaseRegistry) and a small service-object pattern
// wrapping that registry for dispatch.
package role

import (
	"context"
	"sync"
	"time"

	"github.com/ducks/llmux/backend"
	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/internal/registry"
	"github.com/ducks/llmux/stepresult"
)

// Semaphore bounds concurrent backend invocations across the whole run
// (spec §5 "Concurrency cap"). A nil *Semaphore is unbounded.
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity; capacity <= 0
// means unbounded.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		return nil
	}
	return &Semaphore{tokens: make(chan struct{}, capacity)}
}

func (s *Semaphore) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Semaphore) release() {
	if s == nil {
		return
	}
	<-s.tokens
}

// Resolver dispatches prompts to the backends a role names.
type Resolver struct {
	roles    map[string]config.Role
	backends *registry.BaseRegistry[backend.Executor]
	sem      *Semaphore
}

// NewResolver builds a Resolver over already-constructed backend executors,
// loaded into a registry.BaseRegistry for the named lookup every role
// strategy performs.
func NewResolver(roles map[string]config.Role, backends map[string]backend.Executor, sem *Semaphore) *Resolver {
	reg := registry.NewBaseRegistry[backend.Executor]()
	for name, ex := range backends {
		reg.Register(name, ex)
	}
	return &Resolver{roles: roles, backends: reg, sem: sem}
}

// Resolve dispatches prompt through the named role's strategy and returns
// the resulting StepResult. It never returns a Go error for a backend
// failure: all failures are encoded in the returned StepResult per the
// scheduler's single commit-path contract.
func (r *Resolver) Resolve(ctx context.Context, roleName, stepName, prompt string) *stepresult.StepResult {
	roleCfg, ok := r.roles[roleName]
	if !ok {
		return stepresult.NewFailed(stepName, &stepresult.StepError{
			Kind:    stepresult.KindConfigError,
			Message: "undefined role: " + roleName,
		})
	}

	enabled := r.enabledBackends(roleCfg.Backends)
	if len(enabled) == 0 {
		return stepresult.NewFailed(stepName, &stepresult.StepError{
			Kind:    stepresult.KindNoBackendsAvail,
			Message: "no enabled backends for role " + roleName,
		})
	}

	switch roleCfg.Execution {
	case config.ExecParallel:
		return r.resolveParallel(ctx, stepName, enabled, roleCfg.MinSuccess, prompt)
	case config.ExecFallback:
		return r.resolveSequential(ctx, stepName, enabled, prompt, true)
	default:
		return r.resolveSequential(ctx, stepName, enabled, prompt, false)
	}
}

// enabledBackends returns the resolver's executors for names, skipping
// names with no matching executor or a disabled config (spec §4.2
// "Disabled or unknown backends are skipped").
func (r *Resolver) enabledBackends(names []string) []backend.Executor {
	var out []backend.Executor
	for _, name := range names {
		ex, ok := r.backends.Get(name)
		if !ok {
			continue
		}
		out = append(out, ex)
	}
	return out
}

// resolveSequential implements both "first" (stopOnPermanent=false: keep
// trying every backend regardless of error kind) and "fallback"
// (stopOnPermanent=true: a permanent error short-circuits the chain).
func (r *Resolver) resolveSequential(ctx context.Context, stepName string, backends []backend.Executor, prompt string, stopOnPermanent bool) *stepresult.StepResult {
	start := time.Now()
	tried := make([]string, 0, len(backends))
	var lastErr *stepresult.StepError

	for _, ex := range backends {
		tried = append(tried, ex.Name())
		if err := r.sem.acquire(ctx); err != nil {
			return stepresult.NewFailed(stepName, &stepresult.StepError{
				Kind:    stepresult.KindCancelled,
				Message: "cancelled waiting for concurrency slot",
			})
		}
		out, stepErr := ex.Execute(ctx, prompt)
		r.sem.release()

		if stepErr == nil {
			return &stepresult.StepResult{
				StepName:   stepName,
				Output:     out,
				Backend:    ex.Name(),
				Backends:   tried,
				DurationMS: time.Since(start).Milliseconds(),
			}
		}
		lastErr = stepErr
		if stopOnPermanent && stepErr.Kind.Permanent() {
			break
		}
	}

	if lastErr == nil {
		lastErr = &stepresult.StepError{Kind: stepresult.KindNoBackendsAvail, Message: "no backends attempted"}
	}
	res := stepresult.NewFailed(stepName, lastErr)
	res.Backends = tried
	res.DurationMS = time.Since(start).Milliseconds()
	return res
}

// resolveParallel dispatches every enabled backend concurrently and
// gathers results in declared order (spec §5 "outputs preserves the
// declared backend order regardless of completion order").
func (r *Resolver) resolveParallel(ctx context.Context, stepName string, backends []backend.Executor, minSuccess int, prompt string) *stepresult.StepResult {
	start := time.Now()
	outputs := make(stepresult.Outputs, len(backends))
	names := make([]string, len(backends))

	var wg sync.WaitGroup
	wg.Add(len(backends))
	for i, ex := range backends {
		i, ex := i, ex
		names[i] = ex.Name()
		go func() {
			defer wg.Done()
			if err := r.sem.acquire(ctx); err != nil {
				outputs[i] = stepresult.BackendOutput{
					Backend: ex.Name(),
					Failed:  true,
					Error:   &stepresult.StepError{Kind: stepresult.KindCancelled, Message: "cancelled waiting for concurrency slot", Backend: ex.Name()},
				}
				return
			}
			out, stepErr := ex.Execute(ctx, prompt)
			r.sem.release()
			if stepErr != nil {
				outputs[i] = stepresult.BackendOutput{Backend: ex.Name(), Failed: true, Error: stepErr}
				return
			}
			outputs[i] = stepresult.BackendOutput{Backend: ex.Name(), Output: out}
		}()
	}
	wg.Wait()

	res := &stepresult.StepResult{
		StepName:   stepName,
		Outputs:    outputs,
		Backends:   names,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if minSuccess <= 0 {
		minSuccess = 1
	}
	if outputs.SuccessCount() < minSuccess {
		res.Failed = true
		res.Error = &stepresult.StepError{
			Kind:    stepresult.KindNoBackendsAvail,
			Message: "fewer than min_success backends succeeded",
		}
	}
	return res
}
