package main

import (
	"fmt"

	"github.com/ducks/llmux/apply"
	"github.com/ducks/llmux/backend"
	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/memorystore"
	"github.com/ducks/llmux/role"
	"github.com/ducks/llmux/scheduler"
	"github.com/ducks/llmux/workflow"
)

// buildScheduler wires a config, a parsed workflow, and the CLI's global
// flags into a runnable Scheduler: one backend.Executor per declared
// backend, a role.Resolver over them bounded by the optional
// --max-concurrency semaphore, an apply.Applier rooted at baseDir, and a
// memorystore.Store over the shared per-ecosystem database directory.
func buildScheduler(cfg *config.Config, wf *workflow.Workflow, flags *globalFlags, baseDir string) (*scheduler.Scheduler, func() error, error) {
	backends := make(map[string]backend.Executor, len(cfg.Backends))
	for name, bcfg := range cfg.Backends {
		if !bcfg.IsEnabled() {
			continue
		}
		ex, err := backend.New(name, bcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("building backend %q: %w", name, err)
		}
		backends[name] = ex
	}

	sem := role.NewSemaphore(flags.maxConcurrency)
	resolver := role.NewResolver(cfg.Roles, backends, sem)

	applier := apply.New(wf, resolver, baseDir)
	memory := memorystore.New(config.MemoryBaseDir())

	sched := scheduler.New(wf, resolver, applier, memory, flags.workers)
	return sched, memory.Close, nil
}

// resolveTeam looks up --team in cfg, returning (nil, nil) when no team
// was requested; an unknown team name is a validation error (spec §6
// exit code 2).
func resolveTeam(cfg *config.Config, name string) (*config.Team, error) {
	if name == "" {
		return nil, nil
	}
	team, ok := cfg.Teams[name]
	if !ok {
		return nil, fmt.Errorf("undefined team %q", name)
	}
	return &team, nil
}

// resolveEcosystem picks the ecosystem name a run's `store` steps and
// template context use. spec.md scopes ecosystem selection to an external
// collaborator and names no dedicated flag for it, so this CLI reuses
// --team's value when set (a team and its project knowledge naturally
// share a name) and otherwise falls back to "default" — documented as an
// open decision in DESIGN.md rather than left to guesswork per call site.
func resolveEcosystem(team string) string {
	if team == "" {
		return "default"
	}
	return team
}
