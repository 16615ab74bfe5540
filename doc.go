// Package llmux is a declarative multi-backend LLM workflow orchestrator:
// it accepts a TOML workflow description (a typed DAG of steps spawning
// shell commands, LLM queries, and file-edit applications), resolves
// abstract roles to concrete backends (subprocesses or HTTP endpoints),
// executes the DAG with configurable parallelism and retries, and
// threads structured step outputs into later steps via a template
// language.
//
// # Quick start
//
// Install the CLI:
//
//	go install github.com/ducks/llmux/cmd/llmux@latest
//
// Declare backends and a role in ~/.config/llm-mux/config.toml:
//
//	[backends.claude-cli]
//	kind = "cli"
//	command = "claude"
//	args = ["-p"]
//
//	[roles.reviewer]
//	backends = ["claude-cli"]
//	execution = "first"
//
// Write a workflow and run it:
//
//	[[steps]]
//	name = "diff"
//	type = "shell"
//	run = "git diff"
//
//	[[steps]]
//	name = "review"
//	type = "query"
//	role = "reviewer"
//	prompt = "Review this diff:\n{{ steps.diff.output }}"
//	depends_on = ["diff"]
//
//	llmux run review.toml
//
// # Using as a library
//
// The engine is built from independently usable packages: workflow
// (parse/validate), config (backend/role/team/ecosystem definitions),
// backend and role (execution), scheduler (the DAG driver), apply (the
// edit/verify loop), and memorystore (the store-step collaborator).
//
// # Scope
//
// llmux is a workflow execution engine, not an autonomous agent: there
// are no self-directed tool loops, no cross-host distributed execution,
// and no support for provider SDKs beyond a subprocess contract and an
// OpenAI-compatible chat-completions HTTP shape.
package llmux
