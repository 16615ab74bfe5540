// Package config loads and validates the TOML configuration that binds
// backend definitions to roles, teams, and ecosystems (spec §6). The shape
// follows a Config/Validate/SetDefaults pattern; the wire format is TOML
// rather than YAML, decoded with github.com/BurntSushi/toml.
package config

import "fmt"

// BackendKind is the transport a Backend uses.
type BackendKind string

const (
	BackendCLI  BackendKind = "cli"
	BackendHTTP BackendKind = "http"
)

// Backend is a named invocable LLM endpoint (spec §3).
type Backend struct {
	Kind           BackendKind `toml:"kind"`
	Command        string      `toml:"command"`         // argv[0] for cli, base URL for http
	Args           []string    `toml:"args,omitempty"`   // cli argv tail
	Model          string      `toml:"model,omitempty"`  // http model field
	APIKey         string      `toml:"api_key,omitempty"`
	Stdin          bool        `toml:"stdin,omitempty"` // cli: supply prompt via stdin instead of argv
	Enabled        *bool       `toml:"enabled,omitempty"`
	TimeoutMS      int         `toml:"timeout,omitempty"`
	MaxRetries     int         `toml:"max_retries,omitempty"`
	RetryDelayMS   int         `toml:"retry_delay,omitempty"`
	RetryRateLimit *bool       `toml:"retry_rate_limit,omitempty"`
	RetryTimeout   *bool       `toml:"retry_timeout,omitempty"`
}

// IsEnabled reports whether the backend should be considered by a role
// resolver; unset defaults to enabled.
func (b *Backend) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

func (b *Backend) Validate(name string) error {
	switch b.Kind {
	case BackendCLI:
		if b.Command == "" {
			return fmt.Errorf("backend %q: command is required for a cli backend", name)
		}
	case BackendHTTP:
		if b.Command == "" {
			return fmt.Errorf("backend %q: command (base URL) is required for an http backend", name)
		}
		if b.Model == "" {
			return fmt.Errorf("backend %q: model is required for an http backend", name)
		}
	default:
		return fmt.Errorf("backend %q: kind must be %q or %q, got %q", name, BackendCLI, BackendHTTP, b.Kind)
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("backend %q: max_retries must be >= 0", name)
	}
	return nil
}

func (b *Backend) SetDefaults() {
	if b.TimeoutMS == 0 {
		b.TimeoutMS = 60_000
	}
	if b.RetryDelayMS == 0 {
		b.RetryDelayMS = 1_000
	}
	if b.RetryRateLimit == nil {
		t := true
		b.RetryRateLimit = &t
	}
	if b.RetryTimeout == nil {
		t := true
		b.RetryTimeout = &t
	}
}

// ExecutionStrategy is how a Role dispatches to its backends (spec §4.2).
type ExecutionStrategy string

const (
	ExecFirst    ExecutionStrategy = "first"
	ExecParallel ExecutionStrategy = "parallel"
	ExecFallback ExecutionStrategy = "fallback"
)

// Role is a named strategy binding over an ordered backend list (spec §3).
type Role struct {
	Backends   []string          `toml:"backends"`
	Execution  ExecutionStrategy `toml:"execution"`
	MinSuccess int               `toml:"min_success,omitempty"`
}

func (r *Role) Validate(name string, backends map[string]Backend) error {
	if len(r.Backends) == 0 {
		return fmt.Errorf("role %q: at least one backend is required", name)
	}
	for _, b := range r.Backends {
		if _, ok := backends[b]; !ok {
			return fmt.Errorf("role %q: references undefined backend %q", name, b)
		}
	}
	switch r.Execution {
	case ExecFirst, ExecParallel, ExecFallback:
	default:
		return fmt.Errorf("role %q: execution must be one of first/parallel/fallback, got %q", name, r.Execution)
	}
	if r.MinSuccess < 0 {
		return fmt.Errorf("role %q: min_success must be >= 0", name)
	}
	return nil
}

func (r *Role) SetDefaults() {
	if r.Execution == "" {
		r.Execution = ExecFirst
	}
	if r.MinSuccess == 0 {
		r.MinSuccess = 1
	}
}

// Team groups roles and default workflow args under a name, so the CLI's
// `--team` flag can select a named bundle of behavior without repeating
// role/backend choices per invocation.
type Team struct {
	Description string            `toml:"description,omitempty"`
	Roles       map[string]string `toml:"roles,omitempty"` // logical role alias -> role name
	DefaultArgs map[string]string `toml:"default_args,omitempty"`
}

func (t *Team) Validate(name string, roles map[string]Role) error {
	for alias, role := range t.Roles {
		if _, ok := roles[role]; !ok {
			return fmt.Errorf("team %q: role alias %q references undefined role %q", name, alias, role)
		}
	}
	return nil
}

func (t *Team) SetDefaults() {}

// Ecosystem names a memory-store scope (spec §4.8, §6 "Persistent state").
type Ecosystem struct {
	Description string `toml:"description,omitempty"`
	MemoryPath  string `toml:"memory_path,omitempty"`
}

func (e *Ecosystem) Validate(name string) error { return nil }

func (e *Ecosystem) SetDefaults(name string) {
	if e.MemoryPath == "" {
		e.MemoryPath = defaultMemoryPath(name)
	}
}
