// Package workflow parses and statically validates the TOML workflow file
// (spec §6) into the step DAG the scheduler drives. Grounded on a workflow
// loader's LoadWorkflowDefinition/validateWorkflow shape, generalized from
// a single-table-of-agents layout to an ordered, typed step array with
// dependencies.
package workflow

// StepType is the declarative node kind (spec §3).
type StepType string

const (
	StepShell StepType = "shell"
	StepQuery StepType = "query"
	StepApply StepType = "apply"
	StepStore StepType = "store"
	StepInput StepType = "input"
)

// InlineEdit is one edit supplied directly in a step body, rather than
// produced by a referenced step's JSON output (spec §6 "apply"). Exactly
// one of Diff, the Old/New pair, or Content should be set: Content
// replaces the file's entire body, for edits too pervasive to express as a
// diff or a single old/new substitution.
type InlineEdit struct {
	File    string `toml:"file"`
	Old     string `toml:"old,omitempty"`
	New     string `toml:"new,omitempty"`
	Diff    string `toml:"diff,omitempty"`
	Content string `toml:"content,omitempty"`
}

// Step is a single declarative workflow node.
type Step struct {
	Name      string   `toml:"name"`
	Type      StepType `toml:"type"`
	DependsOn []string `toml:"depends_on,omitempty"`
	If        string   `toml:"if,omitempty"`
	ForEach   string   `toml:"for_each,omitempty"`
	TimeoutMS int      `toml:"timeout,omitempty"`

	// Step-level retry policy (spec §3, §7), applied by the scheduler
	// around the whole step dispatch regardless of step type. RetryOn
	// names the ErrorKinds that trigger a retry; empty means the default
	// set (RateLimit, Timeout, OutputParseFailed).
	Retries      int      `toml:"retries,omitempty"`
	RetryDelayMS int      `toml:"retry_delay,omitempty"`
	RetryOn      []string `toml:"retry_on,omitempty"`

	ContinueOnError bool `toml:"continue_on_error,omitempty"`
	MinDepsSuccess  int  `toml:"min_deps_success,omitempty"`

	// shell
	Run string `toml:"run,omitempty"`

	// query
	Role         string         `toml:"role,omitempty"`
	Prompt       string         `toml:"prompt,omitempty"`
	OutputSchema map[string]any `toml:"output_schema,omitempty"`

	// apply
	Source            string       `toml:"source,omitempty"`
	Edits             []InlineEdit `toml:"edits,omitempty"`
	Verify            string       `toml:"verify,omitempty"`
	VerifyRetries     int          `toml:"verify_retries,omitempty"`
	VerifyRetryPrompt string       `toml:"verify_retry_prompt,omitempty"`
	RollbackOnFailure bool         `toml:"rollback_on_failure,omitempty"`
}

// ArgSpec describes one declared workflow argument.
type ArgSpec struct {
	Type        string `toml:"type,omitempty"`
	Default     string `toml:"default,omitempty"`
	Description string `toml:"description,omitempty"`
	Required    bool   `toml:"required,omitempty"`
}

// Group is a named bundle of step names, used by templates to address a
// subset of steps collectively (spec §3 RunContext "groups").
type Group struct {
	Name  string   `toml:"name"`
	Steps []string `toml:"steps"`
}

// Workflow is the parsed TOML workflow file (spec §6).
type Workflow struct {
	Name        string             `toml:"name"`
	Description string             `toml:"description,omitempty"`
	Args        map[string]ArgSpec `toml:"args,omitempty"`
	Output      map[string]string  `toml:"output,omitempty"`
	Groups      []Group            `toml:"groups,omitempty"`
	Steps       []Step             `toml:"steps"`
}

// StepByName returns the declared step with the given name.
func (w *Workflow) StepByName(name string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].Name == name {
			return &w.Steps[i], true
		}
	}
	return nil, false
}
