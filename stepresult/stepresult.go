// Package stepresult defines the shared result and error model threaded
// through the scheduler, the role/backend layer, and the apply/verify
// subsystem: every component that finishes a unit of work produces a
// StepResult, and every failure is a classified StepError.
package stepresult

import (
	"fmt"
	"time"
)

// ErrorKind classifies a failure for retry and propagation decisions.
// See spec §7 for the full taxonomy and which kinds are retryable.
type ErrorKind string

const (
	// Retryable transient.
	KindRateLimit          ErrorKind = "RateLimit"
	KindTimeout            ErrorKind = "Timeout"
	KindNetworkError       ErrorKind = "NetworkError"
	KindBackendUnavailable ErrorKind = "BackendUnavailable"

	// Retryable with modification.
	KindOutputParseFailed  ErrorKind = "OutputParseFailed"
	KindVerificationFailed ErrorKind = "VerificationFailed"

	// Permanent.
	KindConfigError        ErrorKind = "ConfigError"
	KindFileNotFound       ErrorKind = "FileNotFound"
	KindTemplateError      ErrorKind = "TemplateError"
	KindInvalidWorkflow    ErrorKind = "InvalidWorkflow"
	KindAuthError          ErrorKind = "AuthError"
	KindEditNotApplied     ErrorKind = "EditNotApplied"
	KindNoBackendsAvail    ErrorKind = "NoBackendsAvailable"
	KindDependencyFailed   ErrorKind = "DependencyFailed"
	KindCancelled          ErrorKind = "Cancelled" // not retryable, and not reported by Permanent()
)

// RetryableTransient is the default set of kinds a backend executor itself
// retries (spec §4.3 "Retry policy").
func (k ErrorKind) RetryableTransient() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindNetworkError, KindBackendUnavailable:
		return true
	default:
		return false
	}
}

// Permanent reports whether k must never be retried.
func (k ErrorKind) Permanent() bool {
	switch k {
	case KindConfigError, KindFileNotFound, KindTemplateError, KindInvalidWorkflow,
		KindAuthError, KindEditNotApplied, KindNoBackendsAvail, KindDependencyFailed:
		return true
	default:
		return false
	}
}

// StepError carries full failure context for a single attempt, as spec §3
// requires: command/prompt, captured output, exit/http status, and the
// retry bookkeeping the scheduler and backend layer need to decide whether
// to try again.
type StepError struct {
	Kind        ErrorKind
	StartedAt   time.Time
	FailedAt    time.Time
	Command     string // rendered shell command or prompt, whichever applies
	Stdout      string
	Stderr      string
	ExitCode    int
	HTTPStatus  int
	Attempt     int
	MaxAttempts int
	WillRetry   bool
	RetryAfter  time.Duration // server-specified retry delay, when present (spec §4.3)
	Backend     string
	Message     string
	Err         error
}

func (e *StepError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Summary renders the one-line failure summary spec §7 requires: kind,
// backend, brief message.
func (e *StepError) Summary() string {
	backend := e.Backend
	if backend == "" {
		backend = "-"
	}
	return fmt.Sprintf("%s [%s] %s", e.Kind, backend, e.Message)
}

// Outputs is the ordered, backend-keyed result of a parallel query step:
// spec §3 requires |outputs| == |resolved backends| with order preserved
// regardless of completion order.
type Outputs []BackendOutput

// BackendOutput is one backend's independent result within a parallel step.
type BackendOutput struct {
	Backend string
	Output  string
	Failed  bool
	Error   *StepError
}

func (o Outputs) ByName(name string) (BackendOutput, bool) {
	for _, b := range o {
		if b.Backend == name {
			return b, true
		}
	}
	return BackendOutput{}, false
}

func (o Outputs) SuccessCount() int {
	n := 0
	for _, b := range o {
		if !b.Failed {
			n++
		}
	}
	return n
}

// StepResult is the immutable, once-written outcome of a step (spec §3).
type StepResult struct {
	StepName   string
	Output     string  // scalar output, for shell/query(first/fallback)/apply/store
	Outputs    Outputs // set instead of Output for parallel query steps
	Failed     bool
	Skipped    bool
	Cancelled  bool
	Blocked    bool
	Error      *StepError
	DurationMS int64
	Backend    string   // backend that produced Output, when applicable
	Backends   []string // backends attempted, in declared order
	Attempt    int
	Items      []*StepResult // set instead of Output/Outputs for for_each steps
}

// NewFailed builds a failed StepResult from a StepError, the common path
// every component's failure handling converges on.
func NewFailed(stepName string, err *StepError) *StepResult {
	return &StepResult{
		StepName: stepName,
		Failed:   true,
		Error:    err,
	}
}

// TemplateValue exposes a StepResult as the plain map/slice/scalar shape
// the template substrate's dotted lookup (spec §4.5 "Result-type access")
// walks: steps.X.output, steps.X.outputs, steps.X.outputs.<backend>,
// steps.X.failed, steps.X.error.*.
func (r *StepResult) TemplateValue() map[string]any {
	if r == nil {
		return nil
	}
	v := map[string]any{
		"output":      r.Output,
		"failed":      r.Failed,
		"skipped":     r.Skipped,
		"duration_ms": r.DurationMS,
		"backend":     r.Backend,
		"attempt":     r.Attempt,
	}
	if len(r.Outputs) > 0 {
		outs := make(map[string]any, len(r.Outputs)+1)
		list := make([]any, 0, len(r.Outputs))
		for _, b := range r.Outputs {
			entry := map[string]any{
				"backend": b.Backend,
				"output":  b.Output,
				"failed":  b.Failed,
			}
			outs[b.Backend] = entry
			list = append(list, entry)
		}
		// steps.X.outputs is an ordered list AND supports outputs.<backend>
		// lookup; both views share the same underlying entries.
		v["outputs"] = orderedOutputs{list: list, byName: outs}
	}
	if r.Error != nil {
		v["error"] = map[string]any{
			"kind":           string(r.Error.Kind),
			"command":        r.Error.Command,
			"stdout":         r.Error.Stdout,
			"stderr":         r.Error.Stderr,
			"exit_code":      r.Error.ExitCode,
			"http_status":    r.Error.HTTPStatus,
			"attempt":        r.Error.Attempt,
			"max_attempts":   r.Error.MaxAttempts,
			"will_retry":     r.Error.WillRetry,
			"retry_after_ms": r.Error.RetryAfter.Milliseconds(),
			"message":        r.Error.Message,
		}
	}
	if len(r.Items) > 0 {
		items := make([]any, len(r.Items))
		for i, it := range r.Items {
			items[i] = it.TemplateValue()
		}
		v["items"] = items
	}
	return v
}

// orderedOutputs implements both ordered-list indexing and named lookup
// over the same parallel-query results, per spec §4.5.
type orderedOutputs struct {
	list   []any
	byName map[string]any
}

// List returns the declared-order backend results (template.Indexable).
func (o orderedOutputs) List() []any { return o.list }

// Lookup resolves outputs.<backend> (template.Lookupable).
func (o orderedOutputs) Lookup(name string) (any, bool) {
	v, ok := o.byName[name]
	return v, ok
}

// Len supports {{ steps.X.outputs | join(", ") }}-style uses and the
// |outputs| invariant checks in tests.
func (o orderedOutputs) Len() int { return len(o.list) }

// NewBlocked builds the StepResult spec §4.1 requires for a step whose
// dependency failed: failed=true, error.kind=DependencyFailed.
func NewBlocked(stepName string, failedDep string) *StepResult {
	return &StepResult{
		StepName: stepName,
		Failed:   true,
		Blocked:  true,
		Error: &StepError{
			Kind:    KindDependencyFailed,
			Message: fmt.Sprintf("dependency %q failed or was blocked", failedDep),
		},
	}
}
