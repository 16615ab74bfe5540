package apply

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ducks/llmux/role"
	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/template"
	"github.com/ducks/llmux/workflow"
	"github.com/pmezard/go-difflib/difflib"
)

// defaultVerifyRetryPreamble is used when a step sets verify_retries but no
// verify_retry_prompt (spec §4.4 "or a default 'fix the following failure'
// preamble").
const defaultVerifyRetryPreamble = "The previous attempt failed verification with this error. Fix it and return a new edit set.\n\n%s"

// Applier implements scheduler.Applier: materializing a step's edits,
// committing them atomically, and running the optional verify/retry/
// rollback loop (spec §4.4). Grounded on a subprocess-execution pattern for
// the verify command and a staging-plus-atomic-write discipline for edits,
// generalized to whole apply-step transactions.
type Applier struct {
	wf       *workflow.Workflow
	resolver *role.Resolver
	baseDir  string
}

// New builds an Applier rooted at baseDir (the directory every step's
// file paths are resolved relative to).
func New(wf *workflow.Workflow, resolver *role.Resolver, baseDir string) *Applier {
	if baseDir == "" {
		baseDir = "."
	}
	return &Applier{wf: wf, resolver: resolver, baseDir: baseDir}
}

// Apply runs one "apply" step to completion (spec §4.4).
func (a *Applier) Apply(ctx context.Context, step *workflow.Step, tctx template.Context) *stepresult.StepResult {
	start := time.Now()

	edits, err := collectEdits(step, tctx)
	if err != nil {
		return stepresult.NewFailed(step.Name, stepErrorFromApply(stepresult.KindConfigError, err.Error(), err))
	}
	if len(edits) == 0 {
		return stepresult.NewFailed(step.Name, stepErrorFromApply(stepresult.KindConfigError, "apply step produced no edits", nil))
	}

	st := newStage(a.baseDir)
	summary, stepErr := a.stageEdits(st, edits)
	if stepErr != nil {
		return stepresult.NewFailed(step.Name, stepErr)
	}
	if err := st.commit(); err != nil {
		return stepresult.NewFailed(step.Name, stepErrorFromApply(stepresult.KindConfigError, "committing staged edits", err))
	}

	if step.Verify == "" {
		return &stepresult.StepResult{StepName: step.Name, Output: summary, DurationMS: time.Since(start).Milliseconds()}
	}

	for attempt := 0; ; attempt++ {
		_, stderr, verifyErr := runVerify(ctx, a.baseDir, step.Verify, step.TimeoutMS)
		if verifyErr == nil {
			return &stepresult.StepResult{
				StepName: step.Name, Output: summary, Attempt: attempt + 1,
				DurationMS: time.Since(start).Milliseconds(),
			}
		}

		if attempt >= step.VerifyRetries {
			if step.RollbackOnFailure {
				_ = st.rollback()
			}
			verifyErr.Message = fmt.Sprintf("verify command failed after %d attempt(s): %s", attempt+1, strings.TrimSpace(stderr))
			verifyErr.Attempt = attempt + 1
			res := stepresult.NewFailed(step.Name, verifyErr)
			res.Attempt = attempt + 1
			res.DurationMS = time.Since(start).Milliseconds()
			return res
		}

		// Re-invoke the producing step with the failure appended, then
		// reapply the fresh edits on top of every touched file's ORIGINAL
		// pre-image so retries stay independent of each other.
		newEdits, regenErr := a.regenerateEdits(ctx, step, tctx, stderr)
		if regenErr != nil {
			if step.RollbackOnFailure {
				_ = st.rollback()
			}
			res := stepresult.NewFailed(step.Name, stepErrorFromApply(stepresult.KindVerificationFailed, "regenerating edits after verify failure", regenErr))
			res.DurationMS = time.Since(start).Milliseconds()
			return res
		}
		for _, file := range st.touchedFiles() {
			st.resetToPreimage(file)
		}
		summary, stepErr = a.stageEdits(st, newEdits)
		if stepErr != nil {
			if step.RollbackOnFailure {
				_ = st.rollback()
			}
			stepErr.Attempt = attempt + 2
			res := stepresult.NewFailed(step.Name, stepErr)
			res.DurationMS = time.Since(start).Milliseconds()
			return res
		}
		if err := st.commit(); err != nil {
			res := stepresult.NewFailed(step.Name, stepErrorFromApply(stepresult.KindConfigError, "committing retried edits", err))
			res.DurationMS = time.Since(start).Milliseconds()
			return res
		}
	}
}

// stageEdits applies every edit to its file's working content in st,
// without touching disk, stopping at the first FileNotFound or
// EditNotApplied failure (spec §4.4 steps 1-3). It returns a unified-diff
// summary of every file's net change, for the step's Output.
func (a *Applier) stageEdits(st *stage, edits []edit) (string, *stepresult.StepError) {
	before := map[string]string{}
	for _, e := range edits {
		// A full-file replacement may target a file that does not exist
		// yet (spec §4.4's edit formats include whole-file content, for
		// edits too pervasive to express as a diff); every other edit kind
		// requires the file already exist.
		current, err := st.read(e.File)
		if err != nil {
			if !e.IsFull {
				if os.IsNotExist(err) {
					return "", stepErrorFromApply(stepresult.KindFileNotFound, "file does not exist: "+e.File, err)
				}
				return "", stepErrorFromApply(stepresult.KindConfigError, "reading "+e.File, err)
			}
			if !os.IsNotExist(err) {
				return "", stepErrorFromApply(stepresult.KindConfigError, "reading "+e.File, err)
			}
			current = ""
			st.markCreated(e.File)
		}
		if _, ok := before[e.File]; !ok {
			before[e.File] = current
		}

		var next string
		switch {
		case e.IsFull:
			next = e.Content
		case e.Diff != "":
			next, err = applyUnifiedDiff(current, e.Diff)
		default:
			next, err = applyOldNew(current, e.Old, e.New)
		}
		if err != nil {
			return "", stepErrorFromApply(stepresult.KindEditNotApplied,
				fmt.Sprintf("%s: %s", e.File, err.Error()), err)
		}

		st.write(e.File, next)
	}

	return diffSummary(before, st), nil
}

// diffSummary renders a unified diff per touched file between its
// pre-image and its final staged content, concatenated for the step's
// human-readable Output.
func diffSummary(before map[string]string, st *stage) string {
	var b strings.Builder
	for file, orig := range before {
		after := st.staged[file]
		if orig == after {
			continue
		}
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(orig),
			B:        difflib.SplitLines(after),
			FromFile: file,
			ToFile:   file,
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(diff)
		if err != nil {
			continue
		}
		b.WriteString(text)
	}
	if b.Len() == 0 {
		return fmt.Sprintf("applied edits across %d file(s), no net change", len(before))
	}
	return b.String()
}

// regenerateEdits re-invokes the apply step's source query step with the
// verify failure appended to its prompt, returning the edit set it
// produces (spec §4.4 "Verify algorithm").
func (a *Applier) regenerateEdits(ctx context.Context, step *workflow.Step, tctx template.Context, verifyStderr string) ([]edit, error) {
	if step.Source == "" {
		return nil, fmt.Errorf("verify_retries is set but apply step has no source step to re-invoke")
	}
	producing, ok := a.wf.StepByName(step.Source)
	if !ok {
		return nil, fmt.Errorf("source step %q not found", step.Source)
	}

	retrySrc := step.VerifyRetryPrompt
	if retrySrc == "" {
		retrySrc = producing.Prompt + "\n\n" + fmt.Sprintf(defaultVerifyRetryPreamble, "{{ args.__verify_stderr }}")
	}

	retryCtx := tctx
	retryCtx.Args = withVerifyStderr(tctx.Args, verifyStderr)
	prompt, err := renderTemplate(retrySrc, retryCtx)
	if err != nil {
		return nil, fmt.Errorf("rendering verify retry prompt: %w", err)
	}

	res := a.resolver.Resolve(ctx, producing.Role, producing.Name, prompt)
	if res.Failed {
		return nil, fmt.Errorf("re-invoking %s: %s", producing.Name, res.Error.Summary())
	}
	return parseEditSetOutput(res.Output)
}

func withVerifyStderr(args map[string]any, stderr string) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out["__verify_stderr"] = stderr
	return out
}

func renderTemplate(src string, tctx template.Context) (string, error) {
	tpl, err := template.Parse(src)
	if err != nil {
		return "", err
	}
	return tpl.Render(tctx)
}
