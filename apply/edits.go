// Package apply implements the apply/verify subsystem (spec §4.4): it
// gathers edits either from a producing step's JSON output or declared
// inline, stages them per file with exact-then-fuzzy matching, commits
// atomically, and runs an optional verify command with a bounded,
// pre-image-anchored retry loop. Grounded on an exact-match replace with
// backup-before-write pattern and a path-validation, atomic-ish
// write-then-rename discipline, generalized from single-file single-edit
// tool calls to a multi-file, multi-edit, transactional step.
package apply

import (
	"encoding/json"
	"fmt"

	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/template"
	"github.com/ducks/llmux/workflow"
)

// edit is the resolved form of a workflow.InlineEdit or one decoded from a
// producing step's JSON output: an old/new pair, a unified diff, or a full
// file replacement, scoped to one file.
type edit struct {
	File    string
	Old     string
	New     string
	Diff    string
	Content string
	IsFull  bool
}

// editSet is the JSON shape a producing query step's output must parse as
// (spec §4.4 "Input"): {"edits": [...]}.
type editSet struct {
	Edits []workflow.InlineEdit `json:"edits"`
}

// collectEdits gathers a step's edits from its inline declarations and/or
// its source step reference, rendering any templated fields against tctx.
func collectEdits(step *workflow.Step, tctx template.Context) ([]edit, error) {
	var raw []workflow.InlineEdit
	raw = append(raw, step.Edits...)

	if step.Source != "" {
		res, ok := tctx.Steps[step.Source]
		if !ok || res == nil {
			return nil, fmt.Errorf("apply step %q: source step %q has no result available", step.Name, step.Source)
		}
		fromSource, err := parseEditSetOutput(res.Output)
		if err != nil {
			return nil, fmt.Errorf("apply step %q: source step %q: %w", step.Name, step.Source, err)
		}
		return append(inlineToEdits(raw), fromSource...), nil
	}
	return inlineToEdits(raw), nil
}

// parseEditSetOutput decodes a producing step's JSON output into its edit
// list (spec §4.4 "Input"). The output is tried as bare JSON first, then as
// JSON extracted from a fenced code block, since a model asked for an edit
// set commonly wraps it in ```json prose the way it does for output_schema
// responses.
func parseEditSetOutput(output string) ([]edit, error) {
	var set editSet
	if err := json.Unmarshal([]byte(output), &set); err == nil {
		return inlineToEdits(set.Edits), nil
	}

	raw, ok := workflow.ExtractJSON(output)
	if !ok {
		return nil, fmt.Errorf("output is not a valid edit set: no JSON value found")
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("output is not a valid edit set: %w", err)
	}
	return inlineToEdits(set.Edits), nil
}

func inlineToEdits(raw []workflow.InlineEdit) []edit {
	out := make([]edit, 0, len(raw))
	for _, r := range raw {
		e := edit{File: r.File}
		switch {
		case r.Content != "":
			e.Content, e.IsFull = r.Content, true
		case r.Diff != "":
			e.Diff = r.Diff
		default:
			e.Old, e.New = r.Old, r.New
		}
		out = append(out, e)
	}
	return out
}

// stepErrorFromApply classifies the handful of apply-time failure modes
// into the shared taxonomy (spec §7).
func stepErrorFromApply(kind stepresult.ErrorKind, message string, err error) *stepresult.StepError {
	return &stepresult.StepError{Kind: kind, Message: message, Err: err}
}
