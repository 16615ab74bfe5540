package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ducks/llmux/stepresult"
)

const (
	outputConsole = "console"
	outputJSON    = "json"
	outputQuiet   = "quiet"
)

// runReport is the JSON-mode shape for a completed run: per-step results
// plus the workflow's rendered `output` table (spec §6 "In JSON output
// mode the full StepError is serialized").
type runReport struct {
	RunID    string                            `json:"run_id"`
	Workflow string                            `json:"workflow"`
	Failed   bool                              `json:"failed"`
	Steps    map[string]*stepresult.StepResult `json:"steps"`
	Output   map[string]string                 `json:"output,omitempty"`
}

// printRun renders a completed run's results to w in the requested format.
func printRun(w io.Writer, format string, report runReport) {
	switch format {
	case outputQuiet:
		return
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	default:
		printRunConsole(w, report)
	}
}

func printRunConsole(w io.Writer, report runReport) {
	fmt.Fprintf(w, "run %s\n", report.RunID)
	names := make([]string, 0, len(report.Steps))
	for name := range report.Steps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		res := report.Steps[name]
		fmt.Fprintf(w, "%s %s\n", statusGlyph(res), name)
		if res.Failed && res.Error != nil {
			fmt.Fprintf(w, "    %s\n", res.Error.Summary())
			if res.Error.Stderr != "" {
				fmt.Fprintf(w, "    stderr: %s\n", strings.TrimSpace(truncateLines(res.Error.Stderr, 5)))
			}
		}
	}

	if len(report.Output) == 0 {
		return
	}
	keys := make([]string, 0, len(report.Output))
	for k := range report.Output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "\noutput:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, report.Output[k])
	}
}

func statusGlyph(res *stepresult.StepResult) string {
	switch {
	case res.Cancelled:
		return "[cancelled]"
	case res.Skipped:
		return "[skipped] "
	case res.Blocked:
		return "[blocked] "
	case res.Failed:
		return "[failed]  "
	default:
		return "[ok]      "
	}
}

func truncateLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// anyFailed reports whether any step in results failed, for exit-code
// determination (spec §6 "1 = one or more failed").
func anyFailed(results map[string]*stepresult.StepResult) bool {
	for _, res := range results {
		if res.Failed {
			return true
		}
	}
	return false
}
