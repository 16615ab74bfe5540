package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/scheduler"
	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/template"
	"github.com/ducks/llmux/workflow"
)

// newRunCommand builds `llmux run <workflow> [key=value...]` (spec §6).
func newRunCommand(flags *globalFlags, box *loggerBox) *cobra.Command {
	var saveOutputDir string
	cmd := &cobra.Command{
		Use:   "run <workflow> [key=value...]",
		Short: "Execute a workflow to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, flags, box, args[0], args[1:], saveOutputDir)
		},
	}
	cmd.Flags().StringVar(&saveOutputDir, "save-output", "", "directory to write one file per step's output into (default: don't save)")
	return cmd
}

func runWorkflow(cmd *cobra.Command, flags *globalFlags, box *loggerBox, workflowPath string, cliArgs []string, saveOutputDir string) error {
	wf, err := workflow.Parse(workflowPath)
	if err != nil {
		return newExitError(2, err)
	}

	cfg, err := config.Load(".")
	if err != nil {
		return newExitError(2, err)
	}

	team, err := resolveTeam(cfg, flags.team)
	if err != nil {
		return newExitError(2, err)
	}

	runArgs, err := resolveArgs(wf, team, cliArgs)
	if err != nil {
		return newExitError(2, err)
	}

	baseDir, err := filepath.Abs(filepath.Dir(workflowPath))
	if err != nil {
		return newExitError(2, fmt.Errorf("resolving workflow directory: %w", err))
	}

	sched, closeMemory, err := buildScheduler(cfg, wf, flags, baseDir)
	if err != nil {
		return newExitError(2, err)
	}
	defer closeMemory()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	box.log.Debug("starting run", "run_id", runID, "workflow", wf.Name, "steps", len(wf.Steps), "team", flags.team)

	ecosystem := resolveEcosystem(flags.team)
	results := sched.Run(ctx, scheduler.RunContext{
		RunID:     runID,
		Args:      runArgs,
		Env:       envMap(),
		Team:      flags.team,
		Ecosystem: ecosystem,
	})

	for name, res := range results {
		if res.Failed {
			box.log.Warn("step failed", "step", name, "kind", res.Error.Kind, "message", res.Error.Message)
		}
	}

	if saveOutputDir != "" {
		if err := saveStepOutputs(saveOutputDir, results); err != nil {
			box.log.Warn("failed to save step outputs", "dir", saveOutputDir, "error", err)
		}
	}

	report := runReport{
		RunID:    runID,
		Workflow: wf.Name,
		Failed:   anyFailed(results),
		Steps:    results,
		Output:   renderOutput(wf, flags.team, ecosystem, runArgs, results),
	}
	printRun(cmd.OutOrStdout(), flags.output, report)

	if ctx.Err() != nil {
		return newExitError(130, fmt.Errorf("run cancelled"))
	}
	if report.Failed {
		return newExitError(1, fmt.Errorf("one or more steps failed"))
	}
	return nil
}

// renderOutput evaluates the workflow's declared `output` templates
// against the final, fully-populated step-result set (spec §6 "output
// table"). Unparsable or failing templates are reported as their error
// text rather than aborting an otherwise-successful run.
func renderOutput(wf *workflow.Workflow, team, ecosystem string, args map[string]any, results map[string]*stepresult.StepResult) map[string]string {
	if len(wf.Output) == 0 {
		return nil
	}
	tctx := template.Context{
		Args:      args,
		Env:       envMap(),
		Team:      team,
		Ecosystem: ecosystem,
		Steps:     results,
		Groups:    outputGroups(wf.Groups, results),
	}

	out := make(map[string]string, len(wf.Output))
	for name, src := range wf.Output {
		tpl, err := template.Parse(src)
		if err != nil {
			out[name] = fmt.Sprintf("<template error: %v>", err)
			continue
		}
		rendered, err := tpl.Render(tctx)
		if err != nil {
			out[name] = fmt.Sprintf("<render error: %v>", err)
			continue
		}
		out[name] = rendered
	}
	return out
}

func outputGroups(groups []workflow.Group, results map[string]*stepresult.StepResult) map[string]any {
	out := make(map[string]any, len(groups))
	for _, g := range groups {
		list := make([]any, 0, len(g.Steps))
		for _, name := range g.Steps {
			if r, ok := results[name]; ok {
				list = append(list, r.TemplateValue())
			}
		}
		out[g.Name] = list
	}
	return out
}

// saveStepOutputs writes one file per step into dir, named <step>.txt on
// success or <step>.failed.txt on failure, holding each step's rendered
// output text (or its failure summary). Grounded on workflow/runner.rs's
// create_output_dir/save_step_output, which does the same for post-run
// inspection of a workflow's per-step results.
func saveStepOutputs(dir string, results map[string]*stepresult.StepResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for name, res := range results {
		filename := name + ".txt"
		content := res.Output
		if res.Failed {
			filename = name + ".failed.txt"
			if res.Error != nil {
				content = res.Error.Summary()
			}
		}
		path := filepath.Join(dir, filename)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

func envMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
