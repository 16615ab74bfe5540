package scheduler

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/template"
	"github.com/ducks/llmux/workflow"
)

// runShell renders and executes a "shell" step's command (spec §3, §6).
// Grounded on tools/command.go's CommandTool.executeCommand, generalized
// to drain stdout/stderr concurrently (as backend/cli.go does for backend
// subprocesses) rather than via CombinedOutput. Its retry policy is the
// generic step-level wrapper shared with query/apply/store dispatch.
func (s *Scheduler) runShell(ctx context.Context, step *workflow.Step, tctx template.Context) *stepresult.StepResult {
	cmdText, err := renderField(step.Run, tctx)
	if err != nil {
		return templateFailure(step.Name, "run", err)
	}

	return retryStep(ctx, step, func(attempt int) *stepresult.StepResult {
		stdout, se := shellAttempt(ctx, cmdText, step.TimeoutMS)
		if se == nil {
			return &stepresult.StepResult{StepName: step.Name, Output: stdout}
		}
		return stepresult.NewFailed(step.Name, se)
	})
}

func shellAttempt(ctx context.Context, cmdText string, timeoutMS int) (string, *stepresult.StepError) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeoutMS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", cmdText)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", &stepresult.StepError{Kind: stepresult.KindConfigError, Message: "opening stdout pipe", Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", &stepresult.StepError{Kind: stepresult.KindConfigError, Message: "opening stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return "", &stepresult.StepError{Kind: stepresult.KindConfigError, Message: "starting command", Err: err}
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); stdout.ReadFrom(stdoutPipe) }()
	go func() { defer wg.Done(); stderr.ReadFrom(stderrPipe) }()
	wg.Wait()

	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		return "", &stepresult.StepError{
			Kind: stepresult.KindTimeout, Command: cmdText,
			Stdout: stdout.String(), Stderr: stderr.String(),
			Message: "command exceeded timeout",
		}
	}

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", &stepresult.StepError{
			Kind: stepresult.KindBackendUnavailable, Command: cmdText,
			Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode,
			Message: "command exited with an error", Err: waitErr,
		}
	}

	return stdout.String(), nil
}
