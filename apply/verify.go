package apply

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/ducks/llmux/stepresult"
)

// runVerify executes a step's verify command, optionally bounded by
// timeoutMS, and classifies the outcome into a *stepresult.StepError (nil
// on a zero exit). Grounded on apply_and_verify/verification.rs's
// run_verify: spawn via a shell, race the command against a timeout, and
// kill-and-reap on expiry rather than leaving the process to finish
// unobserved. exec.CommandContext already performs that kill on context
// cancellation, so the timeout is applied as a context deadline rather
// than a manual timer.
func runVerify(ctx context.Context, baseDir, command string, timeoutMS int) (stdout, stderr string, verifyErr *stepresult.StepError) {
	runCtx := ctx
	if timeoutMS > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = baseDir
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	if runCtx.Err() == context.DeadlineExceeded {
		return stdout, stderr, &stepresult.StepError{
			Kind: stepresult.KindTimeout, Command: command,
			Stdout: stdout, Stderr: stderr,
			Message: "verify command exceeded timeout",
		}
	}
	if err == nil {
		return stdout, stderr, nil
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	return stdout, stderr, &stepresult.StepError{
		Kind: stepresult.KindVerificationFailed, Command: command,
		Stdout: stdout, Stderr: stderr, ExitCode: exitCode,
		Message: "verify command exited with an error", Err: err,
	}
}
