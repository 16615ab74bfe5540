package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/workflow"
)

// defaultRetryOn is the step-layer retry trigger set a step falls back to
// when it declares retries but no retry_on (spec §7 "Step layer may retry
// on kinds listed in retry_on (default: RateLimit, Timeout,
// OutputParseFailed)").
var defaultRetryOn = []stepresult.ErrorKind{
	stepresult.KindRateLimit,
	stepresult.KindTimeout,
	stepresult.KindOutputParseFailed,
}

func retryableKinds(step *workflow.Step) map[stepresult.ErrorKind]bool {
	set := make(map[stepresult.ErrorKind]bool, len(defaultRetryOn))
	if len(step.RetryOn) == 0 {
		for _, k := range defaultRetryOn {
			set[k] = true
		}
		return set
	}
	for _, k := range step.RetryOn {
		set[stepresult.ErrorKind(k)] = true
	}
	return set
}

// retryStep wraps a single step dispatch in the generic step-level retry
// loop spec §3/§7 declare for every step type: up to step.Retries extra
// attempts, backing off step.RetryDelayMS*2^(attempt-1) with jitter (or the
// failure's own RetryAfter, when that is the longer wait), gated on the
// kinds step.RetryOn names. runShell previously ran this loop inline for
// shell steps only; query/apply/store dispatch share it here too.
func retryStep(ctx context.Context, step *workflow.Step, attempt func(attempt int) *stepresult.StepResult) *stepresult.StepResult {
	maxAttempts := step.Retries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryOn := retryableKinds(step)

	var res *stepresult.StepResult
	for a := 1; a <= maxAttempts; a++ {
		res = attempt(a)
		if res.Attempt == 0 {
			res.Attempt = a
		}
		if !res.Failed || res.Error == nil {
			return res
		}
		res.Error.Attempt = a
		res.Error.MaxAttempts = maxAttempts

		if a == maxAttempts || !retryOn[res.Error.Kind] {
			res.Error.WillRetry = false
			return res
		}
		res.Error.WillRetry = true

		delay := stepBackoff(step.RetryDelayMS, a)
		if res.Error.RetryAfter > delay {
			delay = res.Error.RetryAfter
		}
		select {
		case <-ctx.Done():
			cancelled := stepresult.NewFailed(step.Name, &stepresult.StepError{
				Kind: stepresult.KindCancelled, Message: "cancelled during step retry wait",
			})
			cancelled.Attempt = a
			return cancelled
		case <-time.After(delay):
		}
	}
	return res
}

// stepBackoff computes retry_delay * 2^(attempt-1) with +/-20% jitter, the
// same formula backend/retry.go's backoffDelay uses for backend-level
// retries.
func stepBackoff(baseMS, attempt int) time.Duration {
	if baseMS <= 0 {
		baseMS = 1000
	}
	base := float64(baseMS) * float64(int64(1)<<uint(attempt-1))
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(base*jitter) * time.Millisecond
}
