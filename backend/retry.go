package backend

import (
	"context"
	"math/rand"
	"time"

	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/internal/httpclient"
	"github.com/ducks/llmux/stepresult"
)

// attemptFunc performs one backend invocation attempt.
type attemptFunc func(ctx context.Context, attempt int) (string, *stepresult.StepError)

// withRetry drives cfg's retry policy (spec §4.3 "Retry policy (both)")
// around a single attempt function: on a classified-retryable error, back
// off retry_delay*2^(attempt-1) with jitter, up to max_retries; permanent
// errors and exhausted retries return immediately. A 429's Retry-After
// header, when the attempt set one on the StepError, overrides the
// computed backoff rather than just informing it (spec §4.3 "retry-after
// header respected when present").
func withRetry(ctx context.Context, cfg config.Backend, do attemptFunc) (string, *stepresult.StepError) {
	maxAttempts := cfg.MaxRetries + 1
	var lastErr *stepresult.StepError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, stepErr := do(ctx, attempt)
		if stepErr == nil {
			return out, nil
		}
		stepErr.Attempt = attempt
		stepErr.MaxAttempts = maxAttempts
		lastErr = stepErr

		if ctx.Err() != nil {
			stepErr.WillRetry = false
			return "", stepErr
		}

		retryable := stepErr.Kind.RetryableTransient()
		if stepErr.Kind == stepresult.KindTimeout && cfg.RetryTimeout != nil && !*cfg.RetryTimeout {
			retryable = false
		}
		if stepErr.Kind == stepresult.KindRateLimit && cfg.RetryRateLimit != nil && !*cfg.RetryRateLimit {
			retryable = false
		}
		if !retryable || attempt == maxAttempts {
			stepErr.WillRetry = false
			return "", stepErr
		}
		stepErr.WillRetry = true

		delay := httpclient.RetryAfterOrDefault(httpclient.RateLimitInfo{RetryAfter: stepErr.RetryAfter}, backoffDelay(cfg.RetryDelayMS, attempt))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr.WillRetry = false
			return "", lastErr
		case <-timer.C:
		}
	}
	return "", lastErr
}

// backoffDelay computes retry_delay * 2^(attempt-1) with +/-20% jitter.
func backoffDelay(baseMS int, attempt int) time.Duration {
	if baseMS <= 0 {
		baseMS = 1000
	}
	base := float64(baseMS) * float64(int64(1)<<uint(attempt-1))
	jitter := 0.8 + rand.Float64()*0.4 // [0.8, 1.2)
	return time.Duration(base * jitter * float64(time.Millisecond))
}
