package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// rateLimitHeaders names the OpenAI-compatible chat-completions headers a
// 429 (or a successful response nearing its quota) may carry. Only this
// shape is in scope: no provider-specific header set beyond it.
var rateLimitHeaders = struct {
	retryAfter        string
	resetRequests     string
	resetTokens       string
	remainingRequests string
	remainingTokens   string
}{
	retryAfter:        "Retry-After",
	resetRequests:     "x-ratelimit-reset-requests",
	resetTokens:       "x-ratelimit-reset-tokens",
	remainingRequests: "x-ratelimit-remaining-requests",
	remainingTokens:   "x-ratelimit-remaining-tokens",
}

// ParseOpenAIRateLimitHeaders extracts the rate-limit bookkeeping an
// OpenAI-compatible chat-completions endpoint returns, for threading into
// a backend's retry/backoff decision (spec §4.3 "retry-after header
// respected when present").
func ParseOpenAIRateLimitHeaders(headers http.Header) RateLimitInfo {
	var info RateLimitInfo

	if v := headers.Get(rateLimitHeaders.retryAfter); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	if v := headers.Get(rateLimitHeaders.resetRequests); v != "" {
		info.ResetTime = parseInt64(v)
	} else if v := headers.Get(rateLimitHeaders.resetTokens); v != "" {
		info.ResetTime = parseInt64(v)
	}

	info.RequestsRemaining = parseInt(headers.Get(rateLimitHeaders.remainingRequests))
	info.TokensRemaining = parseInt(headers.Get(rateLimitHeaders.remainingTokens))

	return info
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
