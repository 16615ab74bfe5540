package httpclient

import "time"

// RateLimitInfo captures the rate-limit headers a provider returns
// alongside a 429 or a successful response. ParseOpenAIRateLimitHeaders in
// parsers.go populates it; reconstructed here since the type itself, like
// the generic registry package, was missing from the retrieved pack.
type RateLimitInfo struct {
	RetryAfter            time.Duration
	ResetTime             int64
	RequestsRemaining     int
	TokensRemaining       int
	InputTokensRemaining  int
	OutputTokensRemaining int
}
