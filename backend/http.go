package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/internal/httpclient"
	"github.com/ducks/llmux/stepresult"
)

// httpExecutor posts a chat-completions request, grounded on
// llms/openai.go's OpenAIProvider request/response shapes and
// buildRequest/makeRequest split.
type httpExecutor struct {
	name string
	cfg  config.Backend
	hc   *http.Client
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (e *httpExecutor) Name() string { return e.name }

func (e *httpExecutor) client() *http.Client {
	if e.hc != nil {
		return e.hc
	}
	return http.DefaultClient
}

func (e *httpExecutor) Execute(ctx context.Context, prompt string) (string, *stepresult.StepError) {
	return withRetry(ctx, e.cfg, func(ctx context.Context, attempt int) (string, *stepresult.StepError) {
		return e.attempt(ctx, prompt, attempt)
	})
}

func (e *httpExecutor) attempt(ctx context.Context, prompt string, attempt int) (string, *stepresult.StepError) {
	startedAt := time.Now()
	timeout := time.Duration(e.cfg.TimeoutMS) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Stream: false,
	})
	if err != nil {
		return "", e.fail(stepresult.KindConfigError, startedAt, attempt, 0, err)
	}

	url := e.cfg.Command + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", e.fail(stepresult.KindConfigError, startedAt, attempt, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client().Do(httpReq)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return "", e.fail(stepresult.KindTimeout, startedAt, attempt, 0, err)
		}
		return "", e.fail(stepresult.KindNetworkError, startedAt, attempt, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", e.fail(stepresult.KindNetworkError, startedAt, attempt, resp.StatusCode, err)
	}

	class := httpclient.ClassifyStatus(resp.StatusCode)
	if class != httpclient.ClassSuccess {
		info := httpclient.ParseOpenAIRateLimitHeaders(resp.Header)
		return "", e.classifyFailure(class, startedAt, attempt, resp.StatusCode, info, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", e.fail(stepresult.KindOutputParseFailed, startedAt, attempt, resp.StatusCode, err)
	}
	if len(parsed.Choices) == 0 {
		return "", e.fail(stepresult.KindOutputParseFailed, startedAt, attempt, resp.StatusCode,
			fmt.Errorf("response contained no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}

func (e *httpExecutor) classifyFailure(class httpclient.StatusClass, startedAt time.Time, attempt, status int, info httpclient.RateLimitInfo, raw []byte) *stepresult.StepError {
	msg := string(raw)
	var kind stepresult.ErrorKind
	switch class {
	case httpclient.ClassRateLimit:
		kind = stepresult.KindRateLimit
	case httpclient.ClassAuth:
		kind = stepresult.KindAuthError
	case httpclient.ClassServerUnavailable:
		kind = stepresult.KindBackendUnavailable
	default:
		kind = stepresult.KindConfigError
	}
	se := &stepresult.StepError{
		Kind:       kind,
		StartedAt:  startedAt,
		FailedAt:   time.Now(),
		HTTPStatus: status,
		Attempt:    attempt,
		Backend:    e.name,
		Message:    msg,
	}
	if kind == stepresult.KindRateLimit && info.RetryAfter > 0 {
		se.RetryAfter = info.RetryAfter
		se.Message = fmt.Sprintf("%s (retry-after %s)", msg, info.RetryAfter)
	}
	return se
}

func (e *httpExecutor) fail(kind stepresult.ErrorKind, startedAt time.Time, attempt, status int, err error) *stepresult.StepError {
	return &stepresult.StepError{
		Kind:       kind,
		StartedAt:  startedAt,
		FailedAt:   time.Now(),
		HTTPStatus: status,
		Attempt:    attempt,
		Backend:    e.name,
		Message:    err.Error(),
		Err:        err,
	}
}
