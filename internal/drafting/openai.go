package drafting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"scout/internal/metrics"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OpenAI calls an OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	client     HTTPClient
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewOpenAI creates a chat completions client. Transient failures are
// retried up to maxRetries times with exponential backoff.
func NewOpenAI(client HTTPClient, baseURL, apiKey, model string, timeout time.Duration, maxRetries uint64) *OpenAI {
	return &OpenAI{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		timeout:    timeout,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Generator.
func (c *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: api key is empty", ErrUnavailable)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    Messages(req),
		Temperature: 0.7,
		MaxTokens:   512,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var text string
	op := func() error {
		var err error
		text, err = c.complete(ctx, body)
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", err
	}
	return text, nil
}

// complete makes a single call. Errors that must not be retried are
// wrapped with backoff.Permanent.
func (c *OpenAI) complete(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.ObserveDraft("error", time.Since(start))
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", fmt.Errorf("%w: do request: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveDraft("error", time.Since(start))
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		metrics.ObserveDraft(fmt.Sprintf("http_%d", resp.StatusCode), time.Since(start))
		msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		var apiErr apiErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		if retryable(resp.StatusCode) {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, msg)
		}
		return "", backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, msg))
	}

	var completion chatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		metrics.ObserveDraft("error", time.Since(start))
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(completion.Choices) == 0 {
		metrics.ObserveDraft("rejected", time.Since(start))
		return "", backoff.Permanent(fmt.Errorf("%w: no choices returned", ErrRejected))
	}
	choice := completion.Choices[0]
	if choice.FinishReason == "content_filter" {
		metrics.ObserveDraft("rejected", time.Since(start))
		return "", backoff.Permanent(fmt.Errorf("%w: content filtered", ErrRejected))
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		metrics.ObserveDraft("rejected", time.Since(start))
		return "", backoff.Permanent(fmt.Errorf("%w: empty completion", ErrRejected))
	}

	metrics.ObserveDraft("ok", time.Since(start))
	return text, nil
}

func retryable(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}
