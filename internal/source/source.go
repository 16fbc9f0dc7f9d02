// Package source fetches content items from external sources as lazy,
// oldest-first sequences that resume from a stored cursor position.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"time"

	"scout/internal/metrics"
	"scout/internal/model"
)

// ErrUnavailable marks transient source failures: network errors, 5xx,
// auth and not-found responses, undecodable payloads.
var ErrUnavailable = errors.New("source unavailable")

// RateLimitedError is returned when the source answers with HTTP 429.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Client fetches items newer than cursor for one target. The sequence is
// finite, ordered oldest first, and yields at most limit items. An error
// ends the sequence.
type Client interface {
	FetchSince(ctx context.Context, target, cursor string, limit int) iter.Seq2[model.Item, error]
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry maps source kinds to their clients.
type Registry map[model.SourceKind]Client

// Client returns the client registered for kind.
func (r Registry) Client(kind model.SourceKind) (Client, error) {
	c, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no client for source %q", kind)
	}
	return c, nil
}

const (
	maxBodySize       = 5 * 1024 * 1024
	defaultRetryAfter = time.Minute
)

var errItemNotFound = errors.New("item not found")

// get performs a bounded GET and returns the response body. Status codes are
// mapped onto the package error taxonomy.
func get(ctx context.Context, client HTTPClient, source, url, userAgent string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "application/json, application/rss+xml, application/atom+xml, */*")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		metrics.ObserveSourceRequest(source, 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: http get: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveSourceRequest(source, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errItemNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return body, nil
}

// parseRetryAfter accepts delay seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

// lazy defers fetch until the sequence is iterated, then yields its items
// in order or its error.
func lazy(fetch func() ([]model.Item, error)) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		items, err := fetch()
		if err != nil {
			yield(model.Item{}, err)
			return
		}
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}
