package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	maxErrorBody     = 4 << 10
)

// initialBackoff is a var so tests can shorten it.
var initialBackoff = 500 * time.Millisecond

// Retry calls fn until it succeeds or fails with something other than a rate
// limit, backing off exponentially between attempts.
func Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := range maxRetries {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRateLimit(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// Breaker trips after repeated upstream failures so a dead provider fails
// fast instead of holding every generation open until its timeout.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker returns a breaker that opens after five consecutive failures
// and tries again after thirty seconds.
func NewBreaker(name string) *Breaker {
	return &Breaker{
		name: name,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: upstreamHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("provider circuit changed state", "provider", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Do runs fn through the breaker with rate-limit retries.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, Retry(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s unavailable: %w", b.name, err)
	}
	return err
}

// upstreamHealthy decides which errors count against the breaker. Client
// errors and cancellations say nothing about the provider's health.
func upstreamHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || IsDecode(err) || errors.Is(err, ErrMissingKey) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < 500 && se.Code != http.StatusTooManyRequests
	}
	return false
}

// Transport posts JSON to a REST provider.
type Transport struct {
	name       string
	httpClient *http.Client
	breaker    *Breaker
}

// NewTransport creates a Transport for the named provider. Timeouts are
// applied per request, so the http.Client itself has none.
func NewTransport(name string) *Transport {
	return &Transport{
		name:       name,
		httpClient: &http.Client{},
		breaker:    NewBreaker(name),
	}
}

// PostJSON sends body as JSON and returns the response body. Streaming
// requests get a longer deadline. The caller must close the returned body.
func (t *Transport) PostJSON(ctx context.Context, url string, header http.Header, body any, stream bool) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	timeout := defaultTimeout
	if stream {
		timeout = streamingTimeout
	}

	var rc io.ReadCloser
	err = t.breaker.Do(ctx, func() error {
		var doErr error
		rc, doErr = t.do(ctx, url, header, data, timeout)
		return doErr
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (t *Transport) do(ctx context.Context, url string, header http.Header, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: executing request: %w", t.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Provider: t.name, Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	// The caller's Close releases the per-request deadline.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
