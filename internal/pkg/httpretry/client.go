// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff, and jitter for calls to external APIs.
package httpretry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 1 * time.Second
	defaultMaxDelay   = 30 * time.Second

	// jitter spreads each delay over [d*(1-jitter), d*(1+jitter)].
	jitter = 0.5
)

// RetryClient wraps an HTTPDoer with retry logic using exponential backoff and jitter.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Logger
}

// Option customizes a RetryClient.
type Option func(*RetryClient)

// WithBackoff sets the first retry delay and the cap on later delays.
func WithBackoff(base, max time.Duration) Option {
	return func(rc *RetryClient) {
		if base > 0 {
			rc.baseDelay = base
		}
		if max >= rc.baseDelay {
			rc.maxDelay = max
		}
	}
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
// maxRetries is the number of retry attempts after the initial request;
// a negative value disables retries and zero means the default of 3.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	rc := newRetryClient(maxRetries, opts)
	rc.client = client
	rc.log = logger.Named("httpretry")
	return rc
}

func newRetryClient(maxRetries int, opts []Option) *RetryClient {
	switch {
	case maxRetries == 0:
		maxRetries = defaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	rc := &RetryClient{
		maxRetries: maxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// MaxElapsed returns the longest a Do call can run on a client built with
// the same maxRetries and opts when each attempt takes up to perAttempt:
// every attempt plus the largest possible wait before each retry.
func MaxElapsed(perAttempt time.Duration, maxRetries int, opts ...Option) time.Duration {
	rc := newRetryClient(maxRetries, opts)
	total := time.Duration(rc.maxRetries+1) * perAttempt
	interval := rc.baseDelay
	for i := 0; i < rc.maxRetries; i++ {
		total += time.Duration(float64(interval) * (1 + jitter))
		interval *= 2
		if interval > rc.maxDelay {
			interval = rc.maxDelay
		}
	}
	return total
}

// Do executes the HTTP request with retry logic.
// It retries on retryable status codes (429, 500, 502, 503, 504) and
// transient network/timeout errors. It does NOT retry on client errors
// or context cancellation.
// On the final attempt, it returns the response as-is so the caller
// can inspect the status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	bo := rc.newBackOff()

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			// Reset request body for retry if applicable
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := bo.NextBackOff()
			rc.log.Debug("Retrying request",
				"attempt", attempt,
				"max_retries", rc.maxRetries,
				"method", req.Method,
				"host", req.URL.Host,
				"path", req.URL.Path,
				"wait", delay.String(),
			)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !IsRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		// Drain body for connection reuse, then retry
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// newBackOff returns the delay schedule for one Do call: baseDelay doubling
// up to maxDelay, each value jittered.
func (rc *RetryClient) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = rc.baseDelay
	bo.MaxInterval = rc.maxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = jitter
	bo.Reset()
	return bo
}

// IsRetryableStatus reports whether statusCode is 429, 500, 502, 503 or 504.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
