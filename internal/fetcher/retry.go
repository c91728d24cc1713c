package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultInitialInterval = 10 * time.Second
	defaultMaxInterval     = 60 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 2
	defaultJitter          = 0.1
	defaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Retrier implements exponential backoff with jitter.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	onRetry         func(attempt int, err error)
}

// RetryOption configures a Retrier.
type RetryOption func(*Retrier)

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) RetryOption {
	return func(r *Retrier) {
		r.initialInterval = d
	}
}

// WithMaxInterval caps the backoff delay.
func WithMaxInterval(d time.Duration) RetryOption {
	return func(r *Retrier) {
		r.maxInterval = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) RetryOption {
	return func(r *Retrier) {
		r.multiplier = m
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) RetryOption {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) RetryOption {
	return func(r *Retrier) {
		r.jitter = j
	}
}

// WithOnRetry registers a hook invoked before every retry.
func WithOnRetry(fn func(attempt int, err error)) RetryOption {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// NewRetrier creates a Retrier with defaults and optional overrides.
func NewRetrier(opts ...RetryOption) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do executes fn until it succeeds, returns a permanent error, or retries run out.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	interval := r.initialInterval

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if r.onRetry != nil {
				r.onRetry(attempt, err)
			}

			jitter := (rand.Float64()*2 - 1) * r.jitter * float64(interval)
			sleepDuration := time.Duration(float64(interval) + jitter)
			if sleepDuration < 0 {
				sleepDuration = 0
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepDuration):
			}

			interval = time.Duration(float64(interval) * r.multiplier)
			if interval > r.maxInterval {
				interval = r.maxInterval
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}

	return err
}

// DoWithData executes fn with retries and returns its value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}

// HTTPOptions are shared by every HTTP source.
type HTTPOptions struct {
	Timeout       time.Duration
	RetryTimes    int
	RetryInterval time.Duration
	UserAgent     string
}

// httpResponse is a fully read response.
type httpResponse struct {
	Status int
	Body   []byte
}

// httpSource issues requests with a shared timeout, User-Agent and retry policy.
// Transport failures and 5xx responses are retried; other statuses are returned.
type httpSource struct {
	client    *http.Client
	retrier   *Retrier
	userAgent string
	logger    zerolog.Logger
}

func newHTTPSource(opts HTTPOptions, logger zerolog.Logger) *httpSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := opts.RetryTimes
	if attempts <= 0 {
		attempts = 1
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = defaultInitialInterval
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}

	src := &httpSource{
		client:    &http.Client{Timeout: timeout},
		userAgent: ua,
		logger:    logger,
	}
	src.retrier = NewRetrier(
		WithInitialInterval(interval),
		WithMaxInterval(6*interval),
		WithMaxRetries(attempts-1),
		WithOnRetry(func(attempt int, err error) {
			src.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", attempts).Msg("request failed, retrying")
		}),
	)
	return src
}

// do builds a fresh request per attempt via build.
func (h *httpSource) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (httpResponse, error) {
	return DoWithData(h.retrier, ctx, func(ctx context.Context) (httpResponse, error) {
		req, err := build(ctx)
		if err != nil {
			return httpResponse{}, Permanent(err)
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", h.userAgent)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return httpResponse{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return httpResponse{}, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return httpResponse{}, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))
		}
		return httpResponse{Status: resp.StatusCode, Body: body}, nil
	})
}

func truncate(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		return s[:n]
	}
	return s
}
