package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/lox/visitorlog/internal/metrics"
)

var (
	// ErrUpstream is returned when an upstream could not be reached or
	// answered with a non-2xx status.
	ErrUpstream = errors.New("upstream request failed")
	// ErrParse is returned when an upstream answered but the body could not
	// be interpreted.
	ErrParse = errors.New("upstream response could not be parsed")
	// ErrElementNotFound is returned when the visitor page lacks the count.
	ErrElementNotFound = errors.New("visitor count element not found")
)

const maxBodyBytes = 4 << 20

// FetchConfig controls retries for one upstream.
type FetchConfig struct {
	Client    *http.Client
	UserAgent string
	// Retries is the number of extra attempts after the first.
	Retries         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// fetcher GETs a single upstream with bounded retries behind a circuit
// breaker. 429 and 5xx responses and transport errors are retried; other
// statuses fail immediately.
type fetcher struct {
	name    string
	cfg     FetchConfig
	breaker *gobreaker.CircuitBreaker
}

func newFetcher(name string, cfg FetchConfig) *fetcher {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	return &fetcher{
		name: name,
		cfg:  cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    10 * time.Minute,
			Timeout:     5 * time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("status %d", e.code)
	}
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// get returns the body of a successful GET to url.
func (f *fetcher) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	start := time.Now()
	body, err := f.retry(ctx, url, header)
	metrics.FetchLatency.WithLabelValues(f.name).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.FetchesTotal.WithLabelValues(f.name, status).Inc()

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, f.name, err)
	}
	return body, nil
}

func (f *fetcher) retry(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var body []byte
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		result, err := f.breaker.Execute(func() (interface{}, error) {
			return f.do(ctx, url, header)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("circuit breaker open: %w", err))
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return backoff.Permanent(err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body = result.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.InitialInterval
	bo.MaxInterval = f.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(f.cfg.Retries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *fetcher) do(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: string(b)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
