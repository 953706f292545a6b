// Package feed is the HTTP client for the live statistics and odds provider
// (API-Football style). Every request is rate limited, guarded by a circuit
// breaker and retried with linear backoff on transient failures.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

// Config holds provider connection settings.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	MaxRetries        int
	RetryDelayBase    time.Duration
	RequestsPerMinute int
	StatsConcurrency  int
	// StatsTimeout bounds each fixture's statistics fetch, limiter wait included.
	StatsTimeout time.Duration
	// BookmakerID selects the pre-match bookmaker; zero takes the first listed.
	BookmakerID int
	// CornersMarket is the live market name holding total-corner lines.
	CornersMarket   string
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Observer is told the outcome of every request, for metrics.
type Observer func(endpoint string, err error)

// Client talks to the provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cfg        Config
	observe    Observer
}

// NewClient creates a provider client.
func NewClient(cfg Config) *Client {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.StatsConcurrency < 1 {
		cfg.StatsConcurrency = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "feed",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || callerGaveUp(err) || !errors.Is(err, models.ErrTransientFetch)
			},
		}),
		cfg:     cfg,
		observe: func(string, error) {},
	}
}

// SetObserver installs a request observer.
func (c *Client) SetObserver(o Observer) {
	if o != nil {
		c.observe = o
	}
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// envelope is the common provider response wrapper. Errors is an empty array on
// success and an object keyed by error name otherwise.
type envelope struct {
	Errors   json.RawMessage `json:"errors"`
	Results  int             `json:"results"`
	Response json.RawMessage `json:"response"`
}

func (e *envelope) providerError() string {
	raw := string(e.Errors)
	switch raw {
	case "", "null", "[]", "{}":
		return ""
	}
	return raw
}

// get performs a rate-limited, breaker-guarded GET and decodes the response
// payload into out. Transient failures are retried up to MaxRetries times.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for i := 0; i < c.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", models.ErrTransientFetch, path, ctx.Err())
			case <-time.After(time.Duration(i) * c.cfg.RetryDelayBase):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			err = fmt.Errorf("%w: %s: rate limit wait: %w", models.ErrTransientFetch, path, err)
			c.observe(path, err)
			return err
		}

		body, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, path, u)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %s: circuit %v", models.ErrTransientFetch, path, err)
			c.observe(path, err)
			return err
		}
		if err != nil {
			lastErr = err
			if errors.Is(err, models.ErrTransientFetch) && ctx.Err() == nil {
				continue
			}
			c.observe(path, err)
			return err
		}

		var env envelope
		if err := json.Unmarshal(body.([]byte), &env); err != nil {
			err = fmt.Errorf("%w: %s: decode envelope: %v", models.ErrDataShape, path, err)
			c.observe(path, err)
			return err
		}
		if msg := env.providerError(); msg != "" {
			err = fmt.Errorf("%w: %s: provider error %s", models.ErrTransientFetch, path, truncate([]byte(msg), 200))
			c.observe(path, err)
			return err
		}
		if err := json.Unmarshal(env.Response, out); err != nil {
			err = fmt.Errorf("%w: %s: decode response: %v", models.ErrDataShape, path, err)
			c.observe(path, err)
			return err
		}
		c.observe(path, nil)
		return nil
	}

	c.observe(path, lastErr)
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// callerGaveUp reports whether err stems from the caller's context ending rather
// than from the provider. Such failures never count against the breaker.
func callerGaveUp(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) do(ctx context.Context, path, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-apisports-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", models.ErrTransientFetch, path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", models.ErrTransientFetch, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: read body: %w", models.ErrTransientFetch, path, ctx.Err())
		}
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s: read body: %v", models.ErrTransientFetch, path, err)
		}
		return nil, fmt.Errorf("%s: read body: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned %d", models.ErrTransientFetch, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
