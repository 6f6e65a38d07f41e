// Package noaa fetches the latest station observation from the National
// Weather Service API (api.weather.gov).
package noaa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/observability"
)

// maxBodyBytes bounds a single observation response.
const maxBodyBytes = 1 << 20

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RateLimit is the maximum requests per second across all stations.
	RateLimit float64
	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// Client fetches raw observation documents. It is safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an NWS client guarded by a rate limiter and a circuit breaker.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	failures := opts.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Client{
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "nws",
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(failures)
			},
			// Shutdown cancellations say nothing about provider health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		metrics: metrics,
		logger:  logger,
	}
}

// FetchLatest returns the raw JSON body of the station's latest observation.
// Every failure wraps domain.ErrFetchFailed.
func (c *Client) FetchLatest(ctx context.Context, station string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.FetchFailed(station, err)
	}

	body, err := c.breaker.Execute(func() (any, error) {
		return c.get(ctx, station)
	})
	if err != nil {
		return nil, domain.FetchFailed(station, err)
	}
	return body.([]byte), nil
}

func (c *Client) get(ctx context.Context, station string) ([]byte, error) {
	u := fmt.Sprintf("%s/stations/%s/observations/latest", c.baseURL, url.PathEscape(station))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// api.weather.gov rejects requests without an identifying User-Agent.
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/geo+json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ProviderRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("observation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nws API error: status %d: %s", resp.StatusCode, snippet)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("observation fetched", "station", station, "bytes", len(body))
	return body, nil
}

// BreakerState reports the circuit state, for diagnostics.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}
