package features

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/sitescore/internal/config"
	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/resilience"
)

const snapshotPath = "/v1/features"

// snapshotResponse is the JSON body of a feature service response. Null
// values mark features the service could not compute.
type snapshotResponse struct {
	Values  map[string]*float64 `json:"values"`
	Sources map[string]string   `json:"sources"`
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the key sent in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithCircuitBreaker sets the breaker guarding the feature service.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// Client fetches snapshots from a remote feature service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = resilience.IsTransient

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		retry:      resilience.DefaultRetryConfig(),
		breaker:    resilience.NewCircuitBreaker(breakerCfg),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("features", "snapshot")
	return c
}

// FromConfig creates a Client from application config.
func FromConfig(cfg config.FeaturesConfig) *Client {
	opts := []Option{WithAPIKey(cfg.APIKey)}
	if cfg.RateLimit > 0 {
		opts = append(opts, WithRateLimit(cfg.RateLimit))
	}
	if cfg.TimeoutSecs > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}))
	}
	return NewClient(cfg.BaseURL, opts...)
}

// Snapshot fetches the features for loc. Transient failures are retried
// and repeated failures open the circuit breaker.
func (c *Client) Snapshot(ctx context.Context, loc model.Location, category string) (*model.FeatureSnapshot, error) {
	if !loc.Valid() {
		return nil, eris.Errorf("features: invalid location %s", formatLocation(loc))
	}
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*model.FeatureSnapshot, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*model.FeatureSnapshot, error) {
			return c.fetch(ctx, loc, category)
		})
	})
}

func (c *Client) fetch(ctx context.Context, loc model.Location, category string) (*model.FeatureSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "features: rate limit")
	}

	params := url.Values{
		"lat":      {strconv.FormatFloat(loc.Lat, 'f', -1, 64)},
		"lng":      {strconv.FormatFloat(loc.Lng, 'f', -1, 64)},
		"category": {category},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+snapshotPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "features: build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "features: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNoCoverage, "features: %s", formatLocation(loc))
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("features: service returned status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("features: service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "features: read body")
	}

	var sr snapshotResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "features: parse response")
	}

	snap := &model.FeatureSnapshot{
		Location: &loc,
		Values:   make(map[string]float64, len(sr.Values)),
	}
	for k, v := range sr.Values {
		if v != nil {
			snap.Values[k] = *v
		}
	}
	if len(sr.Sources) > 0 {
		snap.Sources = sr.Sources
	}
	return snap, nil
}
