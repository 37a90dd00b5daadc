package data

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hydropulse/internal/model"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// MarketClient fetches day-ahead electricity prices from the market data API.
type MarketClient struct {
	APIKey  string
	BaseURL string
	Market  string
	Zone    string
	Client  *http.Client

	cache   *ResponseCache
	limiter *rate.Limiter
	log     *zap.Logger
}

type MarketOption func(*MarketClient)

// WithCache serves repeated queries from c.
func WithCache(c *ResponseCache) MarketOption { return func(m *MarketClient) { m.cache = c } }

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) MarketOption {
	return func(m *MarketClient) { m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewMarketClient creates a client. If baseURL is empty, defaults to
// "https://api.energy-charts.info".
func NewMarketClient(apiKey, baseURL, market, zone string, logger *zap.Logger, opts ...MarketOption) *MarketClient {
	if baseURL == "" {
		baseURL = "https://api.energy-charts.info"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &MarketClient{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Market:  market,
		Zone:    zone,
		Client:  &http.Client{Timeout: 30 * time.Second},
		log:     logger.Named("market"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// QueryParams selects a price window.
type QueryParams struct {
	Market    string
	Zone      string
	StartTime time.Time
	EndTime   time.Time
}

// MarketError is a non-success answer from the price API.
type MarketError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter string
}

func (e *MarketError) Error() string {
	return e.Message
}

// Query fetches the price intervals for params.
func (c *MarketClient) Query(ctx context.Context, params QueryParams) (*model.PriceSeriesResponse, error) {
	if params.Market == "" || params.Zone == "" {
		return nil, fmt.Errorf("market and zone are required")
	}
	if params.StartTime.IsZero() || params.EndTime.IsZero() {
		return nil, fmt.Errorf("start_time and end_time are required")
	}
	if params.StartTime.After(params.EndTime) {
		return nil, fmt.Errorf("start_time must be before end_time")
	}

	key := CacheKey(params)
	if cached, ok := c.cache.Get(key); ok {
		c.log.Debug("Cache hit", zap.String("market", params.Market), zap.String("zone", params.Zone), zap.Int("intervals", len(cached.Data)))
		return cached, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	u, err := url.Parse(fmt.Sprintf("%s/v1/markets/%s/prices", c.BaseURL, url.PathEscape(params.Market)))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("zone", params.Zone)
	q.Set("start_time", params.StartTime.UTC().Format(time.RFC3339))
	q.Set("end_time", params.EndTime.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.Client.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.log.Warn("Request failed", zap.Error(err), zap.Duration("duration", duration))
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug("Response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
		zap.String("market", params.Market),
		zap.String("zone", params.Zone))

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &MarketError{
			StatusCode: resp.StatusCode,
			Code:       "UNAUTHORIZED",
			Message:    "Invalid API key or insufficient permissions",
		}
	case http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		return nil, &MarketError{
			StatusCode: resp.StatusCode,
			Code:       "RATE_LIMIT_EXCEEDED",
			Message:    fmt.Sprintf("Rate limit exceeded. Retry after: %s", retryAfter),
			RetryAfter: retryAfter,
		}
	default:
		return nil, &MarketError{
			StatusCode: resp.StatusCode,
			Code:       "API_ERROR",
			Message:    fmt.Sprintf("API returned status %d: %s", resp.StatusCode, resp.Status),
		}
	}

	var result model.PriceSeriesResponse
	if err := codec.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	c.cache.Set(key, &result)
	c.log.Info("Fetched market prices",
		zap.Int("intervals", len(result.Data)),
		zap.String("market", params.Market),
		zap.String("zone", params.Zone))
	return &result, nil
}

// CurrentPrice returns the price in force at t, querying the UTC day that
// contains it.
func (c *MarketClient) CurrentPrice(ctx context.Context, t time.Time) (decimal.Decimal, error) {
	day := t.UTC().Truncate(24 * time.Hour)
	resp, err := c.Query(ctx, QueryParams{
		Market:    c.Market,
		Zone:      c.Zone,
		StartTime: day,
		EndTime:   day.Add(24 * time.Hour),
	})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := model.PriceAt(resp.Data, t)
	if !ok {
		return decimal.Zero, fmt.Errorf("no price interval covers %s", t.UTC().Format(time.RFC3339))
	}
	return price, nil
}

// SeriesPrice serves prices from a recorded series, as replays do.
type SeriesPrice []model.PriceInterval

func (s SeriesPrice) CurrentPrice(_ context.Context, t time.Time) (decimal.Decimal, error) {
	price, ok := model.PriceAt(s, t)
	if !ok {
		return decimal.Zero, fmt.Errorf("no recorded price at %s", t.UTC().Format(time.RFC3339))
	}
	return price, nil
}
