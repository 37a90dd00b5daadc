package data

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hydropulse/internal/model"
)

const pricesBody = `{
  "status_code": 200,
  "data": [
    {"interval_start_utc": "2026-05-01T00:00:00Z", "interval_end_utc": "2026-05-01T12:00:00Z", "market": "EPEX", "zone": "DE-LU", "price": 72.5},
    {"interval_start_utc": "2026-05-01T12:00:00Z", "interval_end_utc": "2026-05-02T00:00:00Z", "market": "EPEX", "zone": "DE-LU", "price": "91.25"}
  ]
}`

func TestMarketClientQueryAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/markets/EPEX/prices", r.URL.Path)
		assert.Equal(t, "DE-LU", r.URL.Query().Get("zone"))
		assert.Equal(t, "2026-05-01T00:00:00Z", r.URL.Query().Get("start_time"))
		assert.Equal(t, "secret-key", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(pricesBody))
	}))
	defer srv.Close()

	c := NewMarketClient("secret-key", srv.URL, "EPEX", "DE-LU", zaptest.NewLogger(t),
		WithCache(NewResponseCache(time.Hour)), WithRateLimit(100, 1))

	at := time.Date(2026, 5, 1, 15, 30, 0, 0, time.UTC)
	price, err := c.CurrentPrice(context.Background(), at)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("91.25")), price.String())

	price, err = c.CurrentPrice(context.Background(), at.Add(-10*time.Hour))
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("72.5")))
	assert.Equal(t, int32(1), hits.Load(), "second lookup served from cache")
}

func TestMarketClientErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := NewMarketClient("", srv.URL, "EPEX", "DE-LU", nil)
	params := QueryParams{Market: "EPEX", Zone: "DE-LU", StartTime: time.Unix(0, 0), EndTime: time.Unix(3600, 0)}

	_, err := c.Query(context.Background(), params)
	var me *MarketError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", me.Code)
	assert.Equal(t, "30", me.RetryAfter)

	status.Store(http.StatusForbidden)
	_, err = c.Query(context.Background(), params)
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "UNAUTHORIZED", me.Code)

	_, err = c.Query(context.Background(), QueryParams{Market: "EPEX"})
	assert.Error(t, err)
	_, err = c.Query(context.Background(), QueryParams{Market: "EPEX", Zone: "X", StartTime: time.Unix(10, 0), EndTime: time.Unix(0, 0)})
	assert.Error(t, err)
}

func TestResponseCacheExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewResponseCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", &model.PriceSeriesResponse{StatusCode: 200})
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Evict())
	assert.Equal(t, 0, c.Len())

	var nilCache *ResponseCache
	nilCache.Set("k", nil)
	_, ok = nilCache.Get("k")
	assert.False(t, ok)
}

func TestCacheKeyIsStable(t *testing.T) {
	p := QueryParams{Market: "EPEX", Zone: "DE-LU", StartTime: time.Unix(0, 0), EndTime: time.Unix(60, 0)}
	assert.Equal(t, CacheKey(p), CacheKey(p))
	q := p
	q.Zone = "AT"
	assert.NotEqual(t, CacheKey(p), CacheKey(q))
}

func TestReplayFixtureRoundTrip(t *testing.T) {
	in := &model.ReplayInputs{
		Samples: []model.RawSample{
			{TagID: "DB100.DBD20", Value: 13824, TimestampMs: 2000},
			{TagID: "DB100.DBD20", Value: 13800, TimestampMs: 1000},
		},
		Vetoes: []model.VetoRecord{{ActionID: "a", ActionType: "INCREASE_LOAD", Reason: "r", Timestamp: time.Unix(5, 0).UTC()}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteReplayJSON(&buf, in))

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	got, err := LoadReplayJSON(path)
	require.NoError(t, err)
	require.Len(t, got.Samples, 2)
	assert.Equal(t, int64(1000), got.Samples[0].TimestampMs, "sorted into arrival order")
	assert.Equal(t, "INCREASE_LOAD", got.Vetoes[0].ActionType)

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"samples": []}`), 0o600))
	_, err = LoadReplayJSON(empty)
	assert.Error(t, err)
}

func TestLoadPriceJSONAndSeriesPrice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.json")
	require.NoError(t, os.WriteFile(path, []byte(pricesBody), 0o600))
	resp, err := LoadPriceJSON(path)
	require.NoError(t, err)
	assert.Len(t, GroupByZone(resp)["DE-LU"], 2)

	s := SeriesPrice(resp.Data)
	p, err := s.CurrentPrice(context.Background(), time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("72.5")))

	_, err = s.CurrentPrice(context.Background(), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}
