package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"hydropulse/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newGateway(t *testing.T, clock *fakeClock) *Gateway {
	t.Helper()
	opts := []Option{}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	g, err := New(DefaultTags(), zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestNormalize(t *testing.T) {
	g := newGateway(t, nil)

	tests := []struct {
		name    string
		in      model.RawSample
		id      string
		value   float64
		quality model.Quality
	}{
		{"half scale bearing", model.RawSample{TagID: "DB100.DBD20", Value: 13824}, "Upper_Guide_Bearing_Temp", 75, model.QualityGood},
		{"bearing at trip", model.RawSample{TagID: "DB100.DBD24", Value: 16589}, "Lower_Guide_Bearing_Temp", 90, model.QualityUncertain},
		{"vibration over range", model.RawSample{TagID: "%IW512", Value: 31000}, "Turbine_Vibration_X", 11.21, model.QualityUncertain},
		{"rpm no thresholds", model.RawSample{TagID: "DB100.DBD0", Value: 27648}, "Turbine_RPM", 600, model.QualityGood},
		{"unknown address", model.RawSample{TagID: "DB999.DBD0", Value: 100}, "UNKNOWN_DB999.DBD0", 0, model.QualityBadConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := g.Normalize(tt.in)
			assert.Equal(t, tt.id, s.SignalID)
			assert.InDelta(t, tt.value, s.Value, 1e-9)
			assert.Equal(t, tt.quality, s.Quality)
		})
	}
}

func TestTagValidate(t *testing.T) {
	good := DefaultTags()[0]
	assert.NoError(t, good.Validate())

	bad := good
	bad.RawMax = bad.RawMin
	assert.Error(t, bad.Validate())

	_, err := New([]Tag{{Address: "X"}}, nil)
	assert.Error(t, err)
}

func TestTagsRoundTripYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTags(&buf, UnitTags()))
	assert.Contains(t, buf.String(), "Upper_Guide_Bearing_Temp")

	path := t.TempDir() + "/tags.yaml"
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	tags, err := LoadTags(path)
	require.NoError(t, err)
	assert.Equal(t, UnitTags(), tags)

	_, err = LoadTags(t.TempDir() + "/missing.yaml")
	assert.Error(t, err)
}

func TestSubscribeReplaysCache(t *testing.T) {
	g := newGateway(t, nil)
	g.Ingest([]model.RawSample{
		{TagID: "DB100.DBD20", Value: 13824, TimestampMs: 1},
		{TagID: "DB200.DBD4", Value: 13824, TimestampMs: 1},
	})

	ch, unsubscribe := g.Subscribe(4)
	first := <-ch
	second := <-ch
	assert.Equal(t, "Flow_Rate", first.Signal.SignalID)
	assert.Equal(t, "Upper_Guide_Bearing_Temp", second.Signal.SignalID)

	g.Ingest([]model.RawSample{{TagID: "%IW512", Value: 0, TimestampMs: 2}})
	u := <-ch
	assert.Equal(t, KindSignal, u.Kind)
	assert.Equal(t, "Turbine_Vibration_X", u.Signal.SignalID)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not block.
	g.Ingest([]model.RawSample{{TagID: "%IW512", Value: 0, TimestampMs: 3}})
}

func TestUnsubscribeReleasesBlockedPublisher(t *testing.T) {
	g := newGateway(t, nil)
	_, unsubscribe := g.Subscribe(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Ingest([]model.RawSample{{TagID: "%IW512", Value: 0}})
	}()
	time.Sleep(20 * time.Millisecond)
	unsubscribe()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after unsubscribe")
	}
}

func TestHeartbeatMonitor(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := newGateway(t, clock)
	assert.Equal(t, StatusDisconnected, g.CheckHeartbeat())

	ch, unsubscribe := g.Subscribe(16)
	defer unsubscribe()

	g.Ingest([]model.RawSample{{TagID: "DB100.DBD20", Value: 13824}})
	assert.Equal(t, KindConnectionRestored, (<-ch).Kind)
	assert.Equal(t, KindSignal, (<-ch).Kind)
	assert.Equal(t, StatusConnected, g.Status())

	clock.Advance(5 * time.Second)
	assert.Equal(t, StatusConnected, g.CheckHeartbeat())

	clock.Advance(time.Second)
	assert.Equal(t, StatusDegraded, g.CheckHeartbeat())

	clock.Advance(5 * time.Second)
	assert.Equal(t, StatusDisconnected, g.CheckHeartbeat())
	assert.Equal(t, KindConnectionLost, (<-ch).Kind)

	s, ok := g.Signal("Upper_Guide_Bearing_Temp")
	require.True(t, ok)
	assert.Equal(t, model.QualityDisconnected, s.Quality)

	// Lost is reported once.
	clock.Advance(time.Minute)
	g.CheckHeartbeat()
	assert.Len(t, ch, 0)
}

func TestPumpSimulatedSource(t *testing.T) {
	g := newGateway(t, nil)
	src := NewSimulatedSource(DefaultTags(), 5*time.Millisecond, 42)
	src.Override("Turbine_RPM", 300)

	ch, unsubscribe := g.Subscribe(64)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Pump(ctx, g, src, zaptest.NewLogger(t)) }()

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < len(DefaultTags()) {
		select {
		case u := <-ch:
			if u.Kind == KindSignal {
				seen[u.Signal.SignalID] = true
			}
		case <-timeout:
			t.Fatalf("only saw %d signals", len(seen))
		}
	}
	// A subscriber that stops reading blocks the pump; release it first.
	unsubscribe()
	cancel()
	require.NoError(t, <-done)

	rpm, ok := g.Signal("Turbine_RPM")
	require.True(t, ok)
	assert.InDelta(t, 300, rpm.Value, 0.01)
	assert.Equal(t, StatusConnected, g.Status())
}

func TestFallbackTogglesSimulatedFeed(t *testing.T) {
	g := newGateway(t, nil)
	fb := NewFallback(g, 5*time.Millisecond, 3, zaptest.NewLogger(t))

	fb.Set(true)
	assert.False(t, fb.Active(), "nothing runs before Run")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fb.Run(ctx) }()

	require.Eventually(t, fb.Active, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(g.Signals()) == len(DefaultTags()) }, 2*time.Second, 5*time.Millisecond)

	fb.Set(false)
	assert.False(t, fb.Active())
	fb.Set(true)
	assert.True(t, fb.Active(), "the feed restarts")

	cancel()
	require.NoError(t, <-done)
	assert.False(t, fb.Active())
	fb.Set(true)
	assert.False(t, fb.Active(), "no feed outlives Run")
}

func TestSimulatedSourceStaysNearNominal(t *testing.T) {
	src := NewSimulatedSource(DefaultTags(), time.Second, 1)
	g := newGateway(t, nil)
	for i := 0; i < 100; i++ {
		for _, s := range g.Ingest(src.Next(time.Unix(int64(i), 0))) {
			if s.Metric == model.MetricTemperature {
				assert.InDelta(t, 55, s.Value, 55*0.03)
			}
		}
	}
}

func TestWebSocketSource(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"tag_id":"DB200.DBD4","value":13824,"timestamp_ms":7}]`))
		// Hold the connection until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	src := NewWebSocketSource("ws"+strings.TrimPrefix(srv.URL, "http"), zaptest.NewLogger(t))
	require.NoError(t, src.Connect(context.Background()))

	select {
	case err := <-src.Errors():
		assert.Contains(t, err.Error(), "decode batch")
	case <-time.After(time.Second):
		t.Fatal("no decode error reported")
	}
	select {
	case batch := <-src.Data():
		require.Len(t, batch, 1)
		assert.Equal(t, "DB200.DBD4", batch[0].TagID)
		assert.Equal(t, int64(7), batch[0].TimestampMs)
	case <-time.After(time.Second):
		t.Fatal("no batch received")
	}
	src.Disconnect()
	src.Disconnect()
}
