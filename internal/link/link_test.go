package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"hydropulse/internal/alerting"
	"hydropulse/internal/gateway"
	"hydropulse/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu      sync.Mutex
	dialErr error
	pingErr error
	dials   int
	pings   int
	closes  int
}

func (f *fakeTransport) Dial(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	return f.dialErr
}

func (f *fakeTransport) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

type fixture struct {
	link      *Link
	clock     *ManualClock
	transport *fakeTransport
	journal   *alerting.MemoryJournal
	fallbacks []bool
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:     NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		transport: &fakeTransport{},
		journal:   alerting.NewMemoryJournal(100),
	}
	opts = append([]Option{
		WithClock(f.clock),
		WithFallback(func(sim bool) { f.fallbacks = append(f.fallbacks, sim) }),
	}, opts...)
	l, err := New(f.transport, f.journal, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	f.link = l
	t.Cleanup(l.Close)
	return f
}

func drain(ch <-chan Transition) []State {
	var out []State
	for {
		select {
		case tr, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, tr.To)
		default:
			return out
		}
	}
}

func TestConnectHandshake(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.link.Connect(context.Background()))
	assert.Equal(t, StateConnecting, f.link.State())
	assert.Equal(t, 0, f.transport.dials)

	f.clock.Advance(1499 * time.Millisecond)
	assert.Equal(t, StateConnecting, f.link.State())

	f.clock.Advance(time.Millisecond)
	assert.Equal(t, StateConnected, f.link.State())
	assert.Equal(t, 1, f.transport.dials)
	assert.Equal(t, []bool{false}, f.fallbacks)
	assert.Equal(t, []State{StateConnecting, StateConnected}, drain(f.link.Transitions()))

	// Connecting again while connected does nothing.
	require.NoError(t, f.link.Connect(context.Background()))
	assert.Equal(t, StateConnected, f.link.State())
	assert.Empty(t, drain(f.link.Transitions()))
}

func TestHandshakeFailure(t *testing.T) {
	f := newFixture(t)
	f.transport.dialErr = errors.New("refused")

	require.NoError(t, f.link.Connect(context.Background()))
	f.clock.Advance(1500 * time.Millisecond)

	assert.Equal(t, StateError, f.link.State())
	alerts := f.journal.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "refused")
	assert.Empty(t, f.fallbacks, "never left simulation")

	// ERROR can reconnect.
	f.transport.dialErr = nil
	require.NoError(t, f.link.Connect(context.Background()))
	f.clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, StateConnected, f.link.State())
}

func TestHeartbeatKeepsLinkAlive(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.link.Connect(context.Background()))
	f.clock.Advance(1500 * time.Millisecond)

	f.clock.Advance(time.Minute)
	assert.Equal(t, StateConnected, f.link.State())
	assert.Equal(t, 30, f.transport.pings)
}

func TestWatchdogExpiry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.link.Connect(context.Background()))
	f.clock.Advance(1500 * time.Millisecond)
	f.transport.setPingErr(errors.New("timeout"))

	f.clock.Advance(9999 * time.Millisecond)
	assert.Equal(t, StateConnected, f.link.State())

	f.clock.Advance(time.Millisecond)
	assert.Equal(t, StateError, f.link.State())
	assert.Equal(t, 1, f.transport.closes)
	assert.Equal(t, []bool{false, true}, f.fallbacks)

	alerts := f.journal.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "Link Severed - Watchdog Expired", alerts[0].Message)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)

	// No heartbeat survives the expiry.
	pings := f.transport.pings
	f.clock.Advance(10 * time.Second)
	assert.Equal(t, pings, f.transport.pings)
}

func latestSampleMs(g *gateway.Gateway) int64 {
	var latest int64
	for _, s := range g.Signals() {
		if s.TimestampMs > latest {
			latest = s.TimestampMs
		}
	}
	return latest
}

func TestWatchdogExpiryKeepsSamplesFlowing(t *testing.T) {
	logger := zaptest.NewLogger(t)
	gw, err := gateway.New(gateway.DefaultTags(), logger)
	require.NoError(t, err)
	defer gw.Close()
	fb := gateway.NewFallback(gw, 5*time.Millisecond, 7, logger)
	fb.Set(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fb.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	f := newFixture(t, WithFallback(fb.Set))
	require.Eventually(t, func() bool { return latestSampleMs(gw) > 0 }, 2*time.Second, 5*time.Millisecond,
		"idle link feeds simulated samples")

	require.NoError(t, f.link.Connect(context.Background()))
	f.clock.Advance(1500 * time.Millisecond)
	require.Equal(t, StateConnected, f.link.State())
	assert.False(t, fb.Active())

	time.Sleep(50 * time.Millisecond)
	frozen := latestSampleMs(gw)

	f.transport.setPingErr(errors.New("timeout"))
	f.clock.Advance(10 * time.Second)
	require.Equal(t, StateError, f.link.State())
	assert.True(t, fb.Active())
	assert.Eventually(t, func() bool { return latestSampleMs(gw) > frozen }, 2*time.Second, 5*time.Millisecond,
		"samples resume after the watchdog expires")
}

func TestPingRecoveryResetsWatchdog(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.link.Connect(context.Background()))
	f.clock.Advance(1500 * time.Millisecond)

	f.transport.setPingErr(errors.New("timeout"))
	f.clock.Advance(6 * time.Second)
	f.transport.setPingErr(nil)
	f.clock.Advance(20 * time.Second)

	assert.Equal(t, StateConnected, f.link.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.link.Connect(context.Background()))
	f.clock.Advance(1500 * time.Millisecond)

	f.link.Disconnect()
	f.link.Disconnect()
	assert.Equal(t, StateIdle, f.link.State())
	assert.Equal(t, 1, f.transport.closes)
	assert.Equal(t, []bool{false, true}, f.fallbacks)

	pings := f.transport.pings
	f.clock.Advance(time.Minute)
	assert.Equal(t, pings, f.transport.pings)
}

func TestDisconnectDuringHandshake(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.link.Connect(context.Background()))
	f.link.Disconnect()

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, StateIdle, f.link.State())
	assert.Equal(t, 0, f.transport.dials)
}

func TestCloseStopsEveryTimer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.link.Connect(context.Background()))
	f.clock.Advance(1500 * time.Millisecond)
	require.Positive(t, f.clock.Pending())

	f.link.Close()
	assert.Equal(t, 0, f.clock.Pending())
	assert.ErrorIs(t, f.link.Connect(context.Background()), ErrClosed)

	for range f.link.Transitions() {
	}
}

func TestBlackoutQueuesHighPriority(t *testing.T) {
	f := newFixture(t)
	f.link.SignalReceived()

	f.clock.Advance(29 * time.Second)
	assert.False(t, f.link.InBlackout())
	f.clock.Advance(time.Second)
	require.True(t, f.link.InBlackout())

	f.link.Emit(alerting.New(model.SeverityCritical, "test", "late", 200))
	f.link.Emit(alerting.New(model.SeverityNeural, "test", "early", 100))
	f.link.Emit(alerting.New(model.SeverityWarning, "test", "noise", 150))
	assert.Equal(t, 2, f.link.QueuedAlerts())
	assert.Empty(t, f.journal.Alerts())

	f.link.SignalReceived()
	assert.False(t, f.link.InBlackout())
	assert.Equal(t, 0, f.link.QueuedAlerts())

	alerts := f.journal.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "early", alerts[0].Message)
	assert.Equal(t, "late", alerts[1].Message)
}

func TestSignalRearmsBlackout(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.link.SignalReceived()
		f.clock.Advance(20 * time.Second)
	}
	assert.False(t, f.link.InBlackout())
	assert.Equal(t, 1, f.clock.Pending())
}

func TestLowBandwidthProfile(t *testing.T) {
	f := newFixture(t, WithProfile(ProfileLowBandwidth))

	f.link.Emit(alerting.New(model.SeverityWarning, "test", "filtered", 1))
	f.link.Emit(alerting.New(model.SeverityInfo, "test", "filtered", 2))
	f.link.Emit(alerting.New(model.SeverityCritical, "test", "kept", 3))
	alerts := f.journal.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "kept", alerts[0].Message)

	forwarded := 0
	for i := 0; i < 100; i++ {
		if f.link.ShouldForward() {
			forwarded++
		}
	}
	assert.Equal(t, 10, forwarded)

	f.link.SetProfile(ProfileNormal)
	assert.True(t, f.link.ShouldForward())
	assert.True(t, f.link.ShouldForward())
}

func TestAutoProfile(t *testing.T) {
	assert.Equal(t, "LOW_BANDWIDTH", AutoProfile(NetworkHints{EffectiveType: "2g"}).Name)
	assert.Equal(t, "LOW_BANDWIDTH", AutoProfile(NetworkHints{EffectiveType: "slow-2g"}).Name)
	assert.Equal(t, "LOW_BANDWIDTH", AutoProfile(NetworkHints{Mobile: true, EffectiveType: "4g"}).Name)
	assert.Equal(t, "LOW_BANDWIDTH", AutoProfile(NetworkHints{SaveData: true}).Name)
	assert.Equal(t, "NORMAL", AutoProfile(NetworkHints{EffectiveType: "4g"}).Name)

	p, ok := ProfileByName("low_bandwidth")
	assert.True(t, ok)
	assert.True(t, p.Compress)
	_, ok = ProfileByName("satellite")
	assert.False(t, ok)
}

func TestTimingValidate(t *testing.T) {
	assert.NoError(t, DefaultTiming().Validate())
	bad := DefaultTiming()
	bad.Watchdog = time.Second
	assert.Error(t, bad.Validate())

	_, err := New(&fakeTransport{}, alerting.NewMemoryJournal(1), nil, WithTiming(bad))
	assert.Error(t, err)
}
