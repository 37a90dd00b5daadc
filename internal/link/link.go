package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hydropulse/internal/alerting"
	"hydropulse/internal/metrics"
	"hydropulse/internal/model"
)

// State of the live-data uplink.
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateConnected  State = "CONNECTED"
	StateError      State = "ERROR"
)

// Simulated reports whether dependents should read the local simulation
// source instead of live data.
func (s State) Simulated() bool {
	return s != StateConnected
}

// Timing holds the link's fixed intervals.
type Timing struct {
	Handshake time.Duration `mapstructure:"handshake"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	Watchdog  time.Duration `mapstructure:"watchdog"`
	Blackout  time.Duration `mapstructure:"blackout"`
}

func DefaultTiming() Timing {
	return Timing{
		Handshake: 1500 * time.Millisecond,
		Heartbeat: 2 * time.Second,
		Watchdog:  10 * time.Second,
		Blackout:  30 * time.Second,
	}
}

func (t Timing) Validate() error {
	if t.Handshake <= 0 || t.Heartbeat <= 0 || t.Watchdog <= 0 || t.Blackout <= 0 {
		return errors.New("link timings must be > 0")
	}
	if t.Watchdog <= t.Heartbeat {
		return errors.New("watchdog must be longer than the heartbeat interval")
	}
	return nil
}

// Transport is the remote end of the uplink.
type Transport interface {
	Dial(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Transition records a state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

const alertSource = "link"

var ErrClosed = errors.New("link closed")

// Link is the uplink health state machine. Every timer it owns is stored on
// the struct and torn down together; callbacks from a torn-down generation
// are ignored.
type Link struct {
	mu        sync.Mutex
	deliverMu sync.Mutex

	clock      Clock
	timing     Timing
	transport  Transport
	journal    alerting.Journal
	metrics    *metrics.Metrics
	log        *zap.Logger
	onFallback func(simulate bool)

	transitions chan Transition
	closed      bool

	state     State
	gen       uint64
	handshake Timer
	heartbeat Timer
	watchdog  Timer

	profile Profile
	frames  uint64

	lastSignal    time.Time
	blackout      bool
	blackoutGen   uint64
	blackoutTimer Timer
	queue         []model.Alert
	outbox        []model.Alert
}

type Option func(*Link)

func WithClock(c Clock) Option { return func(l *Link) { l.clock = c } }
func WithTiming(t Timing) Option { return func(l *Link) { l.timing = t } }
func WithMetrics(m *metrics.Metrics) Option { return func(l *Link) { l.metrics = m } }
func WithProfile(p Profile) Option { return func(l *Link) { l.profile = p } }
func WithFallback(f func(simulate bool)) Option { return func(l *Link) { l.onFallback = f } }

func New(transport Transport, journal alerting.Journal, logger *zap.Logger, opts ...Option) (*Link, error) {
	if transport == nil {
		return nil, errors.New("transport is nil")
	}
	if journal == nil {
		return nil, errors.New("journal is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Link{
		clock:       SystemClock,
		timing:      DefaultTiming(),
		transport:   transport,
		journal:     journal,
		log:         logger.Named("link"),
		transitions: make(chan Transition, 32),
		state:       StateIdle,
		profile:     ProfileNormal,
	}
	for _, o := range opts {
		o(l)
	}
	if err := l.timing.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Transitions delivers state changes. The channel is buffered; a consumer that
// falls behind misses transitions, and State stays authoritative.
func (l *Link) Transitions() <-chan Transition { return l.transitions }

// Connect starts the handshake. It is a no-op while connecting or connected.
// ctx bounds the dial that follows the handshake delay.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.state == StateConnecting || l.state == StateConnected {
		l.mu.Unlock()
		return nil
	}
	l.stopTimersLocked()
	fx := &effects{}
	l.setStateLocked(StateConnecting, "connect requested", fx)
	gen := l.gen
	l.handshake = l.clock.AfterFunc(l.timing.Handshake, func() { l.finishHandshake(ctx, gen) })
	l.mu.Unlock()
	l.apply(fx)
	return nil
}

func (l *Link) finishHandshake(parent context.Context, gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.state != StateConnecting {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, l.timing.Watchdog)
	err := l.transport.Dial(ctx)
	cancel()

	l.mu.Lock()
	fx := &effects{}
	switch {
	case gen != l.gen:
		// Disconnected while dialing.
		fx.closeTransport = err == nil
	case err != nil:
		l.setStateLocked(StateError, fmt.Sprintf("handshake failed: %v", err), fx)
		l.emitLocked(alerting.New(model.SeverityCritical, alertSource, "Handshake failed: "+err.Error(), l.clock.Now().UnixMilli()))
	default:
		l.setStateLocked(StateConnected, "handshake complete", fx)
		l.armHeartbeatLocked(gen)
		l.armWatchdogLocked(gen)
		// A completed handshake is proof of signal.
		l.signalLocked(l.clock.Now())
	}
	l.mu.Unlock()
	l.apply(fx)
}

func (l *Link) armHeartbeatLocked(gen uint64) {
	l.heartbeat = l.clock.AfterFunc(l.timing.Heartbeat, func() { l.beat(gen) })
}

func (l *Link) armWatchdogLocked(gen uint64) {
	if l.watchdog != nil {
		l.watchdog.Stop()
	}
	l.watchdog = l.clock.AfterFunc(l.timing.Watchdog, func() { l.expire(gen) })
}

func (l *Link) beat(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.state != StateConnected {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.timing.Heartbeat)
	err := l.transport.Ping(ctx)
	cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || l.state != StateConnected {
		return
	}
	if err != nil {
		l.log.Warn("Heartbeat failed, watchdog not reset", zap.Error(err))
	} else {
		l.armWatchdogLocked(gen)
	}
	l.armHeartbeatLocked(gen)
}

func (l *Link) expire(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.state != StateConnected {
		l.mu.Unlock()
		return
	}
	fx := &effects{closeTransport: true}
	l.stopTimersLocked()
	l.setStateLocked(StateError, "watchdog expired", fx)
	l.emitLocked(alerting.New(model.SeverityCritical, alertSource, "Link Severed - Watchdog Expired", l.clock.Now().UnixMilli()))
	l.mu.Unlock()
	l.apply(fx)
}

// Disconnect returns the link to IDLE. Safe to call repeatedly.
func (l *Link) Disconnect() {
	l.mu.Lock()
	fx := &effects{}
	l.stopTimersLocked()
	if l.state != StateIdle {
		fx.closeTransport = l.state == StateConnected
		l.setStateLocked(StateIdle, "disconnect requested", fx)
	}
	l.mu.Unlock()
	l.apply(fx)
}

// Close disconnects, stops blackout monitoring and closes Transitions.
func (l *Link) Close() {
	l.Disconnect()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.blackoutTimer != nil {
		l.blackoutTimer.Stop()
		l.blackoutTimer = nil
	}
	l.blackoutGen++
	close(l.transitions)
}

// stopTimersLocked tears down the handshake, heartbeat and watchdog together
// and invalidates any callback already in flight.
func (l *Link) stopTimersLocked() {
	for _, t := range []Timer{l.handshake, l.heartbeat, l.watchdog} {
		if t != nil {
			t.Stop()
		}
	}
	l.handshake, l.heartbeat, l.watchdog = nil, nil, nil
	l.gen++
}

type effects struct {
	transitions    []Transition
	closeTransport bool
}

func (l *Link) setStateLocked(to State, reason string, fx *effects) {
	from := l.state
	if from == to {
		return
	}
	l.state = to
	tr := Transition{From: from, To: to, At: l.clock.Now(), Reason: reason}
	fx.transitions = append(fx.transitions, tr)
	if !l.closed {
		select {
		case l.transitions <- tr:
		default:
		}
	}
}

// apply runs side effects collected under the lock, in order.
func (l *Link) apply(fx *effects) {
	for _, tr := range fx.transitions {
		l.metrics.ObserveTransition(string(tr.From), string(tr.To))
		l.log.Info("Link state changed",
			zap.String("from", string(tr.From)),
			zap.String("to", string(tr.To)),
			zap.String("reason", tr.Reason))
		if l.onFallback != nil && tr.From.Simulated() != tr.To.Simulated() {
			l.onFallback(tr.To.Simulated())
		}
	}
	if fx.closeTransport {
		if err := l.transport.Close(); err != nil {
			l.log.Warn("Transport close failed", zap.Error(err))
		}
	}
	l.drainOutbox()
}
