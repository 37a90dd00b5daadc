package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"hydropulse/internal/metrics"
	"hydropulse/internal/model"
)

// Status is the gateway's view of the data feed.
type Status string

const (
	StatusConnected    Status = "CONNECTED"
	StatusDegraded     Status = "DEGRADED"
	StatusDisconnected Status = "DISCONNECTED"
)

// UpdateKind discriminates Update.
type UpdateKind int

const (
	KindSignal UpdateKind = iota
	KindConnectionLost
	KindConnectionRestored
)

func (k UpdateKind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindConnectionLost:
		return "connection_lost"
	case KindConnectionRestored:
		return "connection_restored"
	default:
		return "unknown"
	}
}

// Update is delivered to subscribers. Signal is set only for KindSignal.
type Update struct {
	Kind   UpdateKind
	Signal model.Signal
}

// DefaultHeartbeatInterval is how long the feed may be silent before the
// gateway reports DEGRADED. Twice this marks it DISCONNECTED.
const DefaultHeartbeatInterval = 5 * time.Second

type subscriber struct {
	ch     chan Update
	done   chan struct{}
	cancel func()
}

// Gateway owns the last-known value of every tag and fans updates out to
// subscribers in arrival order.
type Gateway struct {
	ingestMu sync.Mutex // serializes publishers so order is global

	mu            sync.RWMutex
	tags          map[string]Tag
	cache         map[string]model.Signal
	status        Status
	lastHeartbeat time.Time

	subMu   sync.RWMutex
	subs    map[uint64]*subscriber
	nextSub uint64

	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Gateway)

func WithHeartbeatInterval(d time.Duration) Option { return func(g *Gateway) { g.interval = d } }
func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

func New(tags []Tag, logger *zap.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		tags:     make(map[string]Tag, len(tags)),
		cache:    make(map[string]model.Signal),
		status:   StatusDisconnected,
		subs:     make(map[uint64]*subscriber),
		interval: DefaultHeartbeatInterval,
		now:      time.Now,
		log:      logger.Named("gateway"),
	}
	for _, o := range opts {
		o(g)
	}
	if g.interval <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be > 0")
	}
	for _, t := range tags {
		if err := g.RegisterTag(t); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// RegisterTag adds or replaces the scaling for a PLC address.
func (g *Gateway) RegisterTag(t Tag) error {
	if err := t.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tags[t.Address] = t
	return nil
}

// Tags returns the registered tags ordered by signal id.
func (g *Gateway) Tags() []Tag {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Tag, 0, len(g.tags))
	for _, t := range g.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}

// TagFor resolves a signal id back to its tag.
func (g *Gateway) TagFor(signalID string) (Tag, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, t := range g.tags {
		if t.SignalID == signalID {
			return t, true
		}
	}
	return Tag{}, false
}

// Normalize scales one raw sample. Unknown addresses yield a BAD_CONFIG
// signal named UNKNOWN_<address> with value 0.
func (g *Gateway) Normalize(s model.RawSample) model.Signal {
	g.mu.RLock()
	t, ok := g.tags[s.TagID]
	g.mu.RUnlock()
	if !ok {
		return model.Signal{
			SignalID:    "UNKNOWN_" + s.TagID,
			Unit:        "?",
			Quality:     model.QualityBadConfig,
			TimestampMs: s.TimestampMs,
		}
	}
	v := t.Scale(s.Value)
	return model.Signal{
		SignalID:    t.SignalID,
		Metric:      t.Metric,
		Value:       v,
		Unit:        t.Unit,
		Quality:     t.Quality(v),
		TimestampMs: s.TimestampMs,
	}
}

// Ingest normalizes a batch and publishes it.
func (g *Gateway) Ingest(batch []model.RawSample) []model.Signal {
	signals := make([]model.Signal, len(batch))
	for i, s := range batch {
		signals[i] = g.Normalize(s)
	}
	g.Publish(signals)
	return signals
}

// Publish caches already-normalized signals and fans them out. Any publish
// counts as a heartbeat.
func (g *Gateway) Publish(signals []model.Signal) {
	g.ingestMu.Lock()
	defer g.ingestMu.Unlock()

	g.mu.Lock()
	g.lastHeartbeat = g.now()
	restored := g.status != StatusConnected
	g.status = StatusConnected
	for _, s := range signals {
		g.cache[s.SignalID] = s
	}
	g.mu.Unlock()

	if restored {
		g.log.Info("Data feed connected")
		g.broadcast(Update{Kind: KindConnectionRestored})
	}
	for _, s := range signals {
		g.metrics.ObserveSample(s.SignalID, s.Quality)
		g.broadcast(Update{Kind: KindSignal, Signal: s})
	}
}

// broadcast blocks until every live subscriber takes the update or
// unsubscribes. Callers hold ingestMu.
func (g *Gateway) broadcast(u Update) {
	g.subMu.RLock()
	defer g.subMu.RUnlock()
	for _, s := range g.subs {
		select {
		case s.ch <- u:
		case <-s.done:
		}
	}
}

// Subscribe registers a consumer. The channel first carries the cached
// state, then every later update. The returned func unsubscribes and closes
// the channel; it is safe to call more than once.
func (g *Gateway) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 0 {
		buffer = 0
	}
	g.ingestMu.Lock()
	defer g.ingestMu.Unlock()

	cached := g.Signals()
	s := &subscriber{
		ch:   make(chan Update, buffer+len(cached)),
		done: make(chan struct{}),
	}
	for _, sig := range cached {
		s.ch <- Update{Kind: KindSignal, Signal: sig}
	}

	g.subMu.Lock()
	g.nextSub++
	id := g.nextSub
	var once sync.Once
	s.cancel = func() {
		once.Do(func() {
			// Release a publisher blocked on this subscriber before
			// waiting for the write lock.
			close(s.done)
			g.subMu.Lock()
			delete(g.subs, id)
			g.subMu.Unlock()
			close(s.ch)
		})
	}
	g.subs[id] = s
	g.subMu.Unlock()

	return s.ch, s.cancel
}

func (g *Gateway) Signal(id string) (model.Signal, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.cache[id]
	return s, ok
}

// Signals returns the cache ordered by signal id.
func (g *Gateway) Signals() []model.Signal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Signal, 0, len(g.cache))
	for _, s := range g.cache {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}

func (g *Gateway) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// CheckHeartbeat runs one monitor step. A silent feed goes DEGRADED after
// the interval and DISCONNECTED after twice the interval, at which point
// every cached signal is marked DISCONNECTED and subscribers are told.
func (g *Gateway) CheckHeartbeat() Status {
	g.ingestMu.Lock()
	defer g.ingestMu.Unlock()

	g.mu.Lock()
	now := g.now()
	lost := false
	switch since := now.Sub(g.lastHeartbeat); {
	case g.lastHeartbeat.IsZero() || since > 2*g.interval:
		if g.status != StatusDisconnected {
			lost = true
			g.status = StatusDisconnected
			for id, s := range g.cache {
				s.Quality = model.QualityDisconnected
				g.cache[id] = s
			}
		}
	case since > g.interval:
		if g.status == StatusConnected {
			g.status = StatusDegraded
			g.log.Warn("Data feed degraded", zap.Duration("silent_for", since))
		}
	}
	status := g.status
	g.mu.Unlock()

	if lost {
		g.log.Error("Data feed lost, cached signals marked DISCONNECTED")
		g.broadcast(Update{Kind: KindConnectionLost})
	}
	return status
}

// MonitorHeartbeat runs CheckHeartbeat every second until ctx is done.
func (g *Gateway) MonitorHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.CheckHeartbeat()
		}
	}
}

// Close unsubscribes everyone.
func (g *Gateway) Close() {
	g.subMu.RLock()
	subs := make([]*subscriber, 0, len(g.subs))
	for _, s := range g.subs {
		subs = append(subs, s)
	}
	g.subMu.RUnlock()
	for _, s := range subs {
		s.cancel()
	}
}
