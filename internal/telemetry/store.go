// Package telemetry holds the validated, filtered view of every signal.
package telemetry

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"hydropulse/internal/metrics"
	"hydropulse/internal/model"
	"hydropulse/internal/signal"
	"hydropulse/internal/truth"
)

// DefaultHistory is the per-signal rolling window length.
const DefaultHistory = 120

// Reading is the current state of one signal.
type Reading struct {
	SignalID string               `json:"signal_id"`
	Metric   string               `json:"metric,omitempty"`
	Unit     string               `json:"unit"`
	Quality  model.Quality        `json:"quality"`
	Received float64              `json:"received"`
	Filtered model.FilteredSignal `json:"filtered"`
	Verdict  model.SensorVerdict  `json:"verdict"`
	Held     bool                 `json:"held"`
	WarmedUp bool                 `json:"warmed_up"`
}

type series struct {
	reading   Reading
	hasLast   bool
	lastValue float64
	lastTs    int64
	history   *signal.Buffer[float64]
}

// Store is the single writer of telemetry state. Apply validates, filters
// and records one signal atomically, so each tag's verdict, filter and
// history always advance together.
type Store struct {
	mu       sync.RWMutex
	judge    *truth.Judge
	filters  *signal.Bank
	capacity int
	signals  map[string]*series
	metrics  *metrics.Metrics
	log      *zap.Logger
}

type Option func(*Store)

func WithHistory(n int) Option { return func(s *Store) { s.capacity = n } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }

func NewStore(judge *truth.Judge, filters *signal.Bank, logger *zap.Logger, opts ...Option) (*Store, error) {
	if judge == nil || filters == nil {
		return nil, errors.New("judge and filter bank are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		judge:    judge,
		filters:  filters,
		capacity: DefaultHistory,
		signals:  make(map[string]*series),
		log:      logger.Named("telemetry"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.capacity < 2 {
		return nil, errors.New("history must hold at least 2 points")
	}
	return s, nil
}

// Apply folds one gateway signal into the store. An implausible sample is
// held: the last accepted value is fed through the filter and history in
// its place so every window keeps its cadence. BAD_CONFIG signals are
// ignored; DISCONNECTED only updates quality.
func (s *Store) Apply(sig model.Signal) (Reading, bool) {
	if sig.Quality == model.QualityBadConfig {
		return Reading{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.signals[sig.SignalID]
	if !ok {
		st = &series{history: signal.NewBuffer[float64](s.capacity)}
		s.signals[sig.SignalID] = st
	}
	st.reading.SignalID = sig.SignalID
	st.reading.Metric = sig.Metric
	st.reading.Unit = sig.Unit
	st.reading.Quality = sig.Quality
	if sig.Quality == model.QualityDisconnected {
		return st.reading, true
	}

	var lastTs int64
	if st.hasLast {
		lastTs = st.lastTs
	}
	verdict := s.judge.ValidateAt(sig.SignalID, sig.Value, st.lastValue, lastTs, sig.TimestampMs)
	s.metrics.ObserveVerdict(verdict)
	st.reading.Verdict = verdict
	st.reading.Received = sig.Value

	value := sig.Value
	if verdict.Trusted() {
		st.hasLast = true
		st.lastValue = sig.Value
		st.lastTs = sig.TimestampMs
		st.reading.Held = false
	} else {
		st.reading.Held = true
		s.log.Debug("Holding implausible sample",
			zap.String("signal", sig.SignalID),
			zap.Float64("value", sig.Value),
			zap.String("reason", verdict.Reason))
		if !st.hasLast {
			return st.reading, true
		}
		value = st.lastValue
	}

	st.reading.Filtered = s.filters.Filter(sig.SignalID, value, sig.TimestampMs)
	st.reading.WarmedUp = s.filters.IsWarmedUp(sig.SignalID)
	st.history.Push(sig.TimestampMs, value)
	return st.reading, true
}

func (s *Store) Reading(id string) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.signals[id]
	if !ok {
		return Reading{}, false
	}
	return st.reading, true
}

// Readings returns every signal ordered by id.
func (s *Store) Readings() []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reading, 0, len(s.signals))
	for _, st := range s.signals {
		out = append(out, st.reading)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}

func (s *Store) History(id string) ([]signal.Point[float64], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.signals[id]
	if !ok {
		return nil, false
	}
	return st.history.All(), true
}

// SetFilter switches the smoothing strategy for every signal.
func (s *Store) SetFilter(opts signal.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.SetStrategy(opts)
}

// Snapshot copies the whole store under one read lock.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{
		readings:  make(map[string]Reading, len(s.signals)),
		histories: make(map[string][]float64, len(s.signals)),
	}
	for id, st := range s.signals {
		snap.readings[id] = st.reading
		snap.histories[id] = st.history.Values()
	}
	return snap
}
