package feedback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"hydropulse/internal/model"
)

// VetoStore is the external record of operator overrides. Only time-range
// queries are required.
type VetoStore interface {
	AddVeto(ctx context.Context, r model.VetoRecord) error
	VetoesSince(ctx context.Context, since time.Time) ([]model.VetoRecord, error)
}

// MemoryStore keeps vetoes in process. Useful for replays and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []model.VetoRecord
}

func NewMemoryStore(seed ...model.VetoRecord) *MemoryStore {
	return &MemoryStore{records: append([]model.VetoRecord(nil), seed...)}
}

func (m *MemoryStore) AddVeto(_ context.Context, r model.VetoRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryStore) VetoesSince(_ context.Context, since time.Time) ([]model.VetoRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.VetoRecord, 0, len(m.records))
	for _, r := range m.records {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

var ErrInvalidVeto = errors.New("invalid veto record")

// Service recomputes modifiers on demand from the store; nothing is cached.
type Service struct {
	store VetoStore
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Service)

// WithClock sets the clock the trailing window is measured from.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store VetoStore, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: store, log: logger.Named("feedback"), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record validates and stores an operator veto.
func (s *Service) Record(ctx context.Context, r model.VetoRecord) error {
	if r.ActionID == "" {
		return fmt.Errorf("%w: action_id is required", ErrInvalidVeto)
	}
	if r.ActionType == "" && r.Reason == "" && r.Context == "" {
		return fmt.Errorf("%w: action_type or reason is required", ErrInvalidVeto)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	if err := s.store.AddVeto(ctx, r); err != nil {
		return fmt.Errorf("store veto: %w", err)
	}
	s.log.Info("Operator veto recorded", zap.String("action_id", r.ActionID), zap.String("action_type", r.ActionType))
	return nil
}

// Modifiers reads the trailing window and derives modifiers for actionType.
// A failing store degrades to neutral modifiers; the error is still returned.
func (s *Service) Modifiers(ctx context.Context, actionType string) (model.LearningModifiers, error) {
	now := s.now()
	history, err := s.store.VetoesSince(ctx, now.Add(-Window))
	if err != nil {
		s.log.Warn("Veto history unavailable, using neutral modifiers", zap.Error(err))
		return model.NeutralModifiers(), fmt.Errorf("load veto history: %w", err)
	}
	return GetLearningModifiers(actionType, history, now), nil
}
