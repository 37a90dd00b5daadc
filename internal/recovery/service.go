package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hydropulse/internal/metrics"
	"hydropulse/internal/model"
)

const (
	// MinAutoConfidence gates simulation; weaker actions are advisory only.
	MinAutoConfidence = 0.9
	// MinAutoEffectiveness is the simulated H_eff needed to self-execute.
	MinAutoEffectiveness = 0.7
)

// MaxAutoLoss is the predicted loss (EUR) at or above which an action stays advisory.
var MaxAutoLoss = decimal.NewFromInt(1000)

// Executor hands an approved action to the control-system adapter.
type Executor interface {
	Execute(ctx context.Context, action model.HealingAction) error
}

type ExecutorFunc func(ctx context.Context, action model.HealingAction) error

func (f ExecutorFunc) Execute(ctx context.Context, action model.HealingAction) error {
	return f(ctx, action)
}

// LogExecutor only records the command; it is the default when no adapter is wired.
func LogExecutor(logger *zap.Logger) Executor {
	return ExecutorFunc(func(_ context.Context, a model.HealingAction) error {
		logger.Info("Dispatching protocol to control adapter",
			zap.String("protocol", string(a.Protocol)),
			zap.String("target", a.TargetMetric),
			zap.Float64("adjustment", a.AdjustmentValue))
		return nil
	})
}

// Service runs MATCH -> SIMULATE -> AUTO/ADVISORY for each diagnosis.
// There is no retry: one chain yields at most one attempt.
type Service struct {
	rules   []Rule
	sim     *Simulator
	exec    Executor
	ledger  *Ledger
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithRules(rules []Rule) Option { return func(s *Service) { s.rules = rules } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLedger(l *Ledger) Option { return func(s *Service) { s.ledger = l } }

func NewService(sim *Simulator, exec Executor, logger *zap.Logger, opts ...Option) (*Service, error) {
	if sim == nil {
		return nil, fmt.Errorf("simulator is nil")
	}
	if err := sim.Validate(); err != nil {
		return nil, fmt.Errorf("simulator invalid: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		rules:  DefaultRules(),
		sim:    sim,
		exec:   exec,
		ledger: NewLedger(),
		log:    logger.Named("recovery"),
		now:    time.Now,
	}
	if s.exec == nil {
		s.exec = LogExecutor(s.log)
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Service) Ledger() *Ledger { return s.ledger }

// MatchProtocol applies the service's rule table.
func (s *Service) MatchProtocol(chain model.CausalChain) (model.HealingAction, bool) {
	return MatchProtocol(s.rules, chain)
}

// Heal returns nil when no protocol matches the chain's root cause.
func (s *Service) Heal(ctx context.Context, chain model.CausalChain) *model.HealingResult {
	action, ok := s.MatchProtocol(chain)
	if !ok {
		s.log.Info("No healing protocol for root cause",
			zap.String("root_cause", chain.RootCause.Metric),
			zap.Float64("value", chain.RootCause.Value))
		return nil
	}

	res := model.HealingResult{
		ID:        uuid.NewString(),
		Protocol:  action.Protocol,
		Mode:      model.ModeAdvisory,
		Chain:     chain,
		CreatedAt: s.now(),
	}

	switch {
	case action.Confidence < MinAutoConfidence:
		res.SimulatedOutcome = fmt.Sprintf("Advisory only: protocol confidence %.2f is below %.2f, not simulated", action.Confidence, MinAutoConfidence)
	default:
		s.simulateAndDecide(ctx, action, &res)
	}

	s.ledger.Append(action, res)
	s.metrics.ObserveHealing(res)
	s.log.Info("Healing attempt recorded",
		zap.String("id", res.ID),
		zap.String("protocol", string(res.Protocol)),
		zap.String("mode", string(res.Mode)),
		zap.Float64("h_eff", res.HealingEffectiveness),
		zap.Bool("executed", res.Executed))
	return &res
}

func (s *Service) simulateAndDecide(ctx context.Context, action model.HealingAction, res *model.HealingResult) {
	sim, err := s.sim.Simulate(action)
	if err != nil {
		s.log.Warn("Simulation unavailable, staying advisory", zap.Error(err))
		res.SimulatedOutcome = "Advisory only: " + err.Error()
		return
	}
	heff := 0.0
	if action.ExpectedImprovement > 0 {
		heff = sim.ActualImprovement / action.ExpectedImprovement
	}
	res.HealingEffectiveness = heff
	res.PredictedLoss = sim.PredictedLoss.InexactFloat64()

	if heff < MinAutoEffectiveness || !sim.PredictedLoss.LessThan(MaxAutoLoss) {
		res.SimulatedOutcome = fmt.Sprintf("Advisory: H_eff %.2f with predicted loss %s EUR does not meet auto-execution limits (H_eff >= %.2f, loss < %s)",
			heff, sim.PredictedLoss.StringFixed(2), MinAutoEffectiveness, MaxAutoLoss.String())
		return
	}

	if err := s.exec.Execute(ctx, action); err != nil {
		s.metrics.ObserveStoreError("executor")
		s.log.Error("Control adapter rejected protocol", zap.String("protocol", string(action.Protocol)), zap.Error(err))
		res.SimulatedOutcome = fmt.Sprintf("Advisory: H_eff %.2f qualified for auto-execution but the control adapter failed: %v", heff, err)
		return
	}
	res.Mode = model.ModeAuto
	res.Executed = true
	res.SimulatedOutcome = fmt.Sprintf("Auto-executed: H_eff %.2f, predicted loss %s EUR", heff, sim.PredictedLoss.StringFixed(2))
}
