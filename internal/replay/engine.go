// Package replay runs a recorded session through the pipeline on a clock
// driven by the sample timestamps.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hydropulse/internal/config"
	"hydropulse/internal/data"
	"hydropulse/internal/feedback"
	"hydropulse/internal/forensic"
	"hydropulse/internal/gateway"
	"hydropulse/internal/model"
	"hydropulse/internal/pipeline"
	"hydropulse/internal/recovery"
	"hydropulse/internal/signal"
	"hydropulse/internal/strategist"
	"hydropulse/internal/telemetry"
	"hydropulse/internal/truth"
)

type Engine struct {
	cfg  *config.Config
	tags []gateway.Tag
	log  *zap.Logger
}

// New builds an engine. A nil tags slice uses the built-in unit table.
func New(cfg *config.Config, tags []gateway.Tag, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if tags == nil {
		tags = gateway.UnitTags()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, tags: tags, log: logger.Named("replay")}
}

type collector struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (c *collector) Emit(a model.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

type session struct {
	gw       *gateway.Gateway
	store    *telemetry.Store
	pipe     *pipeline.Pipeline
	recovery *recovery.Service
	alerts   *collector
}

func (e *Engine) build(in *model.ReplayInputs, clock func() time.Time) (*session, error) {
	gw, err := gateway.New(e.tags, e.log, gateway.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	bank, err := signal.NewBank(e.cfg.FilterOptions())
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	store, err := telemetry.NewStore(truth.NewJudge(truth.WithClock(clock)), bank, e.log, telemetry.WithHistory(e.cfg.Telemetry.History))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	diag := forensic.NewService(forensic.MustDefaultGraph(), e.cfg.ForensicOptions(), e.log)
	fin := e.cfg.FinancialContext()
	heal, err := recovery.NewService(
		recovery.NewSimulator(e.cfg.Finance.RatedPowerMW, fin.MarketPriceEurPerMWh),
		recovery.LogExecutor(e.log), e.log, recovery.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	strat, err := strategist.New(diag, e.log, strategist.WithSynergyThreshold(e.cfg.Pipeline.SynergyThreshold))
	if err != nil {
		return nil, fmt.Errorf("strategist: %w", err)
	}
	sink := &collector{}
	deps := pipeline.Deps{
		Gateway:    gw,
		Store:      store,
		Forensic:   diag,
		Recovery:   heal,
		Strategist: strat,
		Feedback:   feedback.NewService(feedback.NewMemoryStore(in.Vetoes...), e.log, feedback.WithClock(clock)),
		Alerts:     sink,
		Logger:     e.log,
		Now:        clock,
	}
	if len(in.Prices) > 0 {
		deps.Prices = data.SeriesPrice(in.Prices)
	}
	pipe, err := pipeline.New(e.cfg.PipelineConfig(), deps)
	if err != nil {
		gw.Close()
		return nil, err
	}
	return &session{gw: gw, store: store, pipe: pipe, recovery: heal, alerts: sink}, nil
}

// Run replays in. Analysis runs whenever the replay clock has advanced by
// the configured analysis interval, and once more after the last sample.
func (e *Engine) Run(ctx context.Context, in *model.ReplayInputs) (*Result, error) {
	if in == nil || len(in.Samples) == 0 {
		return nil, errors.New("no samples")
	}

	var now time.Time
	clock := func() time.Time { return now }
	s, err := e.build(in, clock)
	if err != nil {
		return nil, err
	}
	defer s.gw.Close()

	interval := e.cfg.Pipeline.AnalysisInterval
	if interval <= 0 {
		interval = pipeline.DefaultAnalysisInterval
	}

	res := &Result{Trace: make([]TraceRow, 0, len(in.Samples))}
	now = time.UnixMilli(in.Samples[0].TimestampMs).UTC()
	nextAnalysis := now.Add(interval)

	for idx, raw := range in.Samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idx > 0 && raw.TimestampMs < in.Samples[idx-1].TimestampMs {
			return nil, fmt.Errorf("sample %d out of order", idx)
		}
		now = time.UnixMilli(raw.TimestampMs).UTC()
		if !now.Before(nextAnalysis) {
			s.pipe.Analyze(ctx)
			nextAnalysis = now.Add(interval)
		}

		sig := s.gw.Normalize(raw)
		s.pipe.HandleSignal(ctx, sig)
		drain(s.pipe.Events())

		row := TraceRow{
			Index:     idx,
			Timestamp: now,
			TagID:     raw.TagID,
			SignalID:  sig.SignalID,
			Metric:    sig.Metric,
			Unit:      sig.Unit,
			Quality:   sig.Quality,
			Received:  sig.Value,
		}
		if sig.Quality == model.QualityBadConfig {
			res.Rejected++
		} else if r, ok := s.store.Reading(sig.SignalID); ok {
			row.Raw = r.Filtered.Raw
			row.Smooth = r.Filtered.Smooth
			row.Held = r.Held
			row.Confidence = r.Verdict.Confidence
			row.Reason = r.Verdict.Reason
			if r.Held {
				res.Held++
			}
		}
		res.Trace = append(res.Trace, row)
	}
	s.pipe.Analyze(ctx)
	drain(s.pipe.Events())

	res.Anomalies = s.pipe.Anomalies()
	res.Ledger = s.recovery.Ledger().Rows()
	res.Summary = s.recovery.Ledger().Summary()
	if plan, ok := s.pipe.LastPlan(); ok {
		res.Plan = &plan
	}
	s.alerts.mu.Lock()
	res.Alerts = append([]model.Alert(nil), s.alerts.alerts...)
	s.alerts.mu.Unlock()

	e.log.Info("Replay finished",
		zap.Int("samples", len(in.Samples)),
		zap.Int("rejected", res.Rejected),
		zap.Int("held", res.Held),
		zap.Int("anomalies", len(res.Anomalies)),
		zap.Int("healing_attempts", res.Summary.Attempts))
	return res, nil
}

func drain(events <-chan pipeline.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}
