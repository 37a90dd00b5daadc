// Package pipeline connects the gateway to diagnosis, healing and strategy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hydropulse/internal/alerting"
	"hydropulse/internal/correlation"
	"hydropulse/internal/feedback"
	"hydropulse/internal/forensic"
	"hydropulse/internal/gateway"
	"hydropulse/internal/link"
	"hydropulse/internal/metrics"
	"hydropulse/internal/model"
	"hydropulse/internal/recovery"
	"hydropulse/internal/strategist"
	"hydropulse/internal/telemetry"
)

const (
	DefaultMinWindow        = 30
	DefaultCooldown         = time.Minute
	DefaultAnalysisInterval = 5 * time.Second
	DefaultEventBuffer      = 256
)

// Config tunes the pipeline. Zero values take defaults.
type Config struct {
	MinWindow        int           `mapstructure:"min_window"`
	SynergyThreshold float64       `mapstructure:"synergy_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	AnalysisInterval time.Duration `mapstructure:"analysis_interval"`
	Finance          model.FinancialContext
}

func (c *Config) setDefaults() {
	if c.MinWindow <= 0 {
		c.MinWindow = DefaultMinWindow
	}
	if c.SynergyThreshold <= 0 {
		c.SynergyThreshold = correlation.DefaultSynergyThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.AnalysisInterval <= 0 {
		c.AnalysisInterval = DefaultAnalysisInterval
	}
}

// Archive persists readings and healing attempts.
type Archive interface {
	RecordReading(ctx context.Context, r telemetry.Reading) error
	RecordHealing(ctx context.Context, r model.HealingResult) error
}

// Alerter accepts operator alerts. *link.Link satisfies it.
type Alerter interface {
	Emit(a model.Alert)
}

// PriceSource supplies the current market price in EUR/MWh.
type PriceSource interface {
	CurrentPrice(ctx context.Context, at time.Time) (decimal.Decimal, error)
}

// Deps are the services the pipeline drives. Gateway, Store, Forensic,
// Recovery and Strategist are required.
type Deps struct {
	Gateway    *gateway.Gateway
	Store      *telemetry.Store
	Forensic   *forensic.Service
	Recovery   *recovery.Service
	Strategist *strategist.Strategist
	Feedback   *feedback.Service
	Link       *link.Link
	Alerts     Alerter
	Archive    Archive
	Prices     PriceSource
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// Pipeline owns no telemetry itself; it moves updates between services
// and reports what it found on Events.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	events chan Event

	mu        sync.Mutex
	lastDiag  map[string]time.Time
	finance   model.FinancialContext
	lastPlan  *model.StrategistOutput
	anomalies []Anomaly
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Gateway == nil || deps.Store == nil || deps.Forensic == nil || deps.Recovery == nil || deps.Strategist == nil {
		return nil, errors.New("pipeline: gateway, store, forensic, recovery and strategist are required")
	}
	cfg.setDefaults()
	if err := cfg.Finance.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Alerts == nil && deps.Link != nil {
		deps.Alerts = deps.Link
	}
	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.Named("pipeline"),
		now:      deps.Now,
		events:   make(chan Event, DefaultEventBuffer),
		lastDiag: make(map[string]time.Time),
		finance:  cfg.Finance,
	}, nil
}

// Events carries readings, anomalies, plans and link transitions. Events
// are dropped when the consumer falls behind.
func (p *Pipeline) Events() <-chan Event { return p.events }

func (p *Pipeline) publish(e Event) {
	select {
	case p.events <- e:
	default:
		p.log.Debug("Event consumer behind, dropping event", zap.String("type", string(e.Type)))
	}
}

func (p *Pipeline) alert(sev model.Severity, msg string) {
	a := alerting.New(sev, "pipeline", msg, p.now().UnixMilli())
	if p.deps.Alerts != nil {
		p.deps.Alerts.Emit(a)
	}
	p.publish(Event{Type: EventAlert, Alert: &a})
}

// Run supervises the ingest, analysis and link loops until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	updates, unsubscribe := p.deps.Gateway.Subscribe(DefaultEventBuffer)
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case u, ok := <-updates:
				if !ok {
					return nil
				}
				p.HandleUpdate(ctx, u)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(p.cfg.AnalysisInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				p.Analyze(ctx)
			}
		}
	})
	if p.deps.Link != nil {
		transitions := p.deps.Link.Transitions()
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case tr, ok := <-transitions:
					if !ok {
						return nil
					}
					p.publish(Event{Type: EventLink, Link: &tr})
				}
			}
		})
	}
	// Unsubscribing releases a gateway publisher blocked on this pipeline.
	g.Go(func() error {
		<-ctx.Done()
		unsubscribe()
		return nil
	})
	return g.Wait()
}

// HandleUpdate applies one gateway update.
func (p *Pipeline) HandleUpdate(ctx context.Context, u gateway.Update) {
	switch u.Kind {
	case gateway.KindSignal:
		p.HandleSignal(ctx, u.Signal)
	case gateway.KindConnectionLost:
		p.alert(model.SeverityCritical, "Telemetry feed lost: all signals marked DISCONNECTED")
	case gateway.KindConnectionRestored:
		p.alert(model.SeverityInfo, "Telemetry feed restored")
	}
}

// HandleSignal validates and stores one signal, then diagnoses it if it
// crossed its tag's alarm threshold.
func (p *Pipeline) HandleSignal(ctx context.Context, s model.Signal) {
	r, ok := p.deps.Store.Apply(s)
	if !ok {
		return
	}
	if p.deps.Link != nil {
		p.deps.Link.SignalReceived()
	}
	if p.deps.Archive != nil {
		if err := p.deps.Archive.RecordReading(ctx, r); err != nil {
			p.log.Warn("Archive write failed", zap.Error(err))
		}
	}
	if p.deps.Link == nil || p.deps.Link.ShouldForward() {
		p.publish(Event{Type: EventReading, Reading: &r})
	}

	if r.Held || r.Metric == "" {
		return
	}
	tag, ok := p.deps.Gateway.TagFor(r.SignalID)
	if !ok || tag.Thresholds.Alarm == 0 || r.Filtered.Raw < tag.Thresholds.Alarm {
		return
	}
	p.investigate(ctx, TriggerAlarm, r.Metric, nil)
}

// Analyze runs the correlation gate over the rolling windows and prices
// the current operating point.
func (p *Pipeline) Analyze(ctx context.Context) {
	snap := p.deps.Store.Snapshot()

	series := make(map[string][]float64)
	for id, h := range snap.Series() {
		if len(h) >= p.cfg.MinWindow {
			series[id] = h
		}
	}
	for _, pair := range correlation.Synergies(series, p.cfg.SynergyThreshold) {
		p.onSynergy(ctx, snap, pair)
	}
	p.plan(ctx, snap)
}

func (p *Pipeline) onSynergy(ctx context.Context, snap *telemetry.Snapshot, pair correlation.Pair) {
	ra, okA := snap.Reading(pair.A)
	rb, okB := snap.Reading(pair.B)
	if !okA || !okB || ra.Metric == "" || rb.Metric == "" || ra.Metric == rb.Metric {
		// Redundant sensors on one metric always correlate.
		return
	}
	// Diagnose from both ends; the deeper explanation wins.
	best := p.deps.Forensic.Diagnose(ra.Metric, snap)
	alt := p.deps.Forensic.Diagnose(rb.Metric, snap)
	if alt.Depth() > best.Depth() || (alt.Depth() == best.Depth() && alt.FinalSymptom.Metric < best.FinalSymptom.Metric) {
		best = alt
	}
	pc := pair
	p.investigateChain(ctx, TriggerSynergy, best, &pc)
}

func (p *Pipeline) investigate(ctx context.Context, trigger Trigger, symptom string, pair *correlation.Pair) {
	if !p.claim(symptom) {
		return
	}
	snap := p.deps.Store.Snapshot()
	p.record(ctx, trigger, p.diagnose(symptom, snap), pair)
}

func (p *Pipeline) investigateChain(ctx context.Context, trigger Trigger, chain model.CausalChain, pair *correlation.Pair) {
	if !p.claim(chain.FinalSymptom.Metric) {
		return
	}
	p.record(ctx, trigger, chain, pair)
}

func (p *Pipeline) diagnose(symptom string, snap *telemetry.Snapshot) model.CausalChain {
	start := time.Now()
	chain := p.deps.Forensic.Diagnose(symptom, snap)
	p.deps.Metrics.ObserveDiagnosis(chain, time.Since(start))
	return chain
}

// claim enforces the per-symptom cooldown.
func (p *Pipeline) claim(symptom string) bool {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastDiag[symptom]; ok && now.Sub(last) < p.cfg.Cooldown {
		return false
	}
	p.lastDiag[symptom] = now
	return true
}

func (p *Pipeline) record(ctx context.Context, trigger Trigger, chain model.CausalChain, pair *correlation.Pair) {
	a := Anomaly{
		ID:         uuid.NewString(),
		DetectedAt: p.now(),
		Trigger:    trigger,
		Pair:       pair,
		Chain:      chain,
	}
	sev := model.SeverityWarning
	if trigger == TriggerSynergy {
		sev = model.SeverityNeural
	}
	p.alert(sev, chain.Description)

	if res := p.deps.Recovery.Heal(ctx, chain); res != nil {
		a.Healing = res
		if p.deps.Archive != nil {
			if err := p.deps.Archive.RecordHealing(ctx, *res); err != nil {
				p.log.Warn("Archive write failed", zap.Error(err))
			}
		}
		hs := model.SeverityWarning
		if res.Mode == model.ModeAuto {
			hs = model.SeverityInfo
		}
		p.alert(hs, fmt.Sprintf("%s %s: %s", res.Protocol, res.Mode, res.SimulatedOutcome))
	}

	p.mu.Lock()
	p.anomalies = append(p.anomalies, a)
	p.mu.Unlock()
	p.log.Info("Anomaly investigated",
		zap.String("id", a.ID),
		zap.String("trigger", string(trigger)),
		zap.String("root_cause", chain.RootCause.Metric),
		zap.String("symptom", chain.FinalSymptom.Metric),
		zap.Int("depth", chain.Depth()))
	p.publish(Event{Type: EventAnomaly, Anomaly: &a})
}

func (p *Pipeline) plan(ctx context.Context, snap *telemetry.Snapshot) {
	if _, ok := snap.Value(model.MetricPower); !ok {
		return
	}
	fin := p.Finance()
	if p.deps.Prices != nil {
		price, err := p.deps.Prices.CurrentPrice(ctx, p.now())
		if err != nil {
			p.log.Warn("Market price unavailable, keeping last price", zap.Error(err))
		} else {
			fin.MarketPriceEurPerMWh = price
			p.SetFinance(fin)
		}
	}

	mods := model.NeutralModifiers()
	if p.deps.Feedback != nil {
		m, err := p.deps.Feedback.Modifiers(ctx, string(model.ActionIncreaseLoad))
		if err != nil {
			p.log.Warn("Veto history unavailable, using neutral modifiers", zap.Error(err))
		}
		mods = m
	}

	out := p.deps.Strategist.CalculateBridge(snap.Unit(), fin, strategist.History{
		Vibration:   snap.History(model.MetricVibration),
		Temperature: snap.History(model.MetricTemperature),
		Diagnostics: snap,
	}, &mods)
	p.deps.Metrics.ObserveRecommendations(out)

	p.mu.Lock()
	p.lastPlan = &out
	p.mu.Unlock()
	p.publish(Event{Type: EventPlan, Plan: &out})
}

func (p *Pipeline) Finance() model.FinancialContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finance
}

func (p *Pipeline) SetFinance(f model.FinancialContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finance = f
}

// LastPlan is the most recent strategist output, if any.
func (p *Pipeline) LastPlan() (model.StrategistOutput, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastPlan == nil {
		return model.StrategistOutput{}, false
	}
	return *p.lastPlan, true
}

// Anomalies returns investigated anomalies, newest first.
func (p *Pipeline) Anomalies() []Anomaly {
	p.mu.Lock()
	out := append([]Anomaly(nil), p.anomalies...)
	p.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out
}
