package strategist

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hydropulse/internal/correlation"
	"hydropulse/internal/forensic"
	"hydropulse/internal/model"
)

// HoldConfidence is the stated confidence of a synergy veto.
const HoldConfidence = 0.99

// History is the recent raw evidence the veto inspects.
// Diagnostics, when set, is the live state handed to the forensic explainer;
// otherwise a state is assembled from the telemetry and these windows.
type History struct {
	Vibration   []float64
	Temperature []float64
	Diagnostics forensic.State
}

// Explainer produces the causal chain attached to a veto.
type Explainer interface {
	Diagnose(symptomMetric string, state forensic.State) model.CausalChain
}

// Strategist bridges live telemetry and market economics.
type Strategist struct {
	wear             model.WearParams
	rules            []Rule
	explainer        Explainer
	synergyThreshold float64
	log              *zap.Logger
}

type Option func(*Strategist)

func WithRules(rules ...Rule) Option {
	return func(s *Strategist) { s.rules = rules }
}

func WithWear(w model.WearParams) Option {
	return func(s *Strategist) { s.wear = w }
}

func WithSynergyThreshold(th float64) Option {
	return func(s *Strategist) { s.synergyThreshold = th }
}

func New(explainer Explainer, logger *zap.Logger, opts ...Option) (*Strategist, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Strategist{
		wear:             model.DefaultWearParams(),
		rules:            DefaultRules(),
		explainer:        explainer,
		synergyThreshold: correlation.DefaultSynergyThreshold,
		log:              logger.Named("strategist"),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.wear.Validate(); err != nil {
		return nil, fmt.Errorf("wear params invalid: %w", err)
	}
	if s.synergyThreshold <= 0 || s.synergyThreshold >= 1 {
		return nil, errors.New("synergy threshold must be in (0, 1)")
	}
	return s, nil
}

// MolecularDebtRate is the modeled wear cost in EUR/h.
func (s *Strategist) MolecularDebtRate(t model.UnitTelemetry, f model.FinancialContext) decimal.Decimal {
	debt := s.wear.AmortizedReplacementRate(f.ReplacementCost)
	if t.Vibration > s.wear.VibrationLimit {
		debt = debt.Add(s.wear.VibrationPenalty)
	}
	if t.Cavitation > s.wear.CavitationLimit {
		debt = debt.Add(s.wear.CavitationPenalty)
	}
	return debt
}

// CalculateBridge prices the current operating point and prescribes actions.
// A nil modifiers pointer means no learned adjustment.
func (s *Strategist) CalculateBridge(t model.UnitTelemetry, f model.FinancialContext, h History, modifiers *model.LearningModifiers) model.StrategistOutput {
	mods := model.NeutralModifiers()
	if modifiers != nil {
		mods = *modifiers
		if mods.ThresholdMultiplier < 1 {
			mods.ThresholdMultiplier = 1
		}
	}

	revenue := decimal.NewFromFloat(t.PowerMW).Mul(f.MarketPriceEurPerMWh)
	debt := s.MolecularDebtRate(t, f)
	net := revenue.Sub(f.MaintenanceHourlyRate).Sub(debt)
	ratio := net.Div(debt.Add(decimal.NewFromInt(1)))

	out := model.StrategistOutput{
		NetProfitRate:     net.Round(4),
		MolecularDebtRate: debt.Round(4),
		ProfitHealthRatio: ratio.Round(4),
		Recommendations:   []model.PrescriptiveAction{},
	}

	if hold, vetoed := s.synergyVeto(t, h); vetoed {
		out.Recommendations = append(out.Recommendations, hold)
		s.log.Info("Synergy veto issued", zap.String("explanation", hold.Explanation))
		return out
	}

	eval := Evaluation{Ratio: ratio, Debt: debt, Modifiers: mods}
	for _, r := range s.rules {
		if a, ok := r.Evaluate(eval); ok {
			out.Recommendations = append(out.Recommendations, a)
		}
	}
	s.log.Debug("Bridge calculated",
		zap.String("net_profit_rate", out.NetProfitRate.String()),
		zap.String("molecular_debt_rate", out.MolecularDebtRate.String()),
		zap.Int("recommendations", len(out.Recommendations)))
	return out
}

func (s *Strategist) synergyVeto(t model.UnitTelemetry, h History) (model.PrescriptiveAction, bool) {
	if len(h.Vibration) == 0 || len(h.Temperature) == 0 {
		return model.PrescriptiveAction{}, false
	}
	vib, temp := correlation.AlignTail(h.Vibration, h.Temperature)
	res := correlation.DetectSynergy(vib, temp, s.synergyThreshold)
	if !res.Correlated || res.R <= s.synergyThreshold {
		return model.PrescriptiveAction{}, false
	}

	explanation := fmt.Sprintf("Vibration and temperature are moving together (r=%.2f).", res.R)
	if s.explainer != nil {
		state := h.Diagnostics
		if state == nil {
			state = forensic.StaticState{
				Values: map[string]float64{
					model.MetricVibration:   t.Vibration,
					model.MetricTemperature: t.Temperature,
					model.MetricCavitation:  t.Cavitation,
					model.MetricPower:       t.PowerMW,
				},
				Histories: map[string][]float64{
					model.MetricVibration:   h.Vibration,
					model.MetricTemperature: h.Temperature,
				},
			}
		}
		chain := s.explainer.Diagnose(model.MetricVibration, state)
		explanation += " " + chain.Description
	}
	return model.PrescriptiveAction{
		Kind:        model.ActionHoldLoad,
		Title:       "Hold Load (Synergetic Anomaly)",
		Explanation: explanation,
		Confidence:  HoldConfidence,
	}, true
}
