package strategist

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"hydropulse/internal/model"
)

// Evaluation is what a rule sees once the economics are computed.
type Evaluation struct {
	Ratio     decimal.Decimal
	Debt      decimal.Decimal
	Modifiers model.LearningModifiers
}

// Rule proposes at most one action from an evaluation.
type Rule interface {
	Name() string
	Evaluate(e Evaluation) (model.PrescriptiveAction, bool)
}

// ProfitRule recommends more load when the machine earns far more than it wears.
// The bar rises with the learned threshold multiplier.
type ProfitRule struct {
	BaseRatio  decimal.Decimal // dimensionless
	MaxDebt    decimal.Decimal // EUR/h
	Confidence float64
}

func (r *ProfitRule) Name() string { return "profit" }

func (r *ProfitRule) Evaluate(e Evaluation) (model.PrescriptiveAction, bool) {
	bar := r.BaseRatio.Mul(decimal.NewFromFloat(e.Modifiers.ThresholdMultiplier))
	if !e.Ratio.GreaterThan(bar) || !e.Debt.LessThan(r.MaxDebt) {
		return model.PrescriptiveAction{}, false
	}
	return model.PrescriptiveAction{
		Kind:  model.ActionIncreaseLoad,
		Title: "Increase Load",
		Explanation: fmt.Sprintf("Profit-health ratio %s exceeds %s with molecular debt %s EUR/h",
			e.Ratio.StringFixed(2), bar.StringFixed(2), e.Debt.StringFixed(2)),
		Confidence: penalize(r.Confidence, e.Modifiers),
	}, true
}

// WearRule recommends less load when wear cost dominates.
type WearRule struct {
	MaxDebt    decimal.Decimal // EUR/h
	Confidence float64
}

func (r *WearRule) Name() string { return "wear" }

func (r *WearRule) Evaluate(e Evaluation) (model.PrescriptiveAction, bool) {
	if !e.Debt.GreaterThan(r.MaxDebt) {
		return model.PrescriptiveAction{}, false
	}
	return model.PrescriptiveAction{
		Kind:  model.ActionReduceLoad,
		Title: "Reduce Load",
		Explanation: fmt.Sprintf("Molecular debt %s EUR/h exceeds %s EUR/h",
			e.Debt.StringFixed(2), r.MaxDebt.StringFixed(2)),
		Confidence: penalize(r.Confidence, e.Modifiers),
	}, true
}

func penalize(conf float64, m model.LearningModifiers) float64 {
	return math.Max(0, conf-m.ConfidencePenalty)
}

// RuleByName builds a rule from its config name and optional parameters.
func RuleByName(name string, params map[string]any) (Rule, error) {
	switch name {
	case "profit":
		r := &ProfitRule{BaseRatio: decimal.NewFromInt(10), MaxDebt: decimal.NewFromInt(10), Confidence: 0.85}
		if v, ok := getFloat(params, "base_ratio"); ok {
			r.BaseRatio = decimal.NewFromFloat(v)
		}
		if v, ok := getFloat(params, "max_debt"); ok {
			r.MaxDebt = decimal.NewFromFloat(v)
		}
		if v, ok := getFloat(params, "confidence"); ok {
			r.Confidence = v
		}
		return r, nil
	case "wear":
		r := &WearRule{MaxDebt: decimal.NewFromInt(50), Confidence: 0.9}
		if v, ok := getFloat(params, "max_debt"); ok {
			r.MaxDebt = decimal.NewFromFloat(v)
		}
		if v, ok := getFloat(params, "confidence"); ok {
			r.Confidence = v
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown rule %q (expected profit or wear)", name)
	}
}

// DefaultRules is profit then wear.
func DefaultRules() []Rule {
	p, _ := RuleByName("profit", nil)
	w, _ := RuleByName("wear", nil)
	return []Rule{p, w}
}

func getFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
