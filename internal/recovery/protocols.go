package recovery

import "hydropulse/internal/model"

// Rule maps a root cause above a threshold to a corrective action.
type Rule struct {
	Metric    string
	Threshold float64
	Action    model.HealingAction
}

// DefaultRules is the fixed protocol table. First match wins.
// AdjustmentValue is percent of actuator range; negative means close/reduce.
func DefaultRules() []Rule {
	return []Rule{
		{
			Metric: model.MetricTemperature, Threshold: 40,
			Action: model.HealingAction{
				Protocol:            model.ProtocolThermalStabilization,
				TargetMetric:        model.MetricTemperature,
				AdjustmentValue:     15, // cooling water valve
				ExpectedImprovement: 15,
				Confidence:          0.92,
			},
		},
		{
			Metric: model.MetricOilTemperature, Threshold: 60,
			Action: model.HealingAction{
				Protocol:            model.ProtocolThermalStabilization,
				TargetMetric:        model.MetricOilTemperature,
				AdjustmentValue:     20,
				ExpectedImprovement: 12,
				Confidence:          0.9,
			},
		},
		{
			Metric: model.MetricCavitation, Threshold: 0.8,
			Action: model.HealingAction{
				Protocol:            model.ProtocolCavitationMitigation,
				TargetMetric:        model.MetricCavitation,
				AdjustmentValue:     5, // air admission
				ExpectedImprovement: 25,
				Confidence:          0.95,
			},
		},
		{
			Metric: model.MetricVibration, Threshold: 4.5,
			Action: model.HealingAction{
				Protocol:            model.ProtocolVibrationDamping,
				TargetMetric:        model.MetricVibration,
				AdjustmentValue:     -10, // load
				ExpectedImprovement: 30,
				Confidence:          0.85,
			},
		},
		{
			Metric: model.MetricFlow, Threshold: 80,
			Action: model.HealingAction{
				Protocol:            model.ProtocolFlowRebalance,
				TargetMetric:        model.MetricFlow,
				AdjustmentValue:     -8, // guide vane opening
				ExpectedImprovement: 10,
				Confidence:          0.9,
			},
		},
		{
			Metric: model.MetricRPM, Threshold: 520,
			Action: model.HealingAction{
				Protocol:            model.ProtocolSpeedTrim,
				TargetMetric:        model.MetricRPM,
				AdjustmentValue:     -2,
				ExpectedImprovement: 8,
				Confidence:          0.88,
			},
		},
	}
}

// MatchProtocol picks the action for the chain's root cause.
func MatchProtocol(rules []Rule, chain model.CausalChain) (model.HealingAction, bool) {
	root := chain.RootCause
	for _, r := range rules {
		if r.Metric == root.Metric && root.Value > r.Threshold {
			return r.Action, true
		}
	}
	return model.HealingAction{}, false
}
