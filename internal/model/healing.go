package model

import "time"

// Protocol names a corrective procedure from the fixed healing table.
type Protocol string

const (
	ProtocolThermalStabilization Protocol = "THERMAL_STABILIZATION"
	ProtocolVibrationDamping     Protocol = "VIBRATION_DAMPING"
	ProtocolCavitationMitigation Protocol = "CAVITATION_MITIGATION"
	ProtocolFlowRebalance        Protocol = "FLOW_REBALANCE"
	ProtocolSpeedTrim            Protocol = "SPEED_TRIM"
)

// HealingAction is a candidate correction, not yet applied.
// Units:
// - AdjustmentValue: percent of the actuator range for TargetMetric
// - ExpectedImprovement: percent reduction of the symptom
// - Confidence: 0..1
type HealingAction struct {
	Protocol            Protocol `json:"protocol"`
	TargetMetric        string   `json:"target_metric"`
	AdjustmentValue     float64  `json:"adjustment_value"`
	ExpectedImprovement float64  `json:"expected_improvement"`
	Confidence          float64  `json:"confidence"`
}

type HealingMode string

const (
	ModeAuto     HealingMode = "AUTO"
	ModeAdvisory HealingMode = "ADVISORY"
)

// HealingResult is the immutable audit record of one healing attempt.
type HealingResult struct {
	ID                   string      `json:"id"`
	Protocol             Protocol    `json:"protocol"`
	Mode                 HealingMode `json:"mode"`
	HealingEffectiveness float64     `json:"healing_effectiveness"`
	PredictedLoss        float64     `json:"predicted_loss"`
	SimulatedOutcome     string      `json:"simulated_outcome"`
	Executed             bool        `json:"executed"`
	Chain                CausalChain `json:"chain"`
	CreatedAt            time.Time   `json:"created_at"`
}
