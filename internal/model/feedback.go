package model

import "time"

// VetoRecord is an operator override of a recommendation.
// ActionType is the structured key; Reason and Context are free text and
// only consulted when ActionType is empty.
type VetoRecord struct {
	ActionID   string    `json:"action_id"`
	ActionType string    `json:"action_type,omitempty"`
	Reason     string    `json:"reason"`
	Context    string    `json:"context,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// LearningModifiers temper recommendations after repeated vetoes.
// ThresholdMultiplier >= 1, ConfidencePenalty in [0, 0.5].
type LearningModifiers struct {
	ThresholdMultiplier float64 `json:"threshold_multiplier"`
	ConfidencePenalty   float64 `json:"confidence_penalty"`
	Reason              string  `json:"reason,omitempty"`
}

func NeutralModifiers() LearningModifiers {
	return LearningModifiers{ThresholdMultiplier: 1.0}
}
