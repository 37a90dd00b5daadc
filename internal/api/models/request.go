package models

import "time"

// VetoRequest is an operator override of a recommendation.
type VetoRequest struct {
	ActionID   string    `json:"action_id" binding:"required"`
	ActionType string    `json:"action_type,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Context    string    `json:"context,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// ProfileRequest selects a bandwidth profile. Name wins when set;
// otherwise the profile is chosen from the network hints.
type ProfileRequest struct {
	Name          string `json:"name,omitempty"`
	Mobile        bool   `json:"mobile,omitempty"`
	EffectiveType string `json:"effective_type,omitempty"`
	SaveData      bool   `json:"save_data,omitempty"`
}

// CorrelationQuery bounds the correlation scan.
type CorrelationQuery struct {
	Window    int     `form:"window,omitempty"`    // default: full history
	Threshold float64 `form:"threshold,omitempty"` // default: 0
}
