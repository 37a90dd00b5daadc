package models

import (
	"time"

	"hydropulse/internal/correlation"
	"hydropulse/internal/model"
	"hydropulse/internal/telemetry"
)

// TelemetryResponse is the current validated view of every signal.
type TelemetryResponse struct {
	Status   string              `json:"status"`
	Mode     string              `json:"mode"`
	Readings []telemetry.Reading `json:"readings"`
}

// HistoryResponse is one signal's rolling window, oldest first.
type HistoryResponse struct {
	SignalID string         `json:"signal_id"`
	Unit     string         `json:"unit"`
	Points   []HistoryPoint `json:"points"`
}

type HistoryPoint struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Value       float64 `json:"value"`
}

// LinkStatus reports the uplink and its alert buffering.
type LinkStatus struct {
	State        string    `json:"state"`
	Simulated    bool      `json:"simulated"`
	Profile      string    `json:"profile"`
	InBlackout   bool      `json:"in_blackout"`
	QueuedAlerts int       `json:"queued_alerts"`
	LastSignal   time.Time `json:"last_signal,omitempty"`
}

// FeedbackResponse carries the modifiers currently applied to an action type.
type FeedbackResponse struct {
	ActionType string                  `json:"action_type"`
	Modifiers  model.LearningModifiers `json:"modifiers"`
}

// CorrelationResponse ranks every signal pair by |r|.
type CorrelationResponse struct {
	Window    int                `json:"window"`
	Threshold float64            `json:"threshold"`
	Pairs     []correlation.Pair `json:"pairs"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewError builds an ErrorResponse without details.
func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}
