package pipeline

import (
	"time"

	"hydropulse/internal/correlation"
	"hydropulse/internal/link"
	"hydropulse/internal/model"
	"hydropulse/internal/telemetry"
)

type EventType string

const (
	EventReading EventType = "reading"
	EventAnomaly EventType = "anomaly"
	EventPlan    EventType = "plan"
	EventAlert   EventType = "alert"
	EventLink    EventType = "link"
)

// Event is one item on the pipeline's output stream. Exactly one payload
// field is set, matching Type.
type Event struct {
	Type    EventType               `json:"type"`
	Reading *telemetry.Reading      `json:"reading,omitempty"`
	Anomaly *Anomaly                `json:"anomaly,omitempty"`
	Plan    *model.StrategistOutput `json:"plan,omitempty"`
	Alert   *model.Alert            `json:"alert,omitempty"`
	Link    *link.Transition        `json:"link,omitempty"`
}

// Trigger is what started an investigation.
type Trigger string

const (
	TriggerSynergy Trigger = "synergy"
	TriggerAlarm   Trigger = "alarm"
)

// Anomaly is one investigated detection and what was done about it.
type Anomaly struct {
	ID         string               `json:"id"`
	DetectedAt time.Time            `json:"detected_at"`
	Trigger    Trigger              `json:"trigger"`
	Pair       *correlation.Pair    `json:"pair,omitempty"`
	Chain      model.CausalChain    `json:"chain"`
	Healing    *model.HealingResult `json:"healing,omitempty"`
}
