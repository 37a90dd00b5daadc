package model

type Winner string

const (
	WinnerSensorA  Winner = "SENSOR_A"
	WinnerFallback Winner = "FALLBACK"
)

type VerdictAction string

const (
	VerdictTrust       VerdictAction = "TRUST"
	VerdictUseFallback VerdictAction = "USE_FALLBACK"
)

// SensorVerdict is the plausibility decision for a single sample.
// Only the last verdict per sensor is retained.
type SensorVerdict struct {
	SensorID   string        `json:"sensor_id"`
	Winner     Winner        `json:"winner"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason"`
	Action     VerdictAction `json:"action"`
}

func (v SensorVerdict) Trusted() bool {
	return v.Action == VerdictTrust
}
