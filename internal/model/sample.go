package model

// RawSample is one reading emitted by an ingestion source.
// Units depend on the tag; TimestampMs is Unix milliseconds.
type RawSample struct {
	TagID       string  `json:"tag_id"`
	Value       float64 `json:"value"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Quality describes how far a gateway value can be trusted.
// Keep these values stable; they are part of the API payloads.
type Quality string

const (
	QualityGood         Quality = "GOOD"
	QualityUncertain    Quality = "UNCERTAIN"
	QualityBadConfig    Quality = "BAD_CONFIG"
	QualityDisconnected Quality = "DISCONNECTED"
)

// FilteredSignal pairs the raw reading with its smoothed counterpart.
// Dashboards read Smooth; diagnosis must always read Raw.
type FilteredSignal struct {
	Raw         float64 `json:"raw"`
	Smooth      float64 `json:"smooth"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Canonical metric names shared by the gateway tag table, the forensic
// prior graph, the healing protocol table and the strategist.
const (
	MetricTemperature    = "temperature"
	MetricOilTemperature = "oil_temperature"
	MetricVibration      = "vibration"
	MetricCavitation     = "cavitation"
	MetricRPM            = "rpm"
	MetricHeadPressure   = "head_pressure"
	MetricFlow           = "flow"
	MetricPower          = "power"
)

// Signal is a gateway reading scaled to engineering units.
type Signal struct {
	SignalID    string  `json:"signal_id"`
	Metric      string  `json:"metric,omitempty"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	Quality     Quality `json:"quality"`
	TimestampMs int64   `json:"timestamp_ms"`
}
