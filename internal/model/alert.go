package model

import "time"

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
	SeverityNeural   Severity = "NEURAL"
)

// HighPriority reports whether alerts of this severity survive a blackout.
func (s Severity) HighPriority() bool {
	return s == SeverityCritical || s == SeverityNeural
}

// Alert is a journal record.
type Alert struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	TimestampMs int64    `json:"timestamp_ms"`
	Source      string   `json:"source"`
}

func (a Alert) Time() time.Time {
	return time.UnixMilli(a.TimestampMs)
}
