package replay

import (
	"time"

	"hydropulse/internal/model"
	"hydropulse/internal/pipeline"
	"hydropulse/internal/recovery"
)

// TraceRow is what happened to one replayed sample.
type TraceRow struct {
	Index     int
	Timestamp time.Time

	TagID    string
	SignalID string
	Metric   string
	Unit     string
	Quality  model.Quality

	Received   float64
	Raw        float64
	Smooth     float64
	Held       bool
	Confidence float64
	Reason     string
}

type Result struct {
	Trace     []TraceRow
	Rejected  int
	Held      int
	Anomalies []pipeline.Anomaly
	Ledger    []recovery.LedgerRow
	Summary   recovery.Summary
	Plan      *model.StrategistOutput
	Alerts    []model.Alert
}
