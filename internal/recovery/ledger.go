package recovery

import (
	"sync"
	"time"

	"hydropulse/internal/model"
)

// LedgerRow is one healing attempt flattened for audit output.
type LedgerRow struct {
	Index int

	ID        string
	CreatedAt time.Time

	Symptom    string
	RootCause  string
	RootValue  float64
	ChainDepth int

	Protocol        model.Protocol
	TargetMetric    string
	AdjustmentValue float64
	Confidence      float64

	Mode                 model.HealingMode
	HealingEffectiveness float64
	PredictedLoss        float64
	Executed             bool
	Outcome              string
}

// Ledger is the in-memory source of truth for attempted healing,
// regardless of what external persistence managed to store.
type Ledger struct {
	mu   sync.RWMutex
	rows []LedgerRow
}

func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) Append(a model.HealingAction, r model.HealingResult) LedgerRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := LedgerRow{
		Index:                len(l.rows),
		ID:                   r.ID,
		CreatedAt:            r.CreatedAt,
		Symptom:              r.Chain.FinalSymptom.Metric,
		RootCause:            r.Chain.RootCause.Metric,
		RootValue:            r.Chain.RootCause.Value,
		ChainDepth:           r.Chain.Depth(),
		Protocol:             r.Protocol,
		TargetMetric:         a.TargetMetric,
		AdjustmentValue:      a.AdjustmentValue,
		Confidence:           a.Confidence,
		Mode:                 r.Mode,
		HealingEffectiveness: r.HealingEffectiveness,
		PredictedLoss:        r.PredictedLoss,
		Executed:             r.Executed,
		Outcome:              r.SimulatedOutcome,
	}
	l.rows = append(l.rows, row)
	return row
}

func (l *Ledger) Rows() []LedgerRow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]LedgerRow(nil), l.rows...)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rows)
}

// Summary aggregates the ledger.
type Summary struct {
	Attempts      int
	AutoExecuted  int
	Advisory      int
	TotalLossEUR  float64
	MeanEffective float64
}

func (l *Ledger) Summary() Summary {
	rows := l.Rows()
	s := Summary{Attempts: len(rows)}
	sumEff := 0.0
	for _, r := range rows {
		if r.Executed {
			s.AutoExecuted++
			s.TotalLossEUR += r.PredictedLoss
		} else {
			s.Advisory++
		}
		sumEff += r.HealingEffectiveness
	}
	if len(rows) > 0 {
		s.MeanEffective = sumEff / float64(len(rows))
	}
	return s
}
