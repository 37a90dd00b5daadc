package recovery

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"
)

func WriteLedgerCSV(path string, ledger []LedgerRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteLedger(f, ledger)
}

func WriteLedger(out io.Writer, ledger []LedgerRow) error {
	w := csv.NewWriter(out)
	defer w.Flush()

	header := []string{
		"index",
		"id",
		"created_at",
		"symptom",
		"root_cause",
		"root_value",
		"chain_depth",
		"protocol",
		"target_metric",
		"adjustment_value",
		"confidence",
		"mode",
		"healing_effectiveness",
		"predicted_loss",
		"executed",
		"outcome",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range ledger {
		row := []string{
			strconv.Itoa(r.Index),
			r.ID,
			fmtTime(r.CreatedAt),
			r.Symptom,
			r.RootCause,
			fmtFloat(r.RootValue),
			strconv.Itoa(r.ChainDepth),
			string(r.Protocol),
			r.TargetMetric,
			fmtFloat(r.AdjustmentValue),
			fmtFloat(r.Confidence),
			string(r.Mode),
			fmtFloat(r.HealingEffectiveness),
			fmtFloat(r.PredictedLoss),
			strconv.FormatBool(r.Executed),
			r.Outcome,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
