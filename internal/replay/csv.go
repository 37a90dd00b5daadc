package replay

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"
)

func WriteTraceCSV(path string, trace []TraceRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteTrace(f, trace)
}

func WriteTrace(out io.Writer, trace []TraceRow) error {
	w := csv.NewWriter(out)

	header := []string{
		"index",
		"timestamp",
		"tag_id",
		"signal_id",
		"metric",
		"unit",
		"quality",
		"received",
		"raw",
		"smooth",
		"held",
		"confidence",
		"reason",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range trace {
		row := []string{
			strconv.Itoa(r.Index),
			fmtTime(r.Timestamp),
			r.TagID,
			r.SignalID,
			r.Metric,
			r.Unit,
			string(r.Quality),
			fmtFloat(r.Received),
			fmtFloat(r.Raw),
			fmtFloat(r.Smooth),
			strconv.FormatBool(r.Held),
			fmtFloat(r.Confidence),
			r.Reason,
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
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
