package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"hydropulse/internal/metrics"
	"hydropulse/internal/model"
	"hydropulse/internal/telemetry"
)

const (
	measurementTelemetry = "telemetry"
	measurementHealing   = "healing_attempts"

	// DefaultArchiveBatch is how many telemetry points are buffered before a write.
	DefaultArchiveBatch = 500
)

// NewInfluxClient returns a client for the archive. Callers Close it.
func NewInfluxClient(url, token string) influxdb2.Client {
	return influxdb2.NewClient(url, token)
}

// Archive batches validated readings and healing attempts into InfluxDB.
// Archive failures are logged and counted; they never block the pipeline.
type Archive struct {
	writer  api.WriteAPIBlocking
	batch   int
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending []*write.Point
}

func NewArchive(writer api.WriteAPIBlocking, batch int, logger *zap.Logger, m *metrics.Metrics) *Archive {
	if batch <= 0 {
		batch = DefaultArchiveBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{writer: writer, batch: batch, log: logger.Named("archive"), metrics: m}
}

// ReadingPoint maps a reading to its line-protocol point.
func ReadingPoint(r telemetry.Reading) *write.Point {
	return influxdb2.NewPoint(
		measurementTelemetry,
		map[string]string{
			"signal_id": r.SignalID,
			"metric":    r.Metric,
			"quality":   string(r.Quality),
			"action":    string(r.Verdict.Action),
		},
		map[string]interface{}{
			"received":   r.Received,
			"raw":        r.Filtered.Raw,
			"smooth":     r.Filtered.Smooth,
			"confidence": r.Verdict.Confidence,
			"held":       r.Held,
		},
		time.UnixMilli(r.Filtered.TimestampMs),
	)
}

// HealingPoint maps a healing attempt to its point.
func HealingPoint(r model.HealingResult) *write.Point {
	return influxdb2.NewPointWithMeasurement(measurementHealing).
		AddTag("protocol", string(r.Protocol)).
		AddTag("mode", string(r.Mode)).
		AddTag("root_cause", r.Chain.RootCause.Metric).
		AddField("id", r.ID).
		AddField("healing_effectiveness", r.HealingEffectiveness).
		AddField("predicted_loss", r.PredictedLoss).
		AddField("executed", r.Executed).
		AddField("outcome", r.SimulatedOutcome).
		SetTime(r.CreatedAt)
}

// RecordReading buffers a reading and writes the batch once it is full.
func (a *Archive) RecordReading(ctx context.Context, r telemetry.Reading) error {
	a.mu.Lock()
	a.pending = append(a.pending, ReadingPoint(r))
	full := len(a.pending) >= a.batch
	a.mu.Unlock()
	if full {
		return a.Flush(ctx)
	}
	return nil
}

// RecordHealing writes an attempt immediately.
func (a *Archive) RecordHealing(ctx context.Context, r model.HealingResult) error {
	if err := a.writer.WritePoint(ctx, HealingPoint(r)); err != nil {
		a.metrics.ObserveStoreError("influx")
		return fmt.Errorf("failed to archive healing attempt %s: %w", r.ID, err)
	}
	return nil
}

// Flush writes everything buffered. Points from a failed write are dropped.
func (a *Archive) Flush(ctx context.Context) error {
	a.mu.Lock()
	points := a.pending
	a.pending = nil
	a.mu.Unlock()
	if len(points) == 0 {
		return nil
	}
	if err := a.writer.WritePoint(ctx, points...); err != nil {
		a.metrics.ObserveStoreError("influx")
		return fmt.Errorf("failed to archive %d points: %w", len(points), err)
	}
	a.log.Debug("Archived telemetry batch", zap.Int("points", len(points)))
	return nil
}

// Pending is the number of buffered points.
func (a *Archive) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run flushes every interval until ctx is done, then flushes once more.
func (a *Archive) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.Flush(flushCtx); err != nil {
				a.log.Error("Final archive flush failed", zap.Error(err))
			}
			return nil
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.log.Warn("Archive flush failed", zap.Error(err))
			}
		}
	}
}
