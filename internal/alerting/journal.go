package alerting

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hydropulse/internal/model"
)

// Journal is the external alert sink.
type Journal interface {
	Record(ctx context.Context, a model.Alert) error
}

// New stamps an id on an alert.
func New(sev model.Severity, source, message string, timestampMs int64) model.Alert {
	return model.Alert{
		ID:          uuid.NewString(),
		Severity:    sev,
		Message:     message,
		TimestampMs: timestampMs,
		Source:      source,
	}
}

// LogJournal writes alerts to the structured log.
type LogJournal struct {
	log *zap.Logger
}

func NewLogJournal(logger *zap.Logger) *LogJournal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogJournal{log: logger.Named("journal")}
}

func (j *LogJournal) Record(_ context.Context, a model.Alert) error {
	fields := []zap.Field{
		zap.String("id", a.ID),
		zap.String("severity", string(a.Severity)),
		zap.String("source", a.Source),
		zap.Time("at", a.Time()),
	}
	switch a.Severity {
	case model.SeverityCritical, model.SeverityNeural:
		j.log.Error(a.Message, fields...)
	case model.SeverityWarning:
		j.log.Warn(a.Message, fields...)
	default:
		j.log.Info(a.Message, fields...)
	}
	return nil
}

// MemoryJournal keeps alerts in order; the API reads recent alerts from it.
type MemoryJournal struct {
	mu     sync.RWMutex
	alerts []model.Alert
	limit  int
}

func NewMemoryJournal(limit int) *MemoryJournal {
	if limit <= 0 {
		limit = 500
	}
	return &MemoryJournal{limit: limit}
}

func (j *MemoryJournal) Record(_ context.Context, a model.Alert) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.alerts = append(j.alerts, a)
	if over := len(j.alerts) - j.limit; over > 0 {
		j.alerts = append([]model.Alert(nil), j.alerts[over:]...)
	}
	return nil
}

func (j *MemoryJournal) Alerts() []model.Alert {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]model.Alert(nil), j.alerts...)
}

// Multi fans an alert out to every journal and joins their errors.
type Multi []Journal

func (m Multi) Record(ctx context.Context, a model.Alert) error {
	var errs []error
	for _, j := range m {
		if err := j.Record(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
