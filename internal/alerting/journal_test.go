package alerting

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"hydropulse/internal/model"
)

func TestNewStampsID(t *testing.T) {
	a := New(model.SeverityWarning, "gateway", "heartbeat late", 42)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, int64(42), a.TimestampMs)
	assert.NotEqual(t, a.ID, New(model.SeverityWarning, "gateway", "heartbeat late", 42).ID)
}

func TestLogJournalLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	j := NewLogJournal(zap.New(core))
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, New(model.SeverityCritical, "link", "Link Severed - Watchdog Expired", 1)))
	require.NoError(t, j.Record(ctx, New(model.SeverityInfo, "link", "connected", 2)))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Link Severed - Watchdog Expired", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "link", entries[0].ContextMap()["source"])
}

func TestMemoryJournalLimit(t *testing.T) {
	j := NewMemoryJournal(2)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, j.Record(ctx, model.Alert{TimestampMs: i}))
	}
	got := j.Alerts()
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].TimestampMs)
	assert.Equal(t, int64(3), got[1].TimestampMs)
}

type failing struct{}

func (failing) Record(context.Context, model.Alert) error { return errors.New("sink down") }

func TestMulti(t *testing.T) {
	mem := NewMemoryJournal(10)
	err := Multi{failing{}, mem}.Record(context.Background(), model.Alert{Message: "x"})
	assert.ErrorContains(t, err, "sink down")
	assert.Len(t, mem.Alerts(), 1, "a failing sink must not starve the others")
}

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	return redis.NewStringResult("1-0", f.err)
}

func TestRedisJournal(t *testing.T) {
	fs := &fakeStream{}
	j := NewRedisJournal(fs, "", 1000)
	a := New(model.SeverityNeural, "strategist", "synergy veto", 7)
	require.NoError(t, j.Record(context.Background(), a))

	require.Len(t, fs.args, 1)
	assert.Equal(t, DefaultStream, fs.args[0].Stream)
	assert.Equal(t, int64(1000), fs.args[0].MaxLen)
	assert.True(t, fs.args[0].Approx)
	values := fs.args[0].Values.(map[string]interface{})
	assert.Equal(t, "NEURAL", values["severity"])
	assert.Equal(t, a.ID, values["id"])

	fs.err = errors.New("READONLY")
	assert.ErrorContains(t, j.Record(context.Background(), a), "READONLY")
}
