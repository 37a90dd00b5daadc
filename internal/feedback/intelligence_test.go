package feedback

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hydropulse/internal/model"
)

var now = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func vetoes(n int, actionType string, age time.Duration) []model.VetoRecord {
	out := make([]model.VetoRecord, n)
	for i := range out {
		out[i] = model.VetoRecord{
			ActionID:   fmt.Sprintf("a-%d", i),
			ActionType: actionType,
			Reason:     "operator override",
			Timestamp:  now.Add(-age),
		}
	}
	return out
}

func TestGetLearningModifiers(t *testing.T) {
	for n := 0; n <= 3; n++ {
		m := GetLearningModifiers("INCREASE_LOAD", vetoes(n, "INCREASE_LOAD", time.Hour), now)
		assert.Equal(t, 1.0, m.ThresholdMultiplier, "n=%d", n)
		assert.Equal(t, 0.0, m.ConfidencePenalty, "n=%d", n)
		assert.Empty(t, m.Reason)
	}

	m := GetLearningModifiers("INCREASE_LOAD", vetoes(4, "INCREASE_LOAD", time.Hour), now)
	assert.Equal(t, 1.15, m.ThresholdMultiplier)
	assert.Equal(t, 0.1, m.ConfidencePenalty)
	assert.Contains(t, m.Reason, "4 operator vetoes")

	m = GetLearningModifiers("INCREASE_LOAD", vetoes(8, "INCREASE_LOAD", time.Hour), now)
	assert.Equal(t, 1.75, m.ThresholdMultiplier)
	assert.Equal(t, 0.5, m.ConfidencePenalty)

	m = GetLearningModifiers("INCREASE_LOAD", vetoes(20, "INCREASE_LOAD", time.Hour), now)
	assert.Equal(t, 0.5, m.ConfidencePenalty, "penalty is capped")
}

func TestModifiersGrowMonotonically(t *testing.T) {
	prev := ModifiersForCount(0, "x")
	for n := 1; n < 15; n++ {
		cur := ModifiersForCount(n, "x")
		assert.GreaterOrEqual(t, cur.ThresholdMultiplier, prev.ThresholdMultiplier)
		assert.GreaterOrEqual(t, cur.ConfidencePenalty, prev.ConfidencePenalty)
		prev = cur
	}
}

func TestWindowAndMatching(t *testing.T) {
	t.Run("old vetoes fall out of the window", func(t *testing.T) {
		history := append(vetoes(3, "INCREASE_LOAD", 24*time.Hour), vetoes(5, "INCREASE_LOAD", 8*24*time.Hour)...)
		assert.Equal(t, 3, CountVetoes("INCREASE_LOAD", history, now))
	})

	t.Run("structured type wins over text", func(t *testing.T) {
		r := model.VetoRecord{ActionType: "REDUCE_LOAD", Reason: "refused increase_load", Timestamp: now}
		assert.False(t, Matches(r, "INCREASE_LOAD"))
		assert.True(t, Matches(r, "reduce_load"))
	})

	t.Run("legacy records match by substring", func(t *testing.T) {
		r := model.VetoRecord{Reason: "Operator refused Increase_Load during flood", Timestamp: now}
		assert.True(t, Matches(r, "increase_load"))
		r = model.VetoRecord{Context: `{"action":"INCREASE_LOAD"}`, Timestamp: now}
		assert.True(t, Matches(r, "Increase_Load"))
		assert.False(t, Matches(r, ""))
	})

	t.Run("legacy free text matches without underscores", func(t *testing.T) {
		r := model.VetoRecord{Reason: "refused increase load, trash rack blocked", Timestamp: now}
		assert.True(t, Matches(r, "INCREASE_LOAD"))
		assert.False(t, Matches(r, "REDUCE_LOAD"))
		assert.Equal(t, 1, CountVetoes("INCREASE_LOAD", []model.VetoRecord{r}, now))
	})
}

type failingStore struct{ MemoryStore }

func (f *failingStore) VetoesSince(context.Context, time.Time) ([]model.VetoRecord, error) {
	return nil, errors.New("connection refused")
}

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("records and derives modifiers", func(t *testing.T) {
		svc := NewService(NewMemoryStore(vetoes(3, "INCREASE_LOAD", time.Hour)...), zaptest.NewLogger(t))
		svc.now = func() time.Time { return now }

		require.NoError(t, svc.Record(ctx, model.VetoRecord{ActionID: "x", ActionType: "INCREASE_LOAD"}))
		m, err := svc.Modifiers(ctx, "INCREASE_LOAD")
		require.NoError(t, err)
		assert.Equal(t, 1.15, m.ThresholdMultiplier)
	})

	t.Run("rejects incomplete vetoes", func(t *testing.T) {
		svc := NewService(NewMemoryStore(), nil)
		assert.ErrorIs(t, svc.Record(ctx, model.VetoRecord{ActionType: "X"}), ErrInvalidVeto)
		assert.ErrorIs(t, svc.Record(ctx, model.VetoRecord{ActionID: "1"}), ErrInvalidVeto)
	})

	t.Run("store failure degrades to neutral", func(t *testing.T) {
		svc := NewService(&failingStore{}, zaptest.NewLogger(t))
		m, err := svc.Modifiers(ctx, "INCREASE_LOAD")
		assert.Error(t, err)
		assert.Equal(t, model.NeutralModifiers(), m)
	})
}
