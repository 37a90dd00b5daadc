package recovery

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hydropulse/internal/metrics"
	"hydropulse/internal/model"
)

type recordingExecutor struct {
	calls []model.HealingAction
	err   error
}

func (r *recordingExecutor) Execute(_ context.Context, a model.HealingAction) error {
	r.calls = append(r.calls, a)
	return r.err
}

func chainFor(metric string, value float64) model.CausalChain {
	symptom := model.CausalNode{Metric: model.MetricVibration, Value: 6, Contribution: 1}
	root := model.CausalNode{Metric: metric, Value: value, Contribution: 0.85}
	return model.CausalChain{RootCause: root, Path: []model.CausalNode{root, symptom}, FinalSymptom: symptom}
}

func newService(t *testing.T, price int64, exec Executor) *Service {
	t.Helper()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewService(NewSimulator(100, decimal.NewFromInt(price)), exec, zaptest.NewLogger(t),
		WithClock(func() time.Time { return fixed }),
		WithMetrics(metrics.New()))
	require.NoError(t, err)
	return svc
}

func TestMatchProtocol(t *testing.T) {
	a, ok := MatchProtocol(DefaultRules(), chainFor(model.MetricTemperature, 45))
	require.True(t, ok)
	assert.Equal(t, model.ProtocolThermalStabilization, a.Protocol)

	_, ok = MatchProtocol(DefaultRules(), chainFor(model.MetricTemperature, 35))
	assert.False(t, ok, "below threshold")

	_, ok = MatchProtocol(DefaultRules(), chainFor(model.MetricHeadPressure, 190))
	assert.False(t, ok, "no rule for metric")
}

func TestHeal(t *testing.T) {
	ctx := context.Background()

	t.Run("thermal stabilization auto-executes", func(t *testing.T) {
		exec := &recordingExecutor{}
		svc := newService(t, 80, exec)
		res := svc.Heal(ctx, chainFor(model.MetricTemperature, 45))
		require.NotNil(t, res)
		assert.Equal(t, model.ProtocolThermalStabilization, res.Protocol)
		assert.Equal(t, model.ModeAuto, res.Mode)
		assert.True(t, res.Executed)
		assert.InDelta(t, 0.765, res.HealingEffectiveness, 1e-9)
		assert.InDelta(t, 120, res.PredictedLoss, 1e-9)
		assert.NotEmpty(t, res.ID)
		require.Len(t, exec.calls, 1)
		assert.Equal(t, model.ProtocolThermalStabilization, exec.calls[0].Protocol)
	})

	t.Run("low confidence is advisory and never simulated", func(t *testing.T) {
		exec := &recordingExecutor{}
		svc := newService(t, 80, exec)
		res := svc.Heal(ctx, chainFor(model.MetricVibration, 8))
		require.NotNil(t, res)
		assert.Equal(t, model.ProtocolVibrationDamping, res.Protocol)
		assert.Equal(t, model.ModeAdvisory, res.Mode)
		assert.False(t, res.Executed)
		assert.Equal(t, 0.0, res.HealingEffectiveness)
		assert.Equal(t, 0.0, res.PredictedLoss)
		assert.Empty(t, exec.calls)
	})

	t.Run("low effectiveness is advisory and names H_eff", func(t *testing.T) {
		exec := &recordingExecutor{}
		svc := newService(t, 80, exec)
		res := svc.Heal(ctx, chainFor(model.MetricFlow, 95))
		require.NotNil(t, res)
		assert.Equal(t, model.ModeAdvisory, res.Mode)
		assert.False(t, res.Executed)
		assert.InDelta(t, 0.65, res.HealingEffectiveness, 1e-9)
		assert.Contains(t, res.SimulatedOutcome, "H_eff 0.65")
		assert.Empty(t, exec.calls)
	})

	t.Run("expensive outcome is advisory", func(t *testing.T) {
		exec := &recordingExecutor{}
		cheap := newService(t, 80, exec).Heal(ctx, chainFor(model.MetricCavitation, 0.9))
		require.NotNil(t, cheap)
		assert.Equal(t, model.ModeAuto, cheap.Mode)
		assert.InDelta(t, 270, cheap.PredictedLoss, 1e-9)

		costly := newService(t, 10000, exec).Heal(ctx, chainFor(model.MetricCavitation, 0.9))
		require.NotNil(t, costly)
		assert.Equal(t, model.ModeAdvisory, costly.Mode)
		assert.False(t, costly.Executed)
		assert.InDelta(t, 0.8, costly.HealingEffectiveness, 1e-9)
		assert.Len(t, exec.calls, 1)
	})

	t.Run("adapter failure downgrades to advisory", func(t *testing.T) {
		exec := &recordingExecutor{err: errors.New("plc offline")}
		svc := newService(t, 80, exec)
		res := svc.Heal(ctx, chainFor(model.MetricTemperature, 45))
		require.NotNil(t, res)
		assert.Equal(t, model.ModeAdvisory, res.Mode)
		assert.False(t, res.Executed)
		assert.Contains(t, res.SimulatedOutcome, "plc offline")
		assert.Equal(t, 1, svc.Ledger().Len(), "failed attempts are still audited")
	})

	t.Run("no match returns nil and records nothing", func(t *testing.T) {
		svc := newService(t, 80, &recordingExecutor{})
		assert.Nil(t, svc.Heal(ctx, chainFor(model.MetricHeadPressure, 190)))
		assert.Equal(t, 0, svc.Ledger().Len())
	})
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	assert.Error(t, err)
	_, err = NewService(NewSimulator(0, decimal.NewFromInt(50)), nil, nil)
	assert.Error(t, err)
	svc, err := NewService(NewSimulator(10, decimal.NewFromInt(50)), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc.Heal(context.Background(), chainFor(model.MetricTemperature, 45)))
}

func TestSimulateIsDeterministic(t *testing.T) {
	sim := NewSimulator(100, decimal.NewFromInt(80))
	a, _ := MatchProtocol(DefaultRules(), chainFor(model.MetricCavitation, 0.95))
	first, err := sim.Simulate(a)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := sim.Simulate(a)
		require.NoError(t, err)
		assert.True(t, first.PredictedLoss.Equal(again.PredictedLoss))
		assert.Equal(t, first.ActualImprovement, again.ActualImprovement)
	}

	_, err = sim.Simulate(model.HealingAction{Protocol: "UNKNOWN"})
	assert.Error(t, err)
}

func TestLedger(t *testing.T) {
	svc := newService(t, 80, &recordingExecutor{})
	ctx := context.Background()
	svc.Heal(ctx, chainFor(model.MetricTemperature, 45))
	svc.Heal(ctx, chainFor(model.MetricVibration, 8))

	rows := svc.Ledger().Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].Index)
	assert.Equal(t, model.MetricTemperature, rows[0].RootCause)
	assert.Equal(t, 1, rows[0].ChainDepth)

	sum := svc.Ledger().Summary()
	assert.Equal(t, 2, sum.Attempts)
	assert.Equal(t, 1, sum.AutoExecuted)
	assert.Equal(t, 1, sum.Advisory)
	assert.InDelta(t, 120, sum.TotalLossEUR, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, WriteLedger(&buf, rows))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "index", records[0][0])
	assert.Equal(t, "THERMAL_STABILIZATION", records[1][7])
	assert.Equal(t, "2026-03-01T12:00:00Z", records[1][2])
	assert.Equal(t, "true", records[1][14])
}
