package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hydropulse/internal/model"
	"hydropulse/internal/signal"
	"hydropulse/internal/truth"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	bank, err := signal.NewBank(signal.Options{Kind: signal.KindSMA, SMAWindow: 3})
	require.NoError(t, err)
	s, err := NewStore(truth.NewJudge(), bank, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return s
}

func temp(id string, v float64, ts int64) model.Signal {
	return model.Signal{SignalID: id, Metric: model.MetricTemperature, Value: v, Unit: "degC", Quality: model.QualityGood, TimestampMs: ts}
}

func TestApplyAcceptsAndHolds(t *testing.T) {
	s := newStore(t)

	r, ok := s.Apply(temp("Upper_Guide_Bearing_Temp", 50, 1000))
	require.True(t, ok)
	assert.True(t, r.Verdict.Trusted())
	assert.False(t, r.Held)

	s.Apply(temp("Upper_Guide_Bearing_Temp", 52, 2000))

	// 38 degC in one second breaks the 5/s rate envelope.
	r, _ = s.Apply(temp("Upper_Guide_Bearing_Temp", 90, 3000))
	assert.True(t, r.Held)
	assert.Equal(t, model.VerdictUseFallback, r.Verdict.Action)
	assert.Equal(t, 90.0, r.Received)
	assert.Equal(t, 52.0, r.Filtered.Raw)
	assert.InDelta(t, (50+52+52)/3.0, r.Filtered.Smooth, 1e-9)
	assert.True(t, r.WarmedUp)

	hist, ok := s.History("Upper_Guide_Bearing_Temp")
	require.True(t, ok)
	require.Len(t, hist, 3)
	assert.Equal(t, int64(3000), hist[2].TimestampMs)
	assert.Equal(t, 52.0, hist[2].Value)

	// Rate is measured from the last accepted sample.
	r, _ = s.Apply(temp("Upper_Guide_Bearing_Temp", 55, 4000))
	assert.False(t, r.Held)
}

func TestApplyFirstSampleOutOfBounds(t *testing.T) {
	s := newStore(t)
	r, ok := s.Apply(model.Signal{SignalID: "Turbine_Vibration_X", Metric: model.MetricVibration, Value: 40, Quality: model.QualityGood, TimestampMs: 1000})
	require.True(t, ok)
	assert.True(t, r.Held)

	hist, _ := s.History("Turbine_Vibration_X")
	assert.Empty(t, hist)
	_, found := s.Snapshot().Value(model.MetricVibration)
	assert.False(t, found)
}

func TestApplyQualityHandling(t *testing.T) {
	s := newStore(t)
	_, ok := s.Apply(model.Signal{SignalID: "UNKNOWN_DB9", Quality: model.QualityBadConfig})
	assert.False(t, ok)
	assert.Empty(t, s.Readings())

	s.Apply(temp("Upper_Guide_Bearing_Temp", 50, 1000))
	lost := temp("Upper_Guide_Bearing_Temp", 50, 1000)
	lost.Quality = model.QualityDisconnected
	r, ok := s.Apply(lost)
	require.True(t, ok)
	assert.Equal(t, model.QualityDisconnected, r.Quality)

	hist, _ := s.History("Upper_Guide_Bearing_Temp")
	assert.Len(t, hist, 1)
}

func TestHistoryIsBounded(t *testing.T) {
	s := newStore(t, WithHistory(4))
	for i := 0; i < 10; i++ {
		s.Apply(temp("Upper_Guide_Bearing_Temp", 50+float64(i), int64(1000*(i+1))))
	}
	hist, _ := s.History("Upper_Guide_Bearing_Temp")
	require.Len(t, hist, 4)
	assert.Equal(t, 56.0, hist[0].Value)
	assert.Equal(t, 59.0, hist[3].Value)

	_, err := NewStore(truth.NewJudge(), nil, nil)
	assert.Error(t, err)
}

func TestSnapshotAsForensicState(t *testing.T) {
	s := newStore(t)
	for i := int64(1); i <= 3; i++ {
		s.Apply(temp("Upper_Guide_Bearing_Temp", 50+float64(i), 1000*i))
		s.Apply(temp("Lower_Guide_Bearing_Temp", 40+float64(i), 1000*i))
		s.Apply(model.Signal{SignalID: "Generator_Active_Power", Metric: model.MetricPower, Value: 120, Quality: model.QualityGood, TimestampMs: 1000 * i})
	}
	snap := s.Snapshot()

	v, ok := snap.Value(model.MetricTemperature)
	require.True(t, ok)
	assert.Equal(t, 53.0, v)
	assert.Equal(t, []float64{51, 52, 53}, snap.History(model.MetricTemperature))
	assert.Equal(t, int64(3000), snap.TimestampMs(model.MetricTemperature))
	id, _ := snap.SignalFor(model.MetricTemperature)
	assert.Equal(t, "Upper_Guide_Bearing_Temp", id)

	assert.Nil(t, snap.History(model.MetricCavitation))
	assert.Len(t, snap.Series(), 3)

	u := snap.Unit()
	assert.Equal(t, 120.0, u.PowerMW)
	assert.Equal(t, 53.0, u.Temperature)
	assert.Zero(t, u.Cavitation)

	// Later writes do not leak into an existing snapshot.
	s.Apply(temp("Upper_Guide_Bearing_Temp", 54, 4000))
	assert.Len(t, snap.SignalHistory("Upper_Guide_Bearing_Temp"), 3)
}

func TestSetFilter(t *testing.T) {
	s := newStore(t)
	s.Apply(temp("Upper_Guide_Bearing_Temp", 50, 1000))
	require.NoError(t, s.SetFilter(signal.Options{Kind: signal.KindEMA, EMAAlpha: 0.5}))
	r, _ := s.Apply(temp("Upper_Guide_Bearing_Temp", 52, 2000))
	assert.Equal(t, 52.0, r.Filtered.Smooth)
	r, _ = s.Apply(temp("Upper_Guide_Bearing_Temp", 54, 3000))
	assert.Equal(t, 53.0, r.Filtered.Smooth)
}
