package truth

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hydropulse/internal/model"
)

func TestClassOf(t *testing.T) {
	cases := map[string]Class{
		"Upper_Guide_Bearing_Temp": ClassTemperature,
		"Turbine_Vibration_X":      ClassVibration,
		"Turbine_RPM":              ClassRPM,
		"Head_Pressure":            ClassPressure,
		"Flow_Rate":                ClassFlow,
		"Active_Power":             ClassPower,
		"Cavitation_Index":         ClassCavitation,
		"mystery":                  ClassDefault,
	}
	for id, want := range cases {
		assert.Equal(t, want, ClassOf(id), id)
	}
}

func TestValidateAt(t *testing.T) {
	j := NewJudge()

	t.Run("in-band sample is trusted with full confidence", func(t *testing.T) {
		v := j.ValidateAt("Upper_Guide_Bearing_Temp", 52, 51, 1_000, 2_000)
		assert.Equal(t, model.VerdictTrust, v.Action)
		assert.Equal(t, model.WinnerSensorA, v.Winner)
		assert.Equal(t, 1.0, v.Confidence)
		assert.True(t, v.Trusted())
	})

	t.Run("first sample is only bounds checked", func(t *testing.T) {
		v := j.ValidateAt("Upper_Guide_Bearing_Temp", 140, 0, 0, 2_000)
		assert.Equal(t, model.VerdictTrust, v.Action)
	})

	t.Run("instantaneous jump falls back", func(t *testing.T) {
		v := j.ValidateAt("Upper_Guide_Bearing_Temp", 120, 50, 1_000, 1_100)
		assert.Equal(t, model.VerdictUseFallback, v.Action)
		assert.Equal(t, model.WinnerFallback, v.Winner)
		assert.Less(t, v.Confidence, 1.0)
		assert.Contains(t, v.Reason, "rate limit")
	})

	t.Run("out of physical bounds falls back", func(t *testing.T) {
		v := j.ValidateAt("Turbine_Vibration_X", -3, 0, 0, 1_000)
		assert.Equal(t, model.VerdictUseFallback, v.Action)
		assert.Contains(t, v.Reason, "physical bounds")
	})

	t.Run("confidence decays with distance", func(t *testing.T) {
		near := j.ValidateAt("Turbine_Vibration_X", 26, 0, 0, 1_000)
		far := j.ValidateAt("Turbine_Vibration_X", 80, 0, 0, 1_000)
		assert.Greater(t, near.Confidence, far.Confidence)
		assert.Greater(t, far.Confidence, 0.0)
	})

	t.Run("identical timestamps use minimum resolution", func(t *testing.T) {
		v := j.ValidateAt("Turbine_RPM", 500, 500, 1_000, 1_000)
		assert.Equal(t, model.VerdictTrust, v.Action)
		v = j.ValidateAt("Turbine_RPM", 510, 500, 1_000, 1_000)
		assert.Equal(t, model.VerdictUseFallback, v.Action)
	})

	t.Run("non-finite readings are rejected", func(t *testing.T) {
		v := j.ValidateAt("Flow_Rate", math.NaN(), 10, 1_000, 2_000)
		assert.Equal(t, model.VerdictUseFallback, v.Action)
		assert.Equal(t, 0.0, v.Confidence)
	})
}

func TestValidateSensorUsesClock(t *testing.T) {
	now := time.UnixMilli(10_000)
	j := NewJudge(
		WithClock(func() time.Time { return now }),
		WithEnvelope(ClassFlow, Envelope{Min: 0, Max: 100, MaxRatePerSec: 1}),
	)
	assert.Equal(t, model.VerdictTrust, j.ValidateSensor("Flow_Rate", 15, 10, 5_000).Action)
	assert.Equal(t, model.VerdictUseFallback, j.ValidateSensor("Flow_Rate", 20, 10, 5_000).Action)
}

func TestEnvelopeValidate(t *testing.T) {
	assert.NoError(t, Envelope{Min: 0, Max: 1, MaxRatePerSec: 1}.Validate())
	assert.Error(t, Envelope{Min: 1, Max: 1, MaxRatePerSec: 1}.Validate())
	assert.Error(t, Envelope{Min: 0, Max: 1}.Validate())
}
