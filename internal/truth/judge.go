package truth

import (
	"fmt"
	"math"
	"time"

	"hydropulse/internal/model"
)

// minElapsed is the timing resolution used when two samples share a timestamp.
const minElapsed = time.Millisecond

// Judge decides per sample whether a reading is physically plausible.
// It keeps no per-sensor state; callers carry the last accepted value.
type Judge struct {
	envelopes map[Class]Envelope
	now       func() time.Time
}

type Option func(*Judge)

func WithClock(now func() time.Time) Option {
	return func(j *Judge) { j.now = now }
}

// WithEnvelope overrides the limits of one class.
func WithEnvelope(c Class, e Envelope) Option {
	return func(j *Judge) { j.envelopes[c] = e }
}

func NewJudge(opts ...Option) *Judge {
	j := &Judge{envelopes: DefaultEnvelopes(), now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *Judge) Envelope(sensorID string) Envelope {
	if e, ok := j.envelopes[ClassOf(sensorID)]; ok {
		return e
	}
	return j.envelopes[ClassDefault]
}

// ValidateSensor judges newValue against the wall clock.
// lastTimestampMs <= 0 means there is no previous accepted sample.
func (j *Judge) ValidateSensor(sensorID string, newValue, lastValue float64, lastTimestampMs int64) model.SensorVerdict {
	return j.ValidateAt(sensorID, newValue, lastValue, lastTimestampMs, j.now().UnixMilli())
}

// ValidateAt judges a sample taken at sampleTimestampMs.
func (j *Judge) ValidateAt(sensorID string, newValue, lastValue float64, lastTimestampMs, sampleTimestampMs int64) model.SensorVerdict {
	if math.IsNaN(newValue) || math.IsInf(newValue, 0) {
		return fallback(sensorID, 0, "non-finite reading")
	}
	env := j.Envelope(sensorID)

	conf := 1.0
	reason := ""

	if newValue < env.Min || newValue > env.Max {
		dist := math.Max(env.Min-newValue, newValue-env.Max)
		c := decay(dist / env.width())
		if c < conf {
			conf = c
			reason = fmt.Sprintf("value %.2f outside physical bounds [%.2f, %.2f]", newValue, env.Min, env.Max)
		}
	}

	if lastTimestampMs > 0 && !math.IsNaN(lastValue) {
		elapsed := time.Duration(sampleTimestampMs-lastTimestampMs) * time.Millisecond
		if elapsed < minElapsed {
			elapsed = minElapsed
		}
		allowed := env.MaxRatePerSec * elapsed.Seconds()
		delta := math.Abs(newValue - lastValue)
		if delta > allowed {
			c := decay((delta - allowed) / allowed)
			if c < conf {
				conf = c
				reason = fmt.Sprintf("jump of %.2f in %s exceeds rate limit %.2f/s", delta, elapsed, env.MaxRatePerSec)
			}
		}
	}

	if reason != "" {
		return fallback(sensorID, conf, reason)
	}
	return model.SensorVerdict{
		SensorID:   sensorID,
		Winner:     model.WinnerSensorA,
		Confidence: 1.0,
		Reason:     "within plausible envelope",
		Action:     model.VerdictTrust,
	}
}

func fallback(sensorID string, conf float64, reason string) model.SensorVerdict {
	return model.SensorVerdict{
		SensorID:   sensorID,
		Winner:     model.WinnerFallback,
		Confidence: conf,
		Reason:     reason,
		Action:     model.VerdictUseFallback,
	}
}

// decay maps a non-negative excess ratio to a confidence in (0, 1).
func decay(excess float64) float64 {
	if math.IsNaN(excess) || excess < 0 {
		return 0
	}
	c := 1 / (1 + excess)
	if c >= 1 {
		// Any rejected sample must read below full confidence.
		c = math.Nextafter(1, 0)
	}
	return c
}
