package truth

import (
	"errors"
	"math"
	"strings"
)

// Class groups sensors that share physical limits.
type Class string

const (
	ClassTemperature Class = "temperature"
	ClassVibration   Class = "vibration"
	ClassRPM         Class = "rpm"
	ClassPressure    Class = "pressure"
	ClassFlow        Class = "flow"
	ClassPower       Class = "power"
	ClassCavitation  Class = "cavitation"
	ClassDefault     Class = "default"
)

// Envelope is the plausible region for a sensor class.
// MaxRatePerSec is in engineering units per second.
type Envelope struct {
	Min           float64 `mapstructure:"min" yaml:"min"`
	Max           float64 `mapstructure:"max" yaml:"max"`
	MaxRatePerSec float64 `mapstructure:"max_rate_per_sec" yaml:"max_rate_per_sec"`
}

func (e Envelope) Validate() error {
	if e.Min >= e.Max {
		return errors.New("envelope min must be < max")
	}
	if e.MaxRatePerSec <= 0 {
		return errors.New("envelope max_rate_per_sec must be > 0")
	}
	return nil
}

func (e Envelope) width() float64 { return e.Max - e.Min }

// DefaultEnvelopes are conservative limits for a medium Francis unit.
func DefaultEnvelopes() map[Class]Envelope {
	return map[Class]Envelope{
		ClassTemperature: {Min: -20, Max: 150, MaxRatePerSec: 5},
		ClassVibration:   {Min: 0, Max: 25, MaxRatePerSec: 10},
		ClassRPM:         {Min: 0, Max: 700, MaxRatePerSec: 50},
		ClassPressure:    {Min: 0, Max: 250, MaxRatePerSec: 20},
		ClassFlow:        {Min: 0, Max: 150, MaxRatePerSec: 15},
		ClassPower:       {Min: 0, Max: 500, MaxRatePerSec: 50},
		ClassCavitation:  {Min: 0, Max: 1, MaxRatePerSec: 0.5},
		ClassDefault:     {Min: -1e6, Max: 1e6, MaxRatePerSec: math.MaxFloat64},
	}
}

// ClassOf resolves a sensor id such as "Upper_Guide_Bearing_Temp" to its class.
func ClassOf(sensorID string) Class {
	id := strings.ToLower(sensorID)
	switch {
	case strings.Contains(id, "cavitation"):
		return ClassCavitation
	case strings.Contains(id, "temp"):
		return ClassTemperature
	case strings.Contains(id, "vib"):
		return ClassVibration
	case strings.Contains(id, "rpm"), strings.Contains(id, "speed"):
		return ClassRPM
	case strings.Contains(id, "pressure"), strings.Contains(id, "head"):
		return ClassPressure
	case strings.Contains(id, "flow"):
		return ClassFlow
	case strings.Contains(id, "power"), strings.Contains(id, "_mw"):
		return ClassPower
	default:
		return ClassDefault
	}
}
