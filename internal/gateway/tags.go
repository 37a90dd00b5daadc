package gateway

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"hydropulse/internal/model"
)

// PLC analog inputs span 0..27648 counts.
const (
	DefaultRawMin = 0
	DefaultRawMax = 27648
)

// Thresholds in engineering units. Zero means unset.
type Thresholds struct {
	Warning float64 `yaml:"warning,omitempty" json:"warning,omitempty"`
	Alarm   float64 `yaml:"alarm,omitempty" json:"alarm,omitempty"`
	Trip    float64 `yaml:"trip,omitempty" json:"trip,omitempty"`
}

// Tag maps a PLC address to a named signal and its scaling.
type Tag struct {
	Address    string     `yaml:"address" json:"address"`
	SignalID   string     `yaml:"signal_id" json:"signal_id"`
	Metric     string     `yaml:"metric" json:"metric"`
	Unit       string     `yaml:"unit" json:"unit"`
	RawMin     float64    `yaml:"raw_min" json:"raw_min"`
	RawMax     float64    `yaml:"raw_max" json:"raw_max"`
	EUMin      float64    `yaml:"eu_min" json:"eu_min"`
	EUMax      float64    `yaml:"eu_max" json:"eu_max"`
	Thresholds Thresholds `yaml:"thresholds,omitempty" json:"thresholds"`
}

func (t Tag) Validate() error {
	if t.Address == "" {
		return errors.New("tag address is required")
	}
	if t.SignalID == "" {
		return fmt.Errorf("tag %s: signal_id is required", t.Address)
	}
	if t.RawMax <= t.RawMin {
		return fmt.Errorf("tag %s: raw_max must be > raw_min", t.Address)
	}
	if t.EUMax <= t.EUMin {
		return fmt.Errorf("tag %s: eu_max must be > eu_min", t.Address)
	}
	return nil
}

// Scale converts raw counts to engineering units, rounded to 2 decimals.
func (t Tag) Scale(raw float64) float64 {
	v := (raw-t.RawMin)*((t.EUMax-t.EUMin)/(t.RawMax-t.RawMin)) + t.EUMin
	return math.Round(v*100) / 100
}

// Unscale is the inverse of Scale, used by the simulated source.
func (t Tag) Unscale(eu float64) float64 {
	return (eu-t.EUMin)*((t.RawMax-t.RawMin)/(t.EUMax-t.EUMin)) + t.RawMin
}

// Quality is UNCERTAIN at or beyond the trip threshold, which usually means
// a sensor fault rather than a real excursion.
func (t Tag) Quality(eu float64) model.Quality {
	if t.Thresholds.Trip != 0 && eu >= t.Thresholds.Trip {
		return model.QualityUncertain
	}
	return model.QualityGood
}

func analog(address, id, metric, unit string, euMax float64, th Thresholds) Tag {
	return Tag{
		Address:    address,
		SignalID:   id,
		Metric:     metric,
		Unit:       unit,
		RawMin:     DefaultRawMin,
		RawMax:     DefaultRawMax,
		EUMin:      0,
		EUMax:      euMax,
		Thresholds: th,
	}
}

// DefaultTags is the standard hydro unit tag table.
func DefaultTags() []Tag {
	bearing := Thresholds{Warning: 70, Alarm: 80, Trip: 90}
	vibration := Thresholds{Warning: 4.5, Alarm: 7.1, Trip: 11.2}
	return []Tag{
		analog("DB100.DBD20", "Upper_Guide_Bearing_Temp", model.MetricTemperature, "degC", 150, bearing),
		analog("DB100.DBD24", "Lower_Guide_Bearing_Temp", model.MetricTemperature, "degC", 150, bearing),
		analog("%IW512", "Turbine_Vibration_X", model.MetricVibration, "mm/s", 10, vibration),
		analog("%IW514", "Turbine_Vibration_Y", model.MetricVibration, "mm/s", 10, vibration),
		analog("DB100.DBD0", "Turbine_RPM", model.MetricRPM, "RPM", 600, Thresholds{}),
		analog("DB200.DBD0", "Head_Pressure", model.MetricHeadPressure, "m", 200, Thresholds{}),
		analog("DB200.DBD4", "Flow_Rate", model.MetricFlow, "m3/s", 100, Thresholds{}),
	}
}

// AuxiliaryTags are the derived channels the strategist and the forensic
// graph read besides the PLC table.
func AuxiliaryTags() []Tag {
	return []Tag{
		analog("DB300.DBD0", "Generator_Active_Power", model.MetricPower, "MW", 200, Thresholds{}),
		analog("DB300.DBD4", "Cavitation_Index", model.MetricCavitation, "", 1, Thresholds{}),
		analog("DB300.DBD8", "Bearing_Oil_Temp", model.MetricOilTemperature, "degC", 150, Thresholds{Warning: 60, Alarm: 70, Trip: 85}),
	}
}

// UnitTags is DefaultTags plus AuxiliaryTags.
func UnitTags() []Tag {
	return append(DefaultTags(), AuxiliaryTags()...)
}

type tagFile struct {
	Tags []Tag `yaml:"tags"`
}

// LoadTags reads a YAML tag table.
func LoadTags(path string) ([]Tag, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag file: %w", err)
	}
	var f tagFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse tag file %s: %w", path, err)
	}
	if len(f.Tags) == 0 {
		return nil, fmt.Errorf("tag file %s defines no tags", path)
	}
	for _, t := range f.Tags {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Tags, nil
}

// WriteTags encodes a tag table in the format LoadTags reads.
func WriteTags(w io.Writer, tags []Tag) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tagFile{Tags: tags}); err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	return enc.Close()
}
