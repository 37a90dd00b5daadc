package telemetry

import (
	"sort"

	"hydropulse/internal/model"
)

// Snapshot is an immutable copy of the store. It satisfies forensic.State:
// a metric's value is the highest accepted value among its signals, and
// its history and timestamp come from that same signal.
type Snapshot struct {
	readings  map[string]Reading
	histories map[string][]float64
}

func (s *Snapshot) Reading(id string) (Reading, bool) {
	r, ok := s.readings[id]
	return r, ok
}

// Readings is ordered by signal id.
func (s *Snapshot) Readings() []Reading {
	out := make([]Reading, 0, len(s.readings))
	for _, r := range s.readings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}

// SignalHistory returns accepted raw values, oldest first.
func (s *Snapshot) SignalHistory(id string) []float64 {
	return s.histories[id]
}

// Series maps every signal with history to its window.
func (s *Snapshot) Series() map[string][]float64 {
	out := make(map[string][]float64, len(s.histories))
	for id, h := range s.histories {
		if len(h) > 0 {
			out[id] = h
		}
	}
	return out
}

// dominant picks the signal carrying a metric: highest accepted raw value,
// ties broken by id.
func (s *Snapshot) dominant(metric string) (Reading, bool) {
	var best Reading
	found := false
	for _, r := range s.readings {
		if r.Metric != metric || len(s.histories[r.SignalID]) == 0 {
			continue
		}
		if !found || r.Filtered.Raw > best.Filtered.Raw ||
			(r.Filtered.Raw == best.Filtered.Raw && r.SignalID < best.SignalID) {
			best, found = r, true
		}
	}
	return best, found
}

func (s *Snapshot) Value(metric string) (float64, bool) {
	r, ok := s.dominant(metric)
	if !ok {
		return 0, false
	}
	return r.Filtered.Raw, true
}

func (s *Snapshot) History(metric string) []float64 {
	r, ok := s.dominant(metric)
	if !ok {
		return nil
	}
	return s.histories[r.SignalID]
}

func (s *Snapshot) TimestampMs(metric string) int64 {
	r, ok := s.dominant(metric)
	if !ok {
		return 0
	}
	return r.Filtered.TimestampMs
}

// SignalFor names the signal currently carrying metric.
func (s *Snapshot) SignalFor(metric string) (string, bool) {
	r, ok := s.dominant(metric)
	return r.SignalID, ok
}

// Unit assembles the strategist's view of the unit.
func (s *Snapshot) Unit() model.UnitTelemetry {
	v := func(m string) float64 {
		x, _ := s.Value(m)
		return x
	}
	return model.UnitTelemetry{
		PowerMW:     v(model.MetricPower),
		Vibration:   v(model.MetricVibration),
		Cavitation:  v(model.MetricCavitation),
		Temperature: v(model.MetricTemperature),
	}
}
