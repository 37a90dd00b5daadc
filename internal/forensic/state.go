package forensic

// StaticState is a fixed State, handy for replays and one-off diagnoses.
type StaticState struct {
	Values     map[string]float64
	Histories  map[string][]float64
	Timestamps map[string]int64
}

func (s StaticState) Value(metric string) (float64, bool) {
	v, ok := s.Values[metric]
	return v, ok
}

func (s StaticState) History(metric string) []float64 {
	return s.Histories[metric]
}

func (s StaticState) TimestampMs(metric string) int64 {
	return s.Timestamps[metric]
}
