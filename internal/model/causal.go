package model

// CausalNode is one metric observed along a causal chain.
// Contribution is in [0,1]; the symptom itself always carries 1.0.
type CausalNode struct {
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
	TimestampMs  int64   `json:"timestamp_ms"`
}

// CausalChain explains a symptom.
// Path is ordered from root cause toward the symptom. When no upstream cause
// qualified the chain is isolated: Path holds only the symptom and RootCause
// equals FinalSymptom.
type CausalChain struct {
	RootCause    CausalNode   `json:"root_cause"`
	Path         []CausalNode `json:"path"`
	FinalSymptom CausalNode   `json:"final_symptom"`
	Description  string       `json:"description"`
}

func (c CausalChain) Isolated() bool {
	return c.RootCause.Metric == c.FinalSymptom.Metric
}

// Depth is the number of upstream hops between root cause and symptom.
func (c CausalChain) Depth() int {
	if len(c.Path) == 0 {
		return 0
	}
	return len(c.Path) - 1
}

// Strength is the cumulative contribution along the path: the product of
// every node's contribution. An isolated anomaly has strength 1.
func (c CausalChain) Strength() float64 {
	s := 1.0
	for _, n := range c.Path {
		s *= n.Contribution
	}
	return s
}
