package model

// ReplayInputs is a recorded session that can be fed back through the pipeline.
//
// Samples must be in arrival order; Prices may be empty, in which case the
// replay uses the configured fixed market price.
type ReplayInputs struct {
	Samples []RawSample     `json:"samples"`
	Prices  []PriceInterval `json:"prices,omitempty"`
	Vetoes  []VetoRecord    `json:"vetoes,omitempty"`
}
