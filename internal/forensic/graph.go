package forensic

import (
	"errors"
	"sort"

	"hydropulse/internal/model"
)

// Edge says Upstream can drive Downstream. Weight is the assumed
// correlation strength in [0,1]; the edge only qualifies when the upstream
// value exceeds Threshold.
type Edge struct {
	Upstream   string  `yaml:"upstream"`
	Downstream string  `yaml:"downstream"`
	Weight     float64 `yaml:"weight"`
	Threshold  float64 `yaml:"threshold"`
}

// Graph is the physics prior, indexed by downstream metric.
type Graph struct {
	causes map[string][]Edge
}

func NewGraph(edges []Edge) (*Graph, error) {
	g := &Graph{causes: make(map[string][]Edge)}
	for _, e := range edges {
		if e.Upstream == "" || e.Downstream == "" {
			return nil, errors.New("edge metrics are required")
		}
		if e.Upstream == e.Downstream {
			return nil, errors.New("edge must connect two different metrics")
		}
		if e.Weight < 0 || e.Weight > 1 {
			return nil, errors.New("edge weight must be in [0, 1]")
		}
		g.causes[e.Downstream] = append(g.causes[e.Downstream], e)
	}
	for k := range g.causes {
		es := g.causes[k]
		sort.Slice(es, func(i, j int) bool { return es[i].Upstream < es[j].Upstream })
	}
	return g, nil
}

// DefaultEdges is the plant prior: what can make each symptom worse.
func DefaultEdges() []Edge {
	return []Edge{
		{Upstream: model.MetricTemperature, Downstream: model.MetricVibration, Weight: 0.85, Threshold: 40},
		{Upstream: model.MetricCavitation, Downstream: model.MetricVibration, Weight: 0.8, Threshold: 0.8},
		{Upstream: model.MetricRPM, Downstream: model.MetricVibration, Weight: 0.5, Threshold: 520},
		{Upstream: model.MetricFlow, Downstream: model.MetricCavitation, Weight: 0.6, Threshold: 80},
		{Upstream: model.MetricHeadPressure, Downstream: model.MetricCavitation, Weight: 0.55, Threshold: 150},
		{Upstream: model.MetricOilTemperature, Downstream: model.MetricTemperature, Weight: 0.7, Threshold: 60},
		{Upstream: model.MetricVibration, Downstream: model.MetricTemperature, Weight: 0.4, Threshold: 7.1},
	}
}

// MustDefaultGraph builds the default prior.
func MustDefaultGraph() *Graph {
	g, err := NewGraph(DefaultEdges())
	if err != nil {
		panic(err)
	}
	return g
}

// Causes returns the candidate upstream edges of a metric.
func (g *Graph) Causes(metric string) []Edge {
	return g.causes[metric]
}
