package forensic

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"hydropulse/internal/correlation"
	"hydropulse/internal/model"
)

const (
	// MaxSearchDepth bounds the upstream walk regardless of configuration.
	MaxSearchDepth = 4
	// DefaultMinChainStrength is the cumulative contribution a multi-hop
	// chain must keep for each extra hop to be accepted.
	DefaultMinChainStrength = 0.5
)

// Options tune the upstream search.
type Options struct {
	MaxDepth         int     `mapstructure:"max_depth"`
	MinChainStrength float64 `mapstructure:"min_chain_strength"`
}

func DefaultOptions() Options {
	return Options{MaxDepth: 1, MinChainStrength: DefaultMinChainStrength}
}

// State is the read side of telemetry the diagnosis needs. Values and
// histories are raw, never smoothed.
type State interface {
	Value(metric string) (float64, bool)
	History(metric string) []float64
	TimestampMs(metric string) int64
}

// Service reconstructs causal chains from a symptom back to its root cause.
type Service struct {
	graph       *Graph
	maxDepth    int
	minStrength float64
	log         *zap.Logger
}

// NewService builds a diagnoser. MaxDepth 1 is a single upstream hop.
func NewService(graph *Graph, opts Options, logger *zap.Logger) *Service {
	if graph == nil {
		graph = MustDefaultGraph()
	}
	depth := opts.MaxDepth
	if depth < 1 {
		depth = 1
	}
	if depth > MaxSearchDepth {
		depth = MaxSearchDepth
	}
	if opts.MinChainStrength <= 0 {
		opts.MinChainStrength = DefaultMinChainStrength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		graph:       graph,
		maxDepth:    depth,
		minStrength: opts.MinChainStrength,
		log:         logger.Named("forensic"),
	}
}

type candidate struct {
	nodes []model.CausalNode // symptom first
	score float64
}

// Diagnose explains symptomMetric. The returned chain is ordered root first;
// when nothing upstream qualifies it is an isolated anomaly.
func (s *Service) Diagnose(symptomMetric string, state State) model.CausalChain {
	value, _ := state.Value(symptomMetric)
	symptom := model.CausalNode{
		Metric:       symptomMetric,
		Value:        value,
		Contribution: 1.0,
		TimestampMs:  state.TimestampMs(symptomMetric),
	}

	best := candidate{nodes: []model.CausalNode{symptom}, score: 1.0}
	visited := map[string]bool{symptomMetric: true}
	s.walk(state, []model.CausalNode{symptom}, 1.0, visited, &best)

	// best.nodes runs symptom -> root; the chain runs root -> symptom.
	path := make([]model.CausalNode, len(best.nodes))
	for i, n := range best.nodes {
		path[len(best.nodes)-1-i] = n
	}
	chain := model.CausalChain{
		RootCause:    path[0],
		Path:         path,
		FinalSymptom: symptom,
	}
	chain.Description = describe(chain)

	s.log.Debug("Diagnosis complete",
		zap.String("symptom", symptomMetric),
		zap.String("root_cause", chain.RootCause.Metric),
		zap.Int("depth", chain.Depth()))
	return chain
}

// walk extends trail upstream. Only complete paths are candidates: a path
// ends where its head has no accepted upstream cause or the depth bound is
// reached.
func (s *Service) walk(state State, trail []model.CausalNode, score float64, visited map[string]bool, best *candidate) {
	extended := false
	if len(trail)-1 < s.maxDepth {
		head := trail[len(trail)-1]
		for _, e := range s.graph.Causes(head.Metric) {
			if visited[e.Upstream] {
				continue
			}
			v, ok := state.Value(e.Upstream)
			if !ok || v <= e.Threshold {
				continue
			}
			contribution := e.Weight
			if r := correlation.Pearson(state.History(e.Upstream), state.History(head.Metric)); math.Abs(r) > contribution {
				contribution = math.Abs(r)
			}
			next := model.CausalNode{
				Metric:       e.Upstream,
				Value:        v,
				Contribution: math.Min(1, contribution),
				TimestampMs:  state.TimestampMs(e.Upstream),
			}
			nextScore := score * next.Contribution
			if len(trail) > 1 && nextScore < s.minStrength {
				continue
			}
			extended = true
			visited[e.Upstream] = true
			s.walk(state, append(append([]model.CausalNode(nil), trail...), next), nextScore, visited, best)
			delete(visited, e.Upstream)
		}
	}
	if !extended && len(trail) > 1 && better(trail, score, best) {
		best.nodes = trail
		best.score = score
	}
}

// better prefers any cause over none, then the strongest cumulative
// contribution, then the shorter path, then the root name.
func better(trail []model.CausalNode, score float64, best *candidate) bool {
	if len(best.nodes) == 1 {
		return true
	}
	const eps = 1e-12
	switch {
	case score > best.score+eps:
		return true
	case score < best.score-eps:
		return false
	case len(trail) != len(best.nodes):
		return len(trail) < len(best.nodes)
	default:
		return trail[len(trail)-1].Metric < best.nodes[len(best.nodes)-1].Metric
	}
}

func describe(c model.CausalChain) string {
	if c.Isolated() {
		return fmt.Sprintf("Isolated anomaly: %s at %.2f with no qualifying upstream cause", c.FinalSymptom.Metric, c.FinalSymptom.Value)
	}
	hops := make([]string, len(c.Path))
	for i, n := range c.Path {
		hops[i] = n.Metric
	}
	return fmt.Sprintf("Root cause %s at %.2f (chain strength %.2f) drives %s at %.2f via %s",
		c.RootCause.Metric, c.RootCause.Value, c.Strength(),
		c.FinalSymptom.Metric, c.FinalSymptom.Value, strings.Join(hops, " -> "))
}
