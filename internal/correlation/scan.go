package correlation

import (
	"math"
	"sort"
)

// Pair is the correlation between two named series.
type Pair struct {
	A string  `json:"a"`
	B string  `json:"b"`
	R float64 `json:"r"`
}

// RankPairs correlates every pair of series and sorts by |r| descending.
// Series of different length are aligned on their most recent common suffix.
func RankPairs(series map[string][]float64) []Pair {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Pair, 0, len(names)*(len(names)-1)/2)
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			x, y := AlignTail(series[names[i]], series[names[j]])
			out = append(out, Pair{A: names[i], B: names[j], R: Pearson(x, y)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].R) > math.Abs(out[j].R)
	})
	return out
}

// Synergies keeps the ranked pairs whose |r| exceeds threshold.
func Synergies(series map[string][]float64, threshold float64) []Pair {
	ranked := RankPairs(series)
	out := ranked[:0]
	for _, p := range ranked {
		if math.Abs(p.R) > threshold {
			out = append(out, p)
		}
	}
	return out
}

// AlignTail trims x and y to their common most recent suffix so samples
// pair up by recency.
func AlignTail(x, y []float64) ([]float64, []float64) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	return x[len(x)-n:], y[len(y)-n:]
}
