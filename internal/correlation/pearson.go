package correlation

import "math"

// DefaultSynergyThreshold is the |r| above which two metrics are treated as
// sharing a real-world cause.
const DefaultSynergyThreshold = 0.8

// Result of correlating two series.
type Result struct {
	Correlated bool    `json:"correlated"`
	R          float64 `json:"r"`
}

// Pearson returns the correlation coefficient of x and y.
// Unequal lengths, empty input and zero variance all yield exactly 0.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0
	}
	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	den := math.Sqrt(varX * varY)
	if den == 0 || math.IsNaN(den) || math.IsInf(den, 0) {
		return 0
	}
	r := cov / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	// Rounding can push |r| a hair past 1.
	return math.Max(-1, math.Min(1, r))
}

// DetectSynergy reports whether |r| between a and b exceeds threshold.
func DetectSynergy(a, b []float64, threshold float64) Result {
	r := Pearson(a, b)
	return Result{Correlated: math.Abs(r) > threshold, R: r}
}
