package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// TailIndex returns the index of the empirical (1 - confidence) quantile in an
// ascending sample of size n: ceil(n*(1-confidence)) - 1, clamped to [0, n-1].
func TailIndex(n int, confidence float64) int {
	if n <= 0 {
		return 0
	}
	// 1e-9 absorbs representation error such as 1-0.95 = 0.05000000000000004
	k := int(math.Ceil(float64(n)*(1-confidence)-1e-9)) - 1
	if k < 0 {
		k = 0
	}
	if k > n-1 {
		k = n - 1
	}
	return k
}

// HistoricalVaR calculates Value at Risk and Conditional Value at Risk from a return sample.
// Both are reported as positive loss magnitudes. CVaR is the mean loss of the
// observations at or beyond the VaR quantile, including every observation tied
// with it.
//
// The input is not modified.
func HistoricalVaR(returns []float64, confidence float64) (varLoss, cvarLoss float64) {
	if len(returns) == 0 {
		return 0, 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	return SortedVaR(sorted, confidence)
}

// SortedVaR is HistoricalVaR for a sample that is already sorted ascending
func SortedVaR(sorted []float64, confidence float64) (varLoss, cvarLoss float64) {
	if len(sorted) == 0 {
		return 0, 0
	}

	k := TailIndex(len(sorted), confidence)
	tail := k + 1
	for tail < len(sorted) && sorted[tail] == sorted[k] {
		tail++
	}

	sum := 0.0
	for _, r := range sorted[:tail] {
		sum += r
	}
	return -sorted[k], -sum / float64(tail)
}

// NormalQuantile returns the standard normal quantile at p
func NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// ParametricVaR returns Gaussian VaR and CVaR for a return distribution with mean mu and
// standard deviation sigma: VaR = -(mu + z*sigma) with z = Quantile(1-confidence),
// CVaR = -mu + sigma*phi(z)/(1-confidence).
func ParametricVaR(mu, sigma, confidence float64) (varLoss, cvarLoss float64) {
	z := NormalQuantile(1 - confidence)
	varLoss = -(mu + z*sigma)
	cvarLoss = -mu + sigma*distuv.UnitNormal.Prob(z)/(1-confidence)
	return varLoss, cvarLoss
}
