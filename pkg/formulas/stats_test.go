package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanAndVariance(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5}

	assert.InDelta(t, 3.0, Mean(data), 1e-12)
	assert.InDelta(t, 2.5, Variance(data), 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), StdDev(data), 1e-12)

	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 0.0, Variance([]float64{1}))
	assert.Equal(t, 0.0, StdDev([]float64{1}))
}

func TestAnnualizedVolatility(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.01, -0.01}
	expected := StdDev(returns) * math.Sqrt(252)
	assert.InDelta(t, expected, AnnualizedVolatility(returns), 1e-12)
}

func TestSimpleReturns(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   []float64
	}{
		{name: "rising", prices: []float64{100, 110, 121}, want: []float64{0.1, 0.1}},
		{name: "falling", prices: []float64{100, 50}, want: []float64{-0.5}},
		{name: "single price", prices: []float64{100}, want: []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SimpleReturns(tt.prices)
			assert.InDeltaSlice(t, tt.want, got, 1e-12)
		})
	}
}

func TestLogReturns(t *testing.T) {
	got := LogReturns([]float64{100, 200, 100})
	assert.InDeltaSlice(t, []float64{math.Log(2), -math.Log(2)}, got, 1e-12)
}

func TestBeta(t *testing.T) {
	benchmark := []float64{0.01, -0.02, 0.03, -0.01, 0.02}
	asset := make([]float64, len(benchmark))
	for i, r := range benchmark {
		asset[i] = 2 * r
	}

	assert.InDelta(t, 2.0, Beta(asset, benchmark), 1e-12)
	assert.Equal(t, 0.0, Beta(asset, []float64{0, 0, 0, 0, 0}))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(1.2, -1, 1))
	assert.Equal(t, -1.0, Clamp(-1.0000001, -1, 1))
	assert.Equal(t, 0.3, Clamp(0.3, -1, 1))
}
