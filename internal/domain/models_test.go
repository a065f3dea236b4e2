package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriceSeries_Validate(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		points  []PricePoint
		wantErr bool
	}{
		{name: "increasing", points: []PricePoint{{Time: day, Price: 100}, {Time: day.AddDate(0, 0, 1), Price: 101}}},
		{name: "empty", points: nil},
		{name: "zero price", points: []PricePoint{{Time: day, Price: 0}}, wantErr: true},
		{name: "NaN price", points: []PricePoint{{Time: day, Price: math.NaN()}}, wantErr: true},
		{name: "duplicate timestamp", points: []PricePoint{{Time: day, Price: 100}, {Time: day, Price: 101}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PriceSeries{Symbol: "AAPL", Points: tt.points}.Validate()
			if tt.wantErr {
				assert.Equal(t, KindInvalidParameter, KindOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWindow_Validate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, Window{Start: start, End: start.AddDate(1, 0, 0)}.Validate())
	assert.Error(t, Window{Start: start, End: start}.Validate())
	assert.Error(t, Window{End: start}.Validate())
}

func TestReturnMethod_Validate(t *testing.T) {
	assert.NoError(t, ReturnSimple.Validate())
	assert.NoError(t, ReturnLog.Validate())
	assert.Error(t, ReturnMethod("arithmetic").Validate())
}

func TestCovarianceMatrix(t *testing.T) {
	cov := CovarianceMatrix{
		Symbols: []string{"AAPL", "BONDS"},
		Values:  [][]float64{{0.04, 0.006}, {0.006, 0.01}},
	}

	assert.Equal(t, 2, cov.Size())
	i, ok := cov.Index("BONDS")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = cov.Index("MSFT")
	assert.False(t, ok)
	assert.Equal(t, 0.01, cov.Variance(1))

	// 0.36*0.04 + 2*0.6*0.4*0.006 + 0.16*0.01
	assert.InDelta(t, 0.0144+0.00288+0.0016, cov.PortfolioVariance([]float64{0.6, 0.4}), 1e-15)

	clone := cov.Clone()
	clone.Values[0][0] = 1
	clone.Symbols[0] = "X"
	assert.Equal(t, 0.04, cov.Values[0][0])
	assert.Equal(t, "AAPL", cov.Symbols[0])
}
