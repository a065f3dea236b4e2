package statistics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskengine/internal/domain"
)

func TestBuild(t *testing.T) {
	e := newTestEngine()
	series := []domain.PriceSeries{
		seriesFromReturns("A", 0, wave(45, 0.01, 0)),
		seriesFromReturns("B", 0, wave(45, 0.02, 1)),
	}

	sub, err := e.Build(series, domain.ReturnSimple)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, sub.Symbols)
	assert.Equal(t, 45, sub.Observations)
	assert.Len(t, sub.Means, 2)
	assert.Equal(t, 2, sub.Covariance.Size())
	assert.InDelta(t, Means(sub.Returns)[1], sub.Means[1], 1e-15)
}

func TestBuild_InvalidMethod(t *testing.T) {
	_, err := newTestEngine().Build(nil, domain.ReturnMethod("x"))
	var invalid *domain.InvalidParameterError
	require.ErrorAs(t, err, &invalid)
}

func TestSubstrate_Select(t *testing.T) {
	e := newTestEngine()
	sub, err := e.Build([]domain.PriceSeries{
		seriesFromReturns("A", 0, wave(45, 0.01, 0)),
		seriesFromReturns("B", 0, wave(45, 0.02, 1)),
		seriesFromReturns("C", 0, wave(45, 0.03, 2)),
	}, domain.ReturnSimple)
	require.NoError(t, err)

	picked, err := sub.Select([]string{"C", "A"})
	require.NoError(t, err)

	assert.Equal(t, []string{"C", "A"}, picked.Symbols)
	assert.Equal(t, []string{"C", "A"}, picked.Covariance.Symbols)
	assert.Equal(t, "C", picked.Returns[0].Symbol)
	assert.Equal(t, sub.Means[2], picked.Means[0])
	assert.Equal(t, sub.Covariance.Values[2][2], picked.Covariance.Values[0][0])
	assert.Equal(t, sub.Covariance.Values[2][0], picked.Covariance.Values[0][1])

	// original untouched
	assert.Equal(t, []string{"A", "B", "C"}, sub.Symbols)

	_, err = sub.Select([]string{"Z"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
