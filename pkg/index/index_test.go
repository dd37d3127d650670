package index

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/consensus"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
)

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

func cp(d int, product, price string, cat observation.Category) consensus.Price {
	return consensus.Price{
		Date:       day(d),
		ProductKey: product,
		Category:   cat,
		Price:      decimal.RequireFromString(price),
	}
}

func unweightedCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(config.IndexConfig{Mode: config.IndexModeUnweighted}, logging.NewNoopLogger())
	require.NoError(t, err)
	return c
}

func TestComputeChainsFromBase(t *testing.T) {
	prices := []consensus.Price{
		cp(1, "leche", "100", observation.CategoryDairyEggs),
		cp(2, "leche", "110", observation.CategoryDairyEggs),
		cp(3, "leche", "121", observation.CategoryDairyEggs),
	}

	series, err := unweightedCalculator(t).Compute(prices)
	require.NoError(t, err)
	require.True(t, series.Valid)
	require.Len(t, series.Points, 3)

	assert.Equal(t, day(1), series.BaseDate)
	assert.True(t, series.Points[0].Value.Equal(decimal.NewFromInt(100)), "got %s", series.Points[0].Value)
	assert.True(t, series.Points[1].Value.Equal(decimal.NewFromInt(110)), "got %s", series.Points[1].Value)
	assert.True(t, series.Points[2].Value.Equal(decimal.NewFromInt(121)), "got %s", series.Points[2].Value)
	for _, p := range series.Points {
		assert.True(t, p.Defined)
	}
}

func TestComputeAveragesWithinDay(t *testing.T) {
	prices := []consensus.Price{
		cp(1, "leche", "100", observation.CategoryDairyEggs),
		cp(1, "pan", "200", observation.CategoryFood),
		cp(2, "leche", "150", observation.CategoryDairyEggs),
		cp(2, "pan", "300", observation.CategoryFood),
	}

	series, err := unweightedCalculator(t).Compute(prices)
	require.NoError(t, err)
	require.Len(t, series.Points, 2)

	// Day 1 avg 150, day 2 avg 225 -> 150
	assert.True(t, series.Points[0].AvgPrice.Equal(decimal.NewFromInt(150)))
	assert.True(t, series.Points[1].Value.Equal(decimal.NewFromInt(150)), "got %s", series.Points[1].Value)
}

func TestComputeEmptyInput(t *testing.T) {
	series, err := unweightedCalculator(t).Compute(nil)
	require.NoError(t, err)
	assert.True(t, series.Valid)
	assert.Empty(t, series.Points)
}

func TestComputeDegenerateBase(t *testing.T) {
	prices := []consensus.Price{
		cp(1, "leche", "0", observation.CategoryDairyEggs),
		cp(2, "leche", "110", observation.CategoryDairyEggs),
	}

	series, err := unweightedCalculator(t).Compute(prices)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDegenerateBase)

	// The whole series is undefined, not zero
	require.NotNil(t, series)
	assert.False(t, series.Valid)
	require.Len(t, series.Points, 2)
	for _, p := range series.Points {
		assert.False(t, p.Defined)
	}
	assert.True(t, series.Points[1].AvgPrice.Equal(decimal.NewFromInt(110)), "daily averages are still reported")
}

func TestComputeUnsortedInput(t *testing.T) {
	prices := []consensus.Price{
		cp(3, "leche", "121", observation.CategoryDairyEggs),
		cp(1, "leche", "100", observation.CategoryDairyEggs),
		cp(2, "leche", "110", observation.CategoryDairyEggs),
	}

	series, err := unweightedCalculator(t).Compute(prices)
	require.NoError(t, err)
	assert.Equal(t, day(1), series.BaseDate)
	assert.True(t, series.Points[2].Value.Equal(decimal.NewFromInt(121)))
}

func TestComputeWeightedMode(t *testing.T) {
	c, err := NewCalculator(config.IndexConfig{
		Mode: config.IndexModeWeighted,
		CategoryWeights: map[string]float64{
			"dairy_eggs":         1,
			"food_non_alcoholic": 3,
		},
	}, logging.NewNoopLogger())
	require.NoError(t, err)

	prices := []consensus.Price{
		cp(1, "leche", "100", observation.CategoryDairyEggs),
		cp(1, "pan", "200", observation.CategoryFood),
		cp(1, "nafta", "999", observation.CategoryOtherGoods), // unweighted category ignored
		cp(2, "leche", "110", observation.CategoryDairyEggs),
		cp(2, "pan", "220", observation.CategoryFood),
	}

	series, err := c.Compute(prices)
	require.NoError(t, err)
	require.Len(t, series.Points, 2)

	// Day 1: (100*1 + 200*3)/4 = 175; day 2: (110*1 + 220*3)/4 = 192.5 -> index 110
	assert.True(t, series.Points[0].AvgPrice.Equal(decimal.NewFromInt(175)), "got %s", series.Points[0].AvgPrice)
	assert.True(t, series.Points[1].Value.Equal(decimal.NewFromInt(110)), "got %s", series.Points[1].Value)
}

func TestNewCalculatorValidation(t *testing.T) {
	_, err := NewCalculator(config.IndexConfig{Mode: "median"}, nil)
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = NewCalculator(config.IndexConfig{Mode: config.IndexModeWeighted}, nil)
	assert.ErrorIs(t, err, ErrNoCategoryWeights)
}
