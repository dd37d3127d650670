package consensus

import (
	"sort"

	"github.com/shopspring/decimal"
)

// madConstant scales the median absolute deviation so the modified Z-score
// is comparable to a standard Z-score under a normal distribution.
var madConstant = decimal.NewFromFloat(0.6745)

// filterOutliers returns the indices of prices that survive the modified
// Z-score filter, using the median absolute deviation as the spread measure.
//
// Groups of fewer than minGroupSize observations pass through untouched:
// with so few samples the median carries no authority. A zero MAD (at least
// half the prices identical) also disables the filter, since every deviating
// price would otherwise score infinite.
func filterOutliers(prices []decimal.Decimal, threshold float64, minGroupSize int) []int {
	all := make([]int, len(prices))
	for i := range prices {
		all[i] = i
	}
	if len(prices) < minGroupSize {
		return all
	}

	med := median(prices)
	deviations := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		deviations[i] = p.Sub(med).Abs()
	}
	mad := median(deviations)
	if mad.IsZero() {
		return all
	}

	cutoff := decimal.NewFromFloat(threshold)
	kept := make([]int, 0, len(prices))
	for i, p := range prices {
		z := madConstant.Mul(p.Sub(med)).Div(mad).Abs()
		if z.LessThan(cutoff) {
			kept = append(kept, i)
		}
	}
	return kept
}

// median returns the median of the values. The slice is not modified.
func median(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
