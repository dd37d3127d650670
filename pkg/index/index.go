// Package index turns consensus prices into a base-100 chained price index.
package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/consensus"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/metrics"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
)

var hundred = decimal.NewFromInt(100)

// Point is one day of the index series.
type Point struct {
	Date     time.Time       `json:"date"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	// Value is the index level relative to the base day. It is only
	// meaningful when Defined is true; an undefined value is not zero,
	// it is the absence of a value.
	Value   decimal.Decimal `json:"value"`
	Defined bool            `json:"defined"`
}

// Series is a chained index anchored at 100 on its base day.
type Series struct {
	BaseDate time.Time `json:"base_date"`
	Points   []Point   `json:"points"`
	// Valid is false when the base day's average was zero or undefined.
	// The points are still present with their daily averages, but every
	// index value is undefined.
	Valid bool `json:"valid"`
}

// Calculator computes index series from consensus prices.
type Calculator struct {
	cfg    config.IndexConfig
	logger *logging.Logger
}

// NewCalculator creates a calculator for the configured mode.
func NewCalculator(cfg config.IndexConfig, logger *logging.Logger) (*Calculator, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	switch cfg.Mode {
	case config.IndexModeUnweighted:
	case config.IndexModeWeighted:
		if len(cfg.CategoryWeights) == 0 {
			return nil, ErrNoCategoryWeights
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	return &Calculator{cfg: cfg, logger: logger}, nil
}

// Compute builds the index series over the given consensus prices. The base
// day is the earliest day present and is anchored at 100.
//
// An empty input yields an empty, valid series. A zero base average yields
// the series with every value undefined together with ErrDegenerateBase:
// the caller gets the daily averages for inspection but no index levels.
func (c *Calculator) Compute(prices []consensus.Price) (*Series, error) {
	if len(prices) == 0 {
		return &Series{Valid: true}, nil
	}

	averages := c.dailyAverages(prices)

	days := make([]string, 0, len(averages))
	for day := range averages {
		days = append(days, day)
	}
	sort.Strings(days)

	series := &Series{Points: make([]Point, 0, len(days))}

	base := averages[days[0]]
	baseDate, _ := time.Parse("2006-01-02", days[0])
	series.BaseDate = baseDate

	if base.IsZero() {
		for _, day := range days {
			date, _ := time.Parse("2006-01-02", day)
			series.Points = append(series.Points, Point{Date: date, AvgPrice: averages[day]})
		}
		return series, fmt.Errorf("%w: zero average on %s", ErrDegenerateBase, days[0])
	}

	series.Valid = true
	for _, day := range days {
		date, _ := time.Parse("2006-01-02", day)
		value := averages[day].Div(base).Mul(hundred)
		series.Points = append(series.Points, Point{
			Date:     date,
			AvgPrice: averages[day],
			Value:    value,
			Defined:  true,
		})
		v, _ := value.Float64()
		metrics.RecordIndexValue(v)
	}

	c.logger.Info("index computed",
		"mode", c.cfg.Mode,
		"base_date", days[0],
		"points", len(series.Points))

	return series, nil
}

// dailyAverages reduces consensus prices to one average per calendar day
// according to the configured mode.
func (c *Calculator) dailyAverages(prices []consensus.Price) map[string]decimal.Decimal {
	if c.cfg.Mode == config.IndexModeWeighted {
		return c.weightedDailyAverages(prices)
	}

	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int64)
	for _, p := range prices {
		day := observation.DayKey(p.Date)
		sums[day] = sums[day].Add(p.Price)
		counts[day]++
	}

	averages := make(map[string]decimal.Decimal, len(sums))
	for day, sum := range sums {
		averages[day] = sum.Div(decimal.NewFromInt(counts[day]))
	}
	return averages
}

// weightedDailyAverages combines per-category daily means using the
// configured expenditure weights. Categories without a weight are skipped;
// the weight mass is renormalized over the categories present each day.
func (c *Calculator) weightedDailyAverages(prices []consensus.Price) map[string]decimal.Decimal {
	type bucket struct {
		sum   decimal.Decimal
		count int64
	}
	perDay := make(map[string]map[observation.Category]*bucket)

	for _, p := range prices {
		w, ok := c.cfg.CategoryWeights[string(p.Category)]
		if !ok || w <= 0 {
			continue
		}
		day := observation.DayKey(p.Date)
		if perDay[day] == nil {
			perDay[day] = make(map[observation.Category]*bucket)
		}
		b := perDay[day][p.Category]
		if b == nil {
			b = &bucket{}
			perDay[day][p.Category] = b
		}
		b.sum = b.sum.Add(p.Price)
		b.count++
	}

	averages := make(map[string]decimal.Decimal, len(perDay))
	for day, categories := range perDay {
		weightedSum := decimal.Zero
		totalWeight := decimal.Zero
		for cat, b := range categories {
			w := decimal.NewFromFloat(c.cfg.CategoryWeights[string(cat)])
			catMean := b.sum.Div(decimal.NewFromInt(b.count))
			weightedSum = weightedSum.Add(catMean.Mul(w))
			totalWeight = totalWeight.Add(w)
		}
		if totalWeight.IsPositive() {
			averages[day] = weightedSum.Div(totalWeight)
		}
	}
	return averages
}
