// Package consensus reduces multi-source price observations into one
// reliability-weighted consensus price per product and day.
package consensus

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/metrics"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
)

// Price is the consensus result for one (product, day) group.
type Price struct {
	Date        time.Time            `json:"date"`
	ProductKey  string               `json:"product_key"`
	Category    observation.Category `json:"category"`
	Region      string               `json:"region"`
	Price   decimal.Decimal `json:"price"`
	Sources []string        `json:"sources"`
	// SourceCount is the number of observations that survived filtering
	// and contributed to the price; Sources names their distinct origins.
	SourceCount int `json:"source_count"`
	// Spread statistics over the surviving, post-filter set.
	Min             decimal.Decimal `json:"price_min"`
	Max             decimal.Decimal `json:"price_max"`
	StdDev          decimal.Decimal `json:"price_std"`
	Observations    int             `json:"observations"`
	OutliersRemoved int             `json:"outliers_removed"`
}

// Aggregator groups observations and computes weighted consensus prices.
type Aggregator struct {
	cfg    config.AggregationConfig
	logger *logging.Logger
}

// NewAggregator creates an aggregator with the given filter settings.
func NewAggregator(cfg config.AggregationConfig, logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Aggregator{cfg: cfg, logger: logger}
}

type groupKey struct {
	day        string
	productKey string
}

// Aggregate reduces the observations to one consensus price per product and
// day. weights maps source IDs to reliability weights; sources without an
// entry weigh 1.0. Input order never affects the output: groups are
// processed and returned in sorted (day, product) order.
func (a *Aggregator) Aggregate(obs []observation.Observation, weights map[string]float64) ([]Price, error) {
	start := time.Now()

	if len(obs) == 0 {
		return nil, ErrInsufficientData
	}

	groups := make(map[groupKey][]observation.Observation)
	for _, o := range obs {
		k := groupKey{day: observation.DayKey(o.Date), productKey: o.ProductKey}
		groups[k] = append(groups[k], o)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].productKey < keys[j].productKey
	})

	result := make([]Price, 0, len(keys))
	for _, k := range keys {
		result = append(result, a.consensusFor(groups[k], weights))
	}

	metrics.RecordAggregation(time.Since(start), len(result))
	a.logger.Info("consensus computed",
		"observations", len(obs),
		"products", len(result),
		"duration", time.Since(start).String())

	return result, nil
}

// consensusFor computes the consensus price of one group. Observations in
// the group share a product key and day; sorting by source then price makes
// the computation independent of arrival order.
func (a *Aggregator) consensusFor(group []observation.Observation, weights map[string]float64) Price {
	sort.Slice(group, func(i, j int) bool {
		if group[i].SourceID != group[j].SourceID {
			return group[i].SourceID < group[j].SourceID
		}
		return group[i].Price.LessThan(group[j].Price)
	})

	prices := make([]decimal.Decimal, len(group))
	obsWeights := make([]decimal.Decimal, len(group))
	for i, o := range group {
		prices[i] = o.Price
		w, ok := weights[o.SourceID]
		if !ok {
			w = 1.0
		}
		obsWeights[i] = decimal.NewFromFloat(w)
	}

	p := Price{
		Date:         group[0].Date,
		ProductKey:   group[0].ProductKey,
		Category:     group[0].Category,
		Region:       group[0].Region,
		Observations: len(group),
	}

	if len(prices) == 1 {
		p.Price = prices[0]
		p.fillSpread(group, prices)
		return p
	}

	kept := filterOutliers(prices, a.cfg.OutlierThreshold, a.cfg.MinGroupSize)
	p.OutliersRemoved = len(prices) - len(kept)
	if p.OutliersRemoved > 0 {
		metrics.RecordOutlierRejection(p.ProductKey)
	}

	if len(kept) == 0 {
		// Every price scored as an outlier: the filter has nothing useful
		// to say, so fall back to the plain mean of the whole group.
		a.logger.Warn("all prices filtered as outliers, using unfiltered mean",
			"product", p.ProductKey, "day", observation.DayKey(p.Date))
		p.OutliersRemoved = 0
		p.Price = mean(prices)
		p.fillSpread(group, prices)
		return p
	}

	keptGroup := make([]observation.Observation, len(kept))
	keptPrices := make([]decimal.Decimal, len(kept))
	totalWeight := decimal.Zero
	weightedSum := decimal.Zero
	for j, i := range kept {
		keptGroup[j] = group[i]
		keptPrices[j] = prices[i]
		totalWeight = totalWeight.Add(obsWeights[i])
		weightedSum = weightedSum.Add(prices[i].Mul(obsWeights[i]))
	}

	if totalWeight.IsPositive() {
		p.Price = weightedSum.Div(totalWeight)
	} else {
		// All surviving sources carry zero weight; an unweighted mean is
		// still better than dropping the product.
		p.Price = mean(keptPrices)
	}
	p.fillSpread(keptGroup, keptPrices)

	return p
}

// fillSpread records the spread statistics and contributing sources of the
// set that actually produced the consensus price.
func (p *Price) fillSpread(group []observation.Observation, prices []decimal.Decimal) {
	p.Sources = uniqueSources(group)
	p.SourceCount = len(prices)
	p.Min = prices[0]
	p.Max = prices[0]
	p.StdDev = spreadStdDev(prices)
	for _, price := range prices[1:] {
		if price.LessThan(p.Min) {
			p.Min = price
		}
		if price.GreaterThan(p.Max) {
			p.Max = price
		}
	}
}

// uniqueSources returns the sorted distinct source IDs of a group.
func uniqueSources(group []observation.Observation) []string {
	seen := make(map[string]struct{}, len(group))
	var ids []string
	for _, o := range group {
		if _, ok := seen[o.SourceID]; ok {
			continue
		}
		seen[o.SourceID] = struct{}{}
		ids = append(ids, o.SourceID)
	}
	sort.Strings(ids)
	return ids
}

// mean returns the arithmetic mean of the values.
func mean(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// spreadStdDev returns the sample standard deviation of the prices.
// A single observation has zero spread.
func spreadStdDev(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) < 2 {
		return decimal.Zero
	}

	m, _ := mean(prices).Float64()
	var ss float64
	for _, p := range prices {
		f, _ := p.Float64()
		d := f - m
		ss += d * d
	}
	return decimal.NewFromFloat(math.Sqrt(ss / float64(len(prices)-1)))
}
