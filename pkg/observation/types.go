// Package observation defines the canonical price observation model shared by
// all source adapters and the consensus pipeline.
package observation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is one of the fixed product divisions of the basket taxonomy.
type Category string

const (
	CategoryDairyEggs   Category = "dairy_eggs"
	CategoryFood        Category = "food_non_alcoholic"
	CategoryOilsFats    Category = "oils_fats"
	CategoryMeat        Category = "meat"
	CategoryProduce     Category = "fruits_vegetables"
	CategoryBeverages   Category = "beverages"
	CategoryHousehold   Category = "household_personal_care"
	CategoryOtherGoods  Category = "other_goods"
)

// Categories lists every division in the taxonomy.
var Categories = []Category{
	CategoryDairyEggs,
	CategoryFood,
	CategoryOilsFats,
	CategoryMeat,
	CategoryProduce,
	CategoryBeverages,
	CategoryHousehold,
	CategoryOtherGoods,
}

// Observation is one reported price for one product from one source on one day.
// Immutable once created by an adapter; consumed once by the aggregator.
type Observation struct {
	Date       time.Time       `json:"date"` // calendar day, UTC midnight
	SourceID   string          `json:"source_id"`
	ProductKey string          `json:"product_key"`
	Price      decimal.Decimal `json:"price"`
	Category   Category        `json:"category"`
	Region     string          `json:"region"`
	StoreLabel string          `json:"store_label,omitempty"`
}

// Day normalizes a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats a calendar day as its canonical string key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
