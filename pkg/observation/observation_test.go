package observation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeProductKey(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"lowercases", "Leche Entera 1L", "leche entera 1l"},
		{"collapses whitespace", "  pan   frances ", "pan frances"},
		{"strips accents", "Pan Francés", "pan frances"},
		{"strips tilde", "azúcar", "azucar"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeProductKey(tt.raw))
		})
	}
}

func TestMapCategory(t *testing.T) {
	assert.Equal(t, CategoryDairyEggs, MapCategory("Lácteos"))
	assert.Equal(t, CategoryDairyEggs, MapCategory("leche y yogures"))
	assert.Equal(t, CategoryOilsFats, MapCategory("Aceites y grasas"))
	assert.Equal(t, CategoryMeat, MapCategory("Carnes"))
	assert.Equal(t, CategoryBeverages, MapCategory("Bebidas sin alcohol"))
	assert.Equal(t, CategoryFood, MapCategory("Almacén"))
	assert.Equal(t, CategoryOtherGoods, MapCategory("electrodomesticos"))
	assert.Equal(t, CategoryOtherGoods, MapCategory(""))

	// Canonical names pass through unchanged.
	assert.Equal(t, CategoryHousehold, MapCategory(string(CategoryHousehold)))
}

func TestClean(t *testing.T) {
	when := time.Date(2024, 5, 2, 15, 30, 0, 0, time.UTC)
	rows := []Observation{
		{Date: when, SourceID: "coto", ProductKey: "leche entera 1l", Price: decimal.NewFromFloat(1250.50)},
		{Date: when, SourceID: "coto", ProductKey: "pan frances", Price: decimal.Zero},
		{Date: when, SourceID: "coto", ProductKey: "", Price: decimal.NewFromInt(100)},
		{Date: when, SourceID: "", ProductKey: "arroz", Price: decimal.NewFromInt(900)},
		{Date: when, SourceID: "jumbo", ProductKey: "aceite girasol", Price: decimal.NewFromInt(-5)},
	}

	kept, dropped := Clean(rows)
	require.Len(t, kept, 1)
	assert.Equal(t, 4, dropped)

	// Timestamps are truncated to the calendar day and empty categories defaulted.
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), kept[0].Date)
	assert.Equal(t, CategoryOtherGoods, kept[0].Category)
}

func TestDayKey(t *testing.T) {
	when := time.Date(2024, 5, 2, 23, 59, 0, 0, time.FixedZone("ART", -3*3600))
	assert.Equal(t, "2024-05-03", DayKey(when))
	assert.Equal(t, Day(when), time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC))
}
