package observation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Product-key normalization guarantees that the same article reported by
// different sources lands in the same consensus group: "Leche Entera 1L",
// "leche  entera 1l" and "LECHE ENTERA 1L" all map to "leche entera 1l".

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeProductKey converts a raw product name into its canonical grouping key.
// Lowercases, strips accents, and collapses internal whitespace.
func NormalizeProductKey(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if stripped, _, err := transform.String(deaccent, s); err == nil {
		s = stripped
	}
	return strings.Join(strings.Fields(s), " ")
}

// Raw division labels seen in the wild, mapped into the fixed taxonomy.
// Matching is substring-based on the normalized label.
var divisionAliases = []struct {
	needle   string
	category Category
}{
	{"lacteo", CategoryDairyEggs},
	{"leche", CategoryDairyEggs},
	{"huevo", CategoryDairyEggs},
	{"queso", CategoryDairyEggs},
	{"yogur", CategoryDairyEggs},
	{"aceite", CategoryOilsFats},
	{"grasa", CategoryOilsFats},
	{"carne", CategoryMeat},
	{"pollo", CategoryMeat},
	{"pescado", CategoryMeat},
	{"fruta", CategoryProduce},
	{"verdura", CategoryProduce},
	{"verduleria", CategoryProduce},
	{"bebida", CategoryBeverages},
	{"gaseosa", CategoryBeverages},
	{"cerveza", CategoryBeverages},
	{"agua", CategoryBeverages},
	{"limpieza", CategoryHousehold},
	{"perfumeria", CategoryHousehold},
	{"higiene", CategoryHousehold},
	{"alimento", CategoryFood},
	{"despensa", CategoryFood},
	{"almacen", CategoryFood},
	{"panaderia", CategoryFood},
}

// MapCategory maps a free-form source division label into the fixed taxonomy.
// Unrecognized labels fall through to CategoryOtherGoods.
func MapCategory(raw string) Category {
	normalized := NormalizeProductKey(raw)
	if normalized == "" {
		return CategoryOtherGoods
	}
	// A label that already is a canonical category passes through.
	for _, c := range Categories {
		if normalized == string(c) {
			return c
		}
	}
	for _, alias := range divisionAliases {
		if strings.Contains(normalized, alias.needle) {
			return alias.category
		}
	}
	return CategoryOtherGoods
}
