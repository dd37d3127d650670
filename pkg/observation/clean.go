package observation

// Clean drops observations that must never enter the consensus model:
// empty product keys and non-positive prices. A missing price is dropped,
// never represented as zero. Returns the surviving rows and the drop count.
func Clean(rows []Observation) ([]Observation, int) {
	kept := make([]Observation, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		if row.ProductKey == "" || row.SourceID == "" {
			dropped++
			continue
		}
		if !row.Price.IsPositive() {
			dropped++
			continue
		}
		row.Date = Day(row.Date)
		if row.Category == "" {
			row.Category = CategoryOtherGoods
		}
		kept = append(kept, row)
	}
	return kept, dropped
}
