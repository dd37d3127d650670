package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/consensus"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/index"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
)

// Exporter writes run outputs as flat files for downstream consumers that
// do not read the database.
type Exporter struct {
	dir    string
	logger *logging.Logger
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(dir string, logger *logging.Logger) (*Exporter, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &Exporter{dir: dir, logger: logger}, nil
}

// ExportConsensusCSV writes the consensus prices of one run to a dated CSV.
func (e *Exporter) ExportConsensusCSV(prices []consensus.Price) (string, error) {
	if len(prices) == 0 {
		return "", nil
	}

	name := fmt.Sprintf("consensus_%s.csv", observation.DayKey(prices[0].Date))
	path := filepath.Join(e.dir, name)

	f, err := os.Create(path) // #nosec G304 -- Path built from the configured export directory
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"date", "product_key", "category", "region", "price",
		"price_min", "price_max", "price_std", "sources", "num_sources", "outliers_removed"}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	for _, p := range prices {
		row := []string{
			observation.DayKey(p.Date),
			p.ProductKey,
			string(p.Category),
			p.Region,
			p.Price.String(),
			p.Min.String(),
			p.Max.String(),
			p.StdDev.String(),
			strings.Join(p.Sources, "|"),
			strconv.Itoa(p.SourceCount),
			strconv.Itoa(p.OutliersRemoved),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush export: %w", err)
	}

	e.logger.Debug("consensus exported", "path", path, "rows", len(prices))
	return path, nil
}

// ExportIndexJSON writes the full index series as JSON.
func (e *Exporter) ExportIndexJSON(series *index.Series) (string, error) {
	if series == nil || len(series.Points) == 0 {
		return "", nil
	}

	path := filepath.Join(e.dir, "index.json")
	data, err := json.MarshalIndent(series, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode series: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	e.logger.Debug("index exported", "path", path, "points", len(series.Points))
	return path, nil
}
