// Package file implements offline price sources fed from dropped files.
package file

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/sources"
)

const csvSourceName = "csv"

func init() {
	sources.Register("file.csv", NewCSVSource)
}

// CSVSource reads observations from CSV files in a drop directory. It backs
// the lowest fallback tier: manually collected or bulk-exported price sheets
// that keep the pipeline producing when every live source is down.
//
// Expected header: date,product_key,price,category,region,store_label
// (region and store_label optional).
type CSVSource struct {
	*sources.BaseSource
	dir     string
	pattern string
}

var _ sources.Source = (*CSVSource)(nil)

// NewCSVSource creates a CSV drop-dir source from its config block.
func NewCSVSource(cfg config.SourceConfig, timeout time.Duration, logger *logging.Logger) (sources.Source, error) {
	dir := cfg.GetString("path", "")
	if dir == "" {
		return nil, sources.ErrPathRequired
	}

	return &CSVSource{
		BaseSource: sources.NewBaseSource(csvSourceName, sources.SourceTypeFile, cfg.GetString("region", ""), timeout, logger),
		dir:        dir,
		pattern:    cfg.GetString("pattern", "*.csv"),
	}, nil
}

// Fetch reads every matching file in the drop directory.
func (s *CSVSource) Fetch(ctx context.Context) ([]observation.Observation, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.pattern))
	if err != nil {
		return nil, fmt.Errorf("bad file pattern: %w", err)
	}
	sort.Strings(matches)

	var obs []observation.Observation
	for _, path := range matches {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fileObs, err := s.readFile(path)
		if err != nil {
			s.Logger().Warn("file skipped", "source", s.Name(), "file", filepath.Base(path), "error", err.Error())
			continue
		}
		obs = append(obs, fileObs...)
	}

	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: %s (no readable rows under %s)", sources.ErrNoPricesAvailable, s.Name(), s.dir)
	}
	return obs, nil
}

func (s *CSVSource) readFile(path string) ([]observation.Observation, error) {
	f, err := os.Open(path) // #nosec G304 -- Path comes from the operator's drop directory config
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: missing header", sources.ErrInvalidResponse)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "product_key", "price"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: missing %s column", sources.ErrInvalidResponse, required)
		}
	}

	var obs []observation.Observation
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			s.Logger().Debug("bad csv row", "file", filepath.Base(path), "line", line, "error", err.Error())
			continue
		}

		o, err := s.parseRow(record, cols)
		if err != nil {
			s.Logger().Debug("row skipped", "file", filepath.Base(path), "line", line, "error", err.Error())
			continue
		}
		obs = append(obs, o)
	}
	return obs, nil
}

func (s *CSVSource) parseRow(record []string, cols map[string]int) (observation.Observation, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	date, err := time.Parse("2006-01-02", field("date"))
	if err != nil {
		return observation.Observation{}, fmt.Errorf("bad date %q", field("date"))
	}

	price, err := decimal.NewFromString(field("price"))
	if err != nil {
		return observation.Observation{}, fmt.Errorf("bad price %q", field("price"))
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return observation.Observation{}, fmt.Errorf("non-positive price %q", field("price"))
	}

	key := observation.NormalizeProductKey(field("product_key"))
	if key == "" {
		return observation.Observation{}, fmt.Errorf("empty product_key")
	}

	region := field("region")
	if region == "" {
		region = s.Region()
	}

	return observation.Observation{
		Date:       observation.Day(date),
		SourceID:   s.Name(),
		ProductKey: key,
		Price:      price,
		Category:   observation.MapCategory(field("category")),
		Region:     region,
		StoreLabel: field("store_label"),
	}, nil
}
