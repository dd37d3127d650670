// Package storage persists consensus prices, index series and health
// reports in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/consensus"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/health"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/index"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
)

var (
	// ErrNotFound indicates that the requested rows do not exist.
	ErrNotFound = errors.New("not found")
)

// Store wraps the SQLite database holding all engine output.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to exec %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS prices (
	date             TEXT NOT NULL,
	product_key      TEXT NOT NULL,
	category         TEXT NOT NULL,
	region           TEXT,
	price            TEXT NOT NULL,
	price_min        TEXT,
	price_max        TEXT,
	price_std        TEXT,
	sources          TEXT,
	num_sources      INTEGER NOT NULL DEFAULT 1,
	observations     INTEGER NOT NULL DEFAULT 1,
	outliers_removed INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (date, product_key)
);

CREATE TABLE IF NOT EXISTS index_points (
	date       TEXT PRIMARY KEY,
	avg_price  TEXT NOT NULL,
	value      TEXT,
	defined    INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS source_health (
	timestamp TEXT NOT NULL,
	report    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prices_date ON prices(date);
CREATE INDEX IF NOT EXISTS idx_prices_product ON prices(product_key);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(migration); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConsensus upserts the consensus prices of a run. Re-running a day
// replaces that day's rows instead of duplicating them.
func (s *Store) SaveConsensus(ctx context.Context, prices []consensus.Price) error {
	if len(prices) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (date, product_key, category, region, price,
			price_min, price_max, price_std, sources, num_sources,
			observations, outliers_removed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date, product_key) DO UPDATE SET
			category = excluded.category,
			region = excluded.region,
			price = excluded.price,
			price_min = excluded.price_min,
			price_max = excluded.price_max,
			price_std = excluded.price_std,
			sources = excluded.sources,
			num_sources = excluded.num_sources,
			observations = excluded.observations,
			outliers_removed = excluded.outliers_removed`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		srcs, err := json.Marshal(p.Sources)
		if err != nil {
			return fmt.Errorf("failed to encode sources: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			observation.DayKey(p.Date), p.ProductKey, string(p.Category), p.Region,
			p.Price.String(), p.Min.String(), p.Max.String(), p.StdDev.String(),
			string(srcs), p.SourceCount, p.Observations, p.OutliersRemoved,
		); err != nil {
			return fmt.Errorf("failed to insert price %s/%s: %w", observation.DayKey(p.Date), p.ProductKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Debug("consensus saved", "rows", len(prices))
	return nil
}

// SaveIndex upserts every point of the series.
func (s *Store) SaveIndex(ctx context.Context, series *index.Series) error {
	if series == nil || len(series.Points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range series.Points {
		var value interface{}
		if p.Defined {
			value = p.Value.String()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_points (date, avg_price, value, defined)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (date) DO UPDATE SET
				avg_price = excluded.avg_price,
				value = excluded.value,
				defined = excluded.defined`,
			observation.DayKey(p.Date), p.AvgPrice.String(), value, boolToInt(p.Defined),
		); err != nil {
			return fmt.Errorf("failed to insert index point %s: %w", observation.DayKey(p.Date), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// SaveHealthReport appends a serialized health report.
func (s *Store) SaveHealthReport(ctx context.Context, report health.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode health report: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO source_health (timestamp, report) VALUES (?, ?)`,
		report.Timestamp.UTC().Format(time.RFC3339), string(data),
	); err != nil {
		return fmt.Errorf("failed to insert health report: %w", err)
	}
	return nil
}

// AllConsensus returns every stored consensus price in (date, product) order.
// The index calculator recomputes the full series from this history.
func (s *Store) AllConsensus(ctx context.Context) ([]consensus.Price, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, product_key, category, region, price, price_min,
			price_max, price_std, sources, num_sources, observations, outliers_removed
		FROM prices ORDER BY date, product_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	return scanPrices(rows)
}

// ConsensusByDay returns the consensus prices stored for one calendar day.
func (s *Store) ConsensusByDay(ctx context.Context, day time.Time) ([]consensus.Price, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, product_key, category, region, price, price_min,
			price_max, price_std, sources, num_sources, observations, outliers_removed
		FROM prices WHERE date = ? ORDER BY product_key`,
		observation.DayKey(day))
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	prices, err := scanPrices(rows)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no prices for %s", ErrNotFound, observation.DayKey(day))
	}
	return prices, nil
}

// LatestDay returns the most recent day with stored prices.
func (s *Store) LatestDay(ctx context.Context) (time.Time, error) {
	var day sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM prices`).Scan(&day)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest day: %w", err)
	}
	if !day.Valid || day.String == "" {
		return time.Time{}, ErrNotFound
	}
	return time.Parse("2006-01-02", day.String)
}

// IndexSeries loads the stored index series in date order.
func (s *Store) IndexSeries(ctx context.Context) (*index.Series, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, avg_price, value, defined FROM index_points ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query index points: %w", err)
	}
	defer rows.Close()

	series := &index.Series{Valid: true}
	for rows.Next() {
		var day, avg string
		var value sql.NullString
		var defined int
		if err := rows.Scan(&day, &avg, &value, &defined); err != nil {
			return nil, fmt.Errorf("failed to scan index point: %w", err)
		}

		p := index.Point{Defined: defined == 1}
		if p.Date, err = time.Parse("2006-01-02", day); err != nil {
			return nil, fmt.Errorf("bad date %q: %w", day, err)
		}
		if p.AvgPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("bad avg_price %q: %w", avg, err)
		}
		if value.Valid {
			if p.Value, err = decimal.NewFromString(value.String); err != nil {
				return nil, fmt.Errorf("bad value %q: %w", value.String, err)
			}
		}
		if !p.Defined {
			series.Valid = false
		}
		series.Points = append(series.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index points: %w", err)
	}

	if len(series.Points) > 0 {
		series.BaseDate = series.Points[0].Date
	}
	return series, rows.Err()
}

// LatestHealthReport returns the most recently stored health report.
func (s *Store) LatestHealthReport(ctx context.Context) (*health.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM source_health ORDER BY timestamp DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query health report: %w", err)
	}

	var report health.Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to decode health report: %w", err)
	}
	return &report, nil
}

func scanPrices(rows *sql.Rows) ([]consensus.Price, error) {
	var prices []consensus.Price
	for rows.Next() {
		var day, category, price string
		var region, priceMin, priceMax, priceStd, srcs sql.NullString
		var p consensus.Price

		if err := rows.Scan(&day, &p.ProductKey, &category, &region, &price,
			&priceMin, &priceMax, &priceStd, &srcs,
			&p.SourceCount, &p.Observations, &p.OutliersRemoved); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}

		var err error
		if p.Date, err = time.Parse("2006-01-02", day); err != nil {
			return nil, fmt.Errorf("bad date %q: %w", day, err)
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("bad price %q: %w", price, err)
		}
		p.Category = observation.Category(category)
		p.Region = region.String
		p.Min = parseNullDecimal(priceMin)
		p.Max = parseNullDecimal(priceMax)
		p.StdDev = parseNullDecimal(priceStd)
		if srcs.Valid && srcs.String != "" {
			if err := json.Unmarshal([]byte(srcs.String), &p.Sources); err != nil {
				return nil, fmt.Errorf("failed to decode sources: %w", err)
			}
		}

		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prices: %w", err)
	}
	return prices, nil
}

func parseNullDecimal(v sql.NullString) decimal.Decimal {
	if !v.Valid || v.String == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
