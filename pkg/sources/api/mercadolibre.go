// Package api implements price sources backed by public HTTP APIs.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/sources"
)

const (
	mercadoLibreName    = "mercadolibre"
	mercadoLibreBaseURL = "https://api.mercadolibre.com"
	mercadoLibreSiteID  = "MLA"
)

func init() {
	sources.Register("api.mercadolibre", NewMercadoLibreSource)
}

// MercadoLibreSource fetches listing prices from the MercadoLibre search API.
// Each configured product is resolved through a search query; the median of
// the returned listing prices becomes one observation per product.
type MercadoLibreSource struct {
	*sources.BaseSource
	baseURL  string
	siteID   string
	limit    int
	products []sources.ProductQuery
}

var _ sources.Source = (*MercadoLibreSource)(nil)

// NewMercadoLibreSource creates a MercadoLibre source from its config block.
func NewMercadoLibreSource(cfg config.SourceConfig, timeout time.Duration, logger *logging.Logger) (sources.Source, error) {
	products, err := sources.ParseProducts(cfg)
	if err != nil {
		return nil, err
	}

	return &MercadoLibreSource{
		BaseSource: sources.NewBaseSource(mercadoLibreName, sources.SourceTypeAPI, cfg.GetString("region", ""), timeout, logger),
		baseURL:    cfg.GetString("base_url", mercadoLibreBaseURL),
		siteID:     cfg.GetString("site_id", mercadoLibreSiteID),
		limit:      cfg.GetInt("limit", 50),
		products:   products,
	}, nil
}

type mlSearchResponse struct {
	Results []struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Price    float64 `json:"price"`
		Currency string  `json:"currency_id"`
	} `json:"results"`
}

// Fetch retrieves one observation per configured product.
func (s *MercadoLibreSource) Fetch(ctx context.Context) ([]observation.Observation, error) {
	now := observation.Day(time.Now().UTC())
	obs := make([]observation.Observation, 0, len(s.products))

	for _, p := range s.products {
		price, count, err := s.searchMedianPrice(ctx, p.Query)
		if err != nil {
			s.Logger().Warn("product lookup failed", "source", s.Name(), "product", p.Key, "error", err.Error())
			continue
		}
		if count == 0 {
			continue
		}
		obs = append(obs, observation.Observation{
			Date:       now,
			SourceID:   s.Name(),
			ProductKey: observation.NormalizeProductKey(p.Key),
			Price:      price,
			Category:   observation.MapCategory(p.Category),
			Region:     s.Region(),
			StoreLabel: "mercadolibre",
		})
		s.Logger().Debug("product priced", "source", s.Name(), "product", p.Key, "price", price.String(), "listings", count)
	}

	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: %s", sources.ErrNoPricesAvailable, s.Name())
	}
	return obs, nil
}

// searchMedianPrice queries the search API and returns the median listing
// price in ARS along with the number of listings considered.
func (s *MercadoLibreSource) searchMedianPrice(ctx context.Context, query string) (decimal.Decimal, int, error) {
	u := fmt.Sprintf("%s/sites/%s/search?q=%s&limit=%d", s.baseURL, s.siteID, url.QueryEscape(query), s.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to build request: %w", err)
	}

	var resp mlSearchResponse
	if err := sources.GetJSON(s.HTTPClient(), req, &resp, s.Logger()); err != nil {
		return decimal.Zero, 0, err
	}

	prices := make([]decimal.Decimal, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Currency != "" && r.Currency != "ARS" {
			continue
		}
		if r.Price <= 0 {
			continue
		}
		prices = append(prices, decimal.NewFromFloat(r.Price))
	}
	if len(prices) == 0 {
		return decimal.Zero, 0, nil
	}
	return medianPrice(prices), len(prices), nil
}

// medianPrice returns the median of the given prices.
func medianPrice(prices []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
