package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/sources"
)

const (
	preciosClarosName    = "preciosclaros"
	preciosClarosBaseURL = "https://d3e6htiiul5ek9.cloudfront.net/prod"
)

func init() {
	sources.Register("api.preciosclaros", NewPreciosClarosSource)
}

// PreciosClarosSource fetches reference prices from the Precios Claros
// government price transparency API. Prices come back per tracked SKU with
// min/average/max across reporting stores; the average is used.
type PreciosClarosSource struct {
	*sources.BaseSource
	baseURL  string
	limit    int
	products []sources.ProductQuery
}

var _ sources.Source = (*PreciosClarosSource)(nil)

// NewPreciosClarosSource creates a Precios Claros source from its config block.
func NewPreciosClarosSource(cfg config.SourceConfig, timeout time.Duration, logger *logging.Logger) (sources.Source, error) {
	products, err := sources.ParseProducts(cfg)
	if err != nil {
		return nil, err
	}

	return &PreciosClarosSource{
		BaseSource: sources.NewBaseSource(preciosClarosName, sources.SourceTypeAPI, cfg.GetString("region", ""), timeout, logger),
		baseURL:    cfg.GetString("base_url", preciosClarosBaseURL),
		limit:      cfg.GetInt("limit", 30),
		products:   products,
	}, nil
}

type pcSearchResponse struct {
	Total     int `json:"total"`
	Productos []struct {
		ID          string  `json:"id"`
		Nombre      string  `json:"nombre"`
		Marca       string  `json:"marca"`
		PrecioMin   float64 `json:"precioMin"`
		PrecioMax   float64 `json:"precioMax"`
		PrecioMedio float64 `json:"precioMedio"`
	} `json:"productos"`
}

// Fetch retrieves one observation per configured product.
func (s *PreciosClarosSource) Fetch(ctx context.Context) ([]observation.Observation, error) {
	now := observation.Day(time.Now().UTC())
	obs := make([]observation.Observation, 0, len(s.products))

	for _, p := range s.products {
		price, count, err := s.searchAveragePrice(ctx, p.Query)
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
			StoreLabel: "preciosclaros",
		})
	}

	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: %s", sources.ErrNoPricesAvailable, s.Name())
	}
	return obs, nil
}

// searchAveragePrice queries the product search endpoint and returns the
// median of the per-SKU average prices together with the SKU count.
func (s *PreciosClarosSource) searchAveragePrice(ctx context.Context, query string) (decimal.Decimal, int, error) {
	u := fmt.Sprintf("%s/productos?string=%s&limit=%d", s.baseURL, url.QueryEscape(query), s.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to build request: %w", err)
	}

	var resp pcSearchResponse
	if err := sources.GetJSON(s.HTTPClient(), req, &resp, s.Logger()); err != nil {
		return decimal.Zero, 0, err
	}

	prices := make([]decimal.Decimal, 0, len(resp.Productos))
	for _, prod := range resp.Productos {
		avg := prod.PrecioMedio
		if avg <= 0 {
			// Some SKUs only publish the min/max pair
			if prod.PrecioMin > 0 && prod.PrecioMax > 0 {
				avg = (prod.PrecioMin + prod.PrecioMax) / 2
			}
		}
		if avg <= 0 {
			continue
		}
		prices = append(prices, decimal.NewFromFloat(avg))
	}
	if len(prices) == 0 {
		return decimal.Zero, 0, nil
	}
	return medianPrice(prices), len(prices), nil
}
