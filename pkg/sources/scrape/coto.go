// Package scrape implements price sources that extract observations from
// retailer listing pages.
package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/sources"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/version"
)

const (
	cotoName    = "coto"
	cotoBaseURL = "https://www.cotodigital3.com.ar"

	// seenCacheSize bounds the (page, product) dedupe cache across runs.
	seenCacheSize = 4096
)

func init() {
	sources.Register("scrape.coto", NewCotoSource)
}

// CotoSource scrapes category listing pages of the Coto Digital storefront.
// Pages and CSS selectors are configurable so markup changes do not require a
// code change. Duplicate product cards within a run are dropped through an
// LRU cache keyed by page and product name.
type CotoSource struct {
	*sources.BaseSource
	baseURL       string
	pages         []cotoPage
	itemSelector  string
	nameSelector  string
	priceSelector string
	seen          *lru.Cache[string, struct{}]
	delay         time.Duration
}

type cotoPage struct {
	path     string
	category observation.Category
}

var _ sources.Source = (*CotoSource)(nil)

// NewCotoSource creates a Coto scrape source from its config block.
func NewCotoSource(cfg config.SourceConfig, timeout time.Duration, logger *logging.Logger) (sources.Source, error) {
	rawPages, ok := cfg.Config["pages"]
	if !ok {
		return nil, fmt.Errorf("%w: pages list required", sources.ErrInvalidConfig)
	}
	list, ok := rawPages.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: pages list required", sources.ErrInvalidConfig)
	}

	pages := make([]cotoPage, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: pages[%d] is not a map", sources.ErrInvalidConfig, i)
		}
		p := cotoPage{}
		if v, ok := entry["path"].(string); ok {
			p.path = v
		}
		if p.path == "" {
			return nil, fmt.Errorf("%w: pages[%d] missing path", sources.ErrInvalidConfig, i)
		}
		if v, ok := entry["category"].(string); ok {
			p.category = observation.MapCategory(v)
		} else {
			p.category = observation.CategoryOtherGoods
		}
		pages = append(pages, p)
	}

	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}

	return &CotoSource{
		BaseSource:    sources.NewBaseSource(cotoName, sources.SourceTypeScrape, cfg.GetString("region", ""), timeout, logger),
		baseURL:       strings.TrimRight(cfg.GetString("base_url", cotoBaseURL), "/"),
		pages:         pages,
		itemSelector:  cfg.GetString("item_selector", "li.clsHomeProducto"),
		nameSelector:  cfg.GetString("name_selector", "div.descrip_full"),
		priceSelector: cfg.GetString("price_selector", "span.atg_store_newPrice"),
		seen:          seen,
		delay:         time.Duration(cfg.GetInt("delay_ms", 500)) * time.Millisecond,
	}, nil
}

// Fetch scrapes every configured page and returns the extracted observations.
func (s *CotoSource) Fetch(ctx context.Context) ([]observation.Observation, error) {
	now := observation.Day(time.Now().UTC())
	var obs []observation.Observation
	var visitErrs []string

	for _, page := range s.pages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pageObs, err := s.scrapePage(ctx, page, now)
		if err != nil {
			s.Logger().Warn("page scrape failed", "source", s.Name(), "path", page.path, "error", err.Error())
			visitErrs = append(visitErrs, fmt.Sprintf("%s: %v", page.path, err))
			continue
		}
		obs = append(obs, pageObs...)
	}

	if len(obs) == 0 {
		if len(visitErrs) > 0 {
			return nil, fmt.Errorf("%w: %s (%s)", sources.ErrNoPricesAvailable, s.Name(), strings.Join(visitErrs, "; "))
		}
		return nil, fmt.Errorf("%w: %s", sources.ErrNoPricesAvailable, s.Name())
	}
	return obs, nil
}

func (s *CotoSource) scrapePage(ctx context.Context, page cotoPage, day time.Time) ([]observation.Observation, error) {
	c := colly.NewCollector(
		colly.UserAgent(version.AgentString()),
	)
	c.SetRequestTimeout(s.HTTPClient().Timeout)

	var obs []observation.Observation
	var scrapeErr error

	c.OnHTML(s.itemSelector, func(e *colly.HTMLElement) {
		if ctx.Err() != nil {
			return
		}
		name := strings.TrimSpace(e.ChildText(s.nameSelector))
		rawPrice := strings.TrimSpace(e.ChildText(s.priceSelector))
		if name == "" || rawPrice == "" {
			return
		}

		price, err := ParsePrice(rawPrice)
		if err != nil {
			s.Logger().Debug("unparseable price", "source", s.Name(), "product", name, "raw", rawPrice)
			return
		}

		key := observation.NormalizeProductKey(name)
		// Day-scoped so tomorrow's run re-reads the same products
		dedupeKey := observation.DayKey(day) + "|" + page.path + "|" + key
		if _, dup := s.seen.Get(dedupeKey); dup {
			return
		}
		s.seen.Add(dedupeKey, struct{}{})

		obs = append(obs, observation.Observation{
			Date:       day,
			SourceID:   s.Name(),
			ProductKey: key,
			Price:      price,
			Category:   page.category,
			Region:     s.Region(),
			StoreLabel: "coto",
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = fmt.Errorf("%w: %d from %s", sources.ErrUnexpectedStatus, r.StatusCode, r.Request.URL.Host)
	})

	if err := c.Visit(s.baseURL + page.path); err != nil {
		return nil, fmt.Errorf("visit failed: %w", err)
	}
	c.Wait()

	if scrapeErr != nil {
		return nil, scrapeErr
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return obs, ctx.Err()
		case <-time.After(s.delay):
		}
	}

	return obs, nil
}

var (
	priceStripRe = regexp.MustCompile(`[^\d,.]`)
)

// ParsePrice converts a displayed ARS price such as "$1.234,56" into a
// decimal value. Thousands separators use dots and the decimal comma.
func ParsePrice(raw string) (decimal.Decimal, error) {
	cleaned := priceStripRe.ReplaceAllString(raw, "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: empty price", sources.ErrInvalidResponse)
	}

	// "1.234,56" -> "1234.56"; the comma group is the decimal part and dots
	// separate thousands. Without a comma, a dot followed by exactly three
	// digits is a thousands separator too ("2.100" is two thousand one hundred).
	if i := strings.LastIndex(cleaned, ","); i >= 0 {
		cleaned = strings.ReplaceAll(cleaned[:i], ".", "") + "." + cleaned[i+1:]
	} else if i := strings.LastIndex(cleaned, "."); i >= 0 && len(cleaned)-i-1 == 3 {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", sources.ErrInvalidResponse, raw)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %q", sources.ErrInvalidResponse, raw)
	}
	return price, nil
}
