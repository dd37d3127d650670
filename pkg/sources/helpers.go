package sources

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
)

// ProductQuery pairs a normalized product key with the query text a source
// should use to look it up, plus the category it maps into.
type ProductQuery struct {
	Key      string
	Query    string
	Category string
}

// ParseProducts reads the "products" list from a source config block.
// Each entry is a map with "key", "query" (defaults to key) and "category".
func ParseProducts(cfg config.SourceConfig) ([]ProductQuery, error) {
	raw, ok := cfg.Config["products"]
	if !ok {
		return nil, ErrNoProductsConfigured
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, ErrNoProductsConfigured
	}

	products := make([]ProductQuery, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: products[%d] is not a map", ErrInvalidConfig, i)
		}
		p := ProductQuery{}
		if v, ok := entry["key"].(string); ok {
			p.Key = v
		}
		if p.Key == "" {
			return nil, fmt.Errorf("%w: products[%d] missing key", ErrInvalidConfig, i)
		}
		if v, ok := entry["query"].(string); ok && v != "" {
			p.Query = v
		} else {
			p.Query = p.Key
		}
		if v, ok := entry["category"].(string); ok {
			p.Category = v
		}
		products = append(products, p)
	}
	return products, nil
}

// GetJSON performs a GET request and decodes the JSON body into target.
// Non-2xx responses are reported through the shared sentinel errors so
// callers can distinguish rate limiting from other failures.
func GetJSON(client *http.Client, req *http.Request, target interface{}, logger *logging.Logger) error {
	SetUserAgent(req)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimitExceeded, req.URL.Host)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if logger != nil {
			logger.Debug("unexpected response", "url", req.URL.String(), "status", resp.StatusCode, "body", string(body))
		}
		return fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, req.URL.Host)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
