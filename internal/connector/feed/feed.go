// Package feed pulls listings from a product search API and maps them to
// items.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/crimson-sun/swatch/internal/catalog"
	"github.com/crimson-sun/swatch/internal/connector"
	"github.com/crimson-sun/swatch/internal/httpclient"
	"github.com/crimson-sun/swatch/internal/logging"
	"github.com/crimson-sun/swatch/internal/model"
)

const (
	defaultEndpoint     = "https://depop-thrift.p.rapidapi.com"
	defaultHost         = "depop-thrift.p.rapidapi.com"
	defaultPollInterval = time.Minute
	searchPath          = "/search"
	maxSeen             = 10000
)

var errFormat = errors.New("feed connector: unexpected response format: products is not a list")

func init() {
	connector.Register("feed", func() connector.Connector {
		return &Connector{}
	})
}

// Connector implements connector.Connector for a RapidAPI product search.
// Extra keys: host, country (default "us"), sort (default "newlyListed"),
// poll_interval.
type Connector struct{}

// product is one listing as returned by the search API.
type product struct {
	ID          flexString        `json:"id"`
	Slug        string            `json:"slug"`
	Preview     map[string]string `json:"preview"`
	ImageURL    string            `json:"imageUrl"`
	Description string            `json:"description"`
	BrandName   string            `json:"brand_name"`
	Country     string            `json:"country"`
	Price       flexFloat         `json:"price"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexFloat accepts a JSON number or a numeric string. Anything else is 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

func toItem(p product) model.Item {
	img := p.Preview["640"]
	if img == "" {
		img = p.ImageURL
	}
	desc := p.Description
	if desc == "" {
		desc = catalog.DescribeFallback(p.BrandName, p.Country)
	}
	price := float64(p.Price)
	return model.Item{
		ID:          string(p.ID),
		ImageURL:    img,
		Title:       catalog.SlugToTitle(p.Slug),
		Description: desc,
		Price:       price,
		PriceRange:  catalog.PriceRange(price),
	}
}

// decodeProducts accepts either a bare array or an object with a results
// array.
func decodeProducts(raw json.RawMessage) ([]product, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var ps []product
		if err := json.Unmarshal(trimmed, &ps); err != nil {
			return nil, fmt.Errorf("feed connector: %w", err)
		}
		return ps, nil
	}
	var wrapped struct {
		Results *[]product `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil || wrapped.Results == nil {
		return nil, errFormat
	}
	return *wrapped.Results, nil
}

func newClient(cfg connector.ConnectorConfig) *httpclient.Client {
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = defaultEndpoint
	}
	host := cfg.Extra["host"]
	if host == "" {
		host = defaultHost
	}
	return httpclient.New(baseURL,
		httpclient.WithHeader("X-RapidAPI-Key", cfg.APIKey),
		httpclient.WithHeader("X-RapidAPI-Host", host),
	)
}

func searchQuery(cfg connector.ConnectorConfig, search string) url.Values {
	q := url.Values{}
	q.Set("country", orDefault(cfg.Extra["country"], "us"))
	q.Set("sort", orDefault(cfg.Extra["sort"], "newlyListed"))
	if search != "" {
		q.Set("what", search)
	}
	return q
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func fetch(ctx context.Context, client *httpclient.Client, q url.Values) ([]model.Item, error) {
	var raw json.RawMessage
	if err := client.GetJSON(ctx, searchPath, q, &raw); err != nil {
		return nil, fmt.Errorf("feed connector: %w", err)
	}
	ps, err := decodeProducts(raw)
	if err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(ps))
	for _, p := range ps {
		items = append(items, toItem(p))
	}
	return items, nil
}

func (c *Connector) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) ([]model.Item, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("feed connector: api key is required")
	}
	items, err := fetch(ctx, newClient(cfg), searchQuery(cfg, params.Search))
	if err != nil {
		return nil, err
	}
	if params.Limit > 0 && len(items) > params.Limit {
		items = items[:params.Limit]
	}
	return items, nil
}

// Stream polls the search endpoint and emits listings not seen before.
func (c *Connector) Stream(ctx context.Context, cfg connector.ConnectorConfig) (<-chan model.Item, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("feed connector: api key is required")
	}
	client := newClient(cfg)
	q := searchQuery(cfg, "")

	pollInterval := defaultPollInterval
	if raw := cfg.Extra["poll_interval"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			pollInterval = d
		}
	}

	ch := make(chan model.Item, 64)
	go func() {
		defer close(ch)
		seen := newSeenSet(maxSeen)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			if !poll(ctx, client, q, seen, ch) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch, nil
}

// poll fetches once and forwards unseen items. It returns false when ctx
// ended while sending.
func poll(ctx context.Context, client *httpclient.Client, q url.Values, seen *seenSet, ch chan<- model.Item) bool {
	items, err := fetch(ctx, client, q)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		logging.Warn().Err(err).Msg("feed connector: poll failed")
		return true
	}
	for _, it := range items {
		if it.ID != "" && !seen.add(it.ID) {
			continue
		}
		select {
		case ch <- it:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// seenSet remembers up to max ids, forgetting the oldest first.
type seenSet struct {
	max   int
	ids   map[string]struct{}
	order []string
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{max: limit, ids: make(map[string]struct{}, limit)}
}

// add records id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.order) >= s.max {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}
