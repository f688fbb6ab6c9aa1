package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/retry"
)

const (
	// pageSize is the per-request limit sent to the search endpoint.
	pageSize     = 250
	metadataRole = "metadata"
)

type Options struct {
	// Attempts is the total number of tries per request.
	// Default: 3
	Attempts int

	// Backoff is the fixed delay between tries.
	// Default: 5s
	Backoff time.Duration

	// Timeout bounds one page request.
	// Default: 60s
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Attempts: 3,
		Backoff:  5 * time.Second,
		Timeout:  60 * time.Second,
	}
}

// STACClient runs item searches against a STAC API.
type STACClient struct {
	http   *http.Client
	opts   Options
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewSTACClient(opts Options, logger zerolog.Logger) *STACClient {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &STACClient{
		http:   &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger,
		sleep:  retry.Sleep,
	}
}

type searchBody struct {
	Collections []string        `json:"collections,omitempty"`
	IDs         []string        `json:"ids,omitempty"`
	BBox        []float64       `json:"bbox,omitempty"`
	Intersects  json.RawMessage `json:"intersects,omitempty"`
	Datetime    string          `json:"datetime,omitempty"`
	Limit       int             `json:"limit"`
}

type featureCollection struct {
	Features []feature `json:"features"`
	Links    []link    `json:"links"`
}

type feature struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection"`
	Properties properties       `json:"properties"`
	Assets     map[string]asset `json:"assets"`
}

type properties struct {
	Datetime   string   `json:"datetime"`
	CloudCover *float64 `json:"eo:cloud_cover"`
	Platform   string   `json:"platform"`
}

type asset struct {
	Href string `json:"href"`
}

type link struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
}

type pageRequest struct {
	method string
	url    string
	body   []byte
}

// Search pages through the results of q until the catalog runs out of
// pages or MaxItems records were collected. Catalog order is preserved.
func (c *STACClient) Search(ctx context.Context, q Query) ([]granule.Record, error) {
	base := strings.TrimSpace(q.STACURL)
	if base == "" {
		return nil, &QueryError{URL: base, Err: errors.New("stac url is empty")}
	}
	endpoint := strings.TrimRight(base, "/") + "/search"

	body := searchBody{Limit: pageSize}
	if len(q.IDs) > 0 {
		body.IDs = q.IDs
	} else {
		body.Collections = q.Collections
		body.Datetime = q.Datetime
		if len(q.Intersects) > 0 {
			body.Intersects = q.Intersects
		} else {
			body.BBox = q.BoundingBox
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &QueryError{URL: endpoint, Err: err}
	}

	limit := q.MaxItems
	if limit <= 0 {
		limit = 5000
	}

	records := []granule.Record{}
	seen := map[string]struct{}{}
	next := &pageRequest{method: http.MethodPost, url: endpoint, body: payload}
	pages := 0
	for next != nil && len(records) < limit {
		page, err := c.fetchPage(ctx, *next)
		if err != nil {
			return nil, err
		}
		pages++
		before := len(records)
		for _, item := range page.Features {
			if len(records) >= limit {
				break
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			record, err := toRecord(item, q.Bands)
			if err != nil {
				return nil, &QueryError{URL: next.url, Err: err}
			}
			seen[item.ID] = struct{}{}
			records = append(records, record)
		}
		next = nextPage(page.Links)
		if len(records) == before {
			// an empty or fully repeated page means the catalog is not advancing
			if next != nil {
				c.logger.Warn().Str("url", next.url).Int("pages", pages).Msg("catalog page added no new items; stopping")
			}
			next = nil
		}
	}

	c.logger.Debug().Str("url", endpoint).Int("pages", pages).Int("items", len(records)).Msg("catalog search finished")
	if len(records) >= limit {
		c.logger.Warn().Int("max_items", limit).Msg("catalog likely holds more results than max_items; the remainder was not returned")
	}
	if len(records) == 0 {
		return nil, &QueryError{URL: endpoint, Attempts: 1, Err: ErrNoGranules}
	}
	return records, nil
}

func (c *STACClient) fetchPage(ctx context.Context, page pageRequest) (featureCollection, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn().Err(lastErr).Int("attempt", attempt).Int("of", c.opts.Attempts).Dur("backoff", c.opts.Backoff).Msg("retrying catalog request")
			if err := c.sleep(ctx, c.opts.Backoff); err != nil {
				break
			}
		}
		attempts++
		result, err := c.doPage(ctx, page)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if retry.IsPermanent(err) || ctx.Err() != nil {
			break
		}
	}
	return featureCollection{}, &QueryError{URL: page.url, Attempts: attempts, Err: lastErr}
}

func (c *STACClient) doPage(ctx context.Context, page pageRequest) (featureCollection, error) {
	var reader io.Reader
	if page.body != nil {
		reader = bytes.NewReader(page.body)
	}
	req, err := http.NewRequestWithContext(ctx, page.method, page.url, reader)
	if err != nil {
		return featureCollection{}, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	if page.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return featureCollection{}, err
	}
	defer resp.Body.Close()

	if err := retry.CheckStatus(resp); err != nil {
		return featureCollection{}, err
	}

	var result featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return featureCollection{}, fmt.Errorf("decode search response: %w", err)
	}
	return result, nil
}

func nextPage(links []link) *pageRequest {
	for _, l := range links {
		if l.Rel != "next" || strings.TrimSpace(l.Href) == "" {
			continue
		}
		method := strings.ToUpper(strings.TrimSpace(l.Method))
		if method == "" {
			method = http.MethodGet
		}
		page := &pageRequest{method: method, url: l.Href}
		if method == http.MethodPost && len(l.Body) > 0 {
			page.body = []byte(l.Body)
		}
		return page
	}
	return nil
}

func toRecord(item feature, bands map[granule.Sensor][]string) (granule.Record, error) {
	name, err := granule.ParseName(item.ID)
	if err != nil {
		return granule.Record{}, err
	}
	acquired, err := parseDatetime(item.Properties.Datetime)
	if err != nil {
		return granule.Record{}, fmt.Errorf("item %s: %w", item.ID, err)
	}

	wanted := bands[name.Sensor]
	if len(wanted) == 0 {
		wanted = granule.DefaultBands(name.Sensor)
	}
	assets := make([]granule.Asset, 0, len(wanted))
	for _, band := range wanted {
		a, ok := item.Assets[band]
		if !ok || strings.TrimSpace(a.Href) == "" {
			return granule.Record{}, fmt.Errorf("item %s has no %s asset", item.ID, band)
		}
		assets = append(assets, granule.Asset{ID: band, Href: a.Href})
	}

	collection := item.Collection
	if collection == "" {
		switch name.Sensor {
		case granule.SensorL30:
			collection = granule.CollectionL30
		case granule.SensorS30:
			collection = granule.CollectionS30
		}
	}

	record := granule.Record{
		ID:         item.ID,
		Collection: collection,
		AcquiredAt: acquired,
		Platform:   item.Properties.Platform,
		Assets:     assets,
	}
	if item.Properties.CloudCover != nil {
		v := *item.Properties.CloudCover
		record.CloudCover = &v
	}
	if meta, ok := item.Assets[metadataRole]; ok {
		record.MetadataHref = meta.Href
	}
	return record, nil
}

func parseDatetime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("missing datetime property")
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed datetime %q", raw)
	}
	return parsed.UTC(), nil
}
