package catalog

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/retry"
)

const (
	attrCloudCoverage    = "CLOUD_COVERAGE"
	attrSpatialCoverage  = "SPATIAL_COVERAGE"
	attrLandsatProductID = "LANDSAT_PRODUCT_ID"

	maxMetadataBytes = 4 << 20
)

// Opener streams one remote document. fetch.HTTPOpener satisfies it.
type Opener interface {
	Open(ctx context.Context, href *url.URL) (io.ReadCloser, error)
}

// Needs selects which metadata fields Enrich must make available.
type Needs struct {
	CloudCover       bool
	SpatialCoverage  bool
	LandsatProductID bool
}

func (n Needs) Any() bool {
	return n.CloudCover || n.SpatialCoverage || n.LandsatProductID
}

// MetadataResolver fills coverage fields the search response does not carry
// by reading the granule's CMR metadata document.
type MetadataResolver struct {
	opener   Opener
	workers  int
	attempts int
	backoff  time.Duration
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewMetadataResolver(opener Opener, workers int, logger zerolog.Logger) *MetadataResolver {
	if workers <= 0 {
		workers = 1
	}
	return &MetadataResolver{
		opener:   opener,
		workers:  workers,
		attempts: 3,
		backoff:  5 * time.Second,
		logger:   logger,
		sleep:    retry.Sleep,
	}
}

// Enrich returns a copy of records with the requested fields resolved.
// Records that already carry every needed field are not fetched. A field
// absent from the metadata document stays nil, which the coverage filters
// treat as unknown.
func (m *MetadataResolver) Enrich(ctx context.Context, records []granule.Record, needs Needs) ([]granule.Record, error) {
	out := append([]granule.Record(nil), records...)
	if !needs.Any() {
		return out, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.workers)
	fetched := 0
	for i := range out {
		if !missing(out[i], needs) {
			continue
		}
		if strings.TrimSpace(out[i].MetadataHref) == "" {
			m.logger.Warn().Str("granule", out[i].ID).Msg("granule has no metadata asset; coverage stays unknown")
			continue
		}
		fetched++
		i := i
		group.Go(func() error {
			attrs, err := m.fetch(groupCtx, out[i].MetadataHref)
			if err != nil {
				return fmt.Errorf("granule %s: %w", out[i].ID, err)
			}
			out[i] = apply(out[i], attrs)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, &QueryError{URL: "metadata", Err: err}
	}
	m.logger.Debug().Int("fetched", fetched).Int("records", len(out)).Msg("granule metadata resolved")
	return out, nil
}

func missing(r granule.Record, needs Needs) bool {
	if needs.CloudCover && r.CloudCover == nil {
		return true
	}
	if needs.SpatialCoverage && r.SpatialCoverage == nil {
		return true
	}
	name, err := granule.ParseName(r.ID)
	if needs.LandsatProductID && err == nil && name.Sensor == granule.SensorL30 && r.LandsatProductID == "" {
		return true
	}
	return false
}

func (m *MetadataResolver) fetch(ctx context.Context, href string) (map[string]string, error) {
	parsed, err := url.Parse(href)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, m.backoff); err != nil {
				return nil, lastErr
			}
		}
		attrs, err := m.fetchOnce(ctx, parsed)
		if err == nil {
			return attrs, nil
		}
		lastErr = err
		if ctx.Err() != nil || retry.IsPermanent(err) {
			break
		}
		m.logger.Warn().Err(err).Str("href", href).Int("attempt", attempt).Msg("metadata fetch failed")
	}
	return nil, lastErr
}

func (m *MetadataResolver) fetchOnce(ctx context.Context, href *url.URL) (map[string]string, error) {
	body, err := m.opener.Open(ctx, href)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return ParseAttributes(io.LimitReader(body, maxMetadataBytes))
}

type granuleMetadata struct {
	Attributes []additionalAttribute `xml:"AdditionalAttributes>AdditionalAttribute"`
}

type additionalAttribute struct {
	Name   string   `xml:"Name"`
	Values []string `xml:"Values>Value"`
}

// ParseAttributes reads the first value of every AdditionalAttribute of a
// CMR ECHO10 granule document.
func ParseAttributes(r io.Reader) (map[string]string, error) {
	var doc granuleMetadata
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty metadata document")
		}
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	attrs := make(map[string]string, len(doc.Attributes))
	for _, attr := range doc.Attributes {
		name := strings.TrimSpace(attr.Name)
		if name == "" || len(attr.Values) == 0 {
			continue
		}
		if _, dup := attrs[name]; dup {
			continue
		}
		attrs[name] = strings.TrimSpace(attr.Values[0])
	}
	return attrs, nil
}

func apply(r granule.Record, attrs map[string]string) granule.Record {
	if r.CloudCover == nil {
		r.CloudCover = parsePercent(attrs[attrCloudCoverage])
	}
	if r.SpatialCoverage == nil {
		r.SpatialCoverage = parsePercent(attrs[attrSpatialCoverage])
	}
	if r.LandsatProductID == "" {
		r.LandsatProductID = attrs[attrLandsatProductID]
	}
	return r
}

func parsePercent(raw string) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
