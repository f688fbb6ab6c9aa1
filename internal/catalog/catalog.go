// Package catalog searches a STAC API for HLS granules and turns the
// returned items into granule records.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/granule"
)

// ErrNoGranules means the search completed but matched nothing.
var ErrNoGranules = errors.New("catalog: no granules matched the query")

// Searcher is the boundary the lifecycle controller depends on.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]granule.Record, error)
}

// Query selects granules either by explicit id, or by bounding box or
// GeoJSON geometry within a time window.
type Query struct {
	STACURL     string
	Collections []string
	IDs         []string
	BoundingBox []float64
	Intersects  json.RawMessage
	// Datetime is an RFC 3339 interval "start/end".
	Datetime string
	MaxItems int
	Bands    map[granule.Sensor][]string
}

// QueryFor builds the catalog query of a validated request.
func QueryFor(req config.Request) (Query, error) {
	q := Query{
		STACURL:     strings.TrimSpace(req.Catalog.STACURL),
		Collections: append([]string(nil), req.Catalog.Collections...),
		IDs:         append([]string(nil), req.GranuleIDs...),
		MaxItems:    req.Catalog.MaxItems,
		Bands: map[granule.Sensor][]string{
			granule.SensorL30: req.BandsFor(granule.SensorL30),
			granule.SensorS30: req.BandsFor(granule.SensorS30),
		},
	}
	if q.MaxItems <= 0 {
		q.MaxItems = config.DefaultMaxItems
	}
	if len(q.IDs) > 0 {
		return q, nil
	}

	q.BoundingBox = append([]float64(nil), req.BoundingBox...)
	if req.Intersects != "" {
		path, err := config.ExpandPath(req.Intersects)
		if err != nil {
			return Query{}, &config.ValidationError{Problems: []string{"intersects: " + err.Error()}}
		}
		geometry, err := config.ReadRegion(path)
		if err != nil {
			return Query{}, &config.ValidationError{Problems: []string{"intersects: " + err.Error()}}
		}
		q.Intersects = geometry
	}
	start, end, err := req.DateRange.Bounds()
	if err != nil {
		return Query{}, err
	}
	q.Datetime = start.Format("2006-01-02T15:04:05Z") + "/" + end.Format("2006-01-02T15:04:05Z")
	return q, nil
}

// QueryError reports a search that could not be completed.
type QueryError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *QueryError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("catalog query %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("catalog query %s failed: %v", e.URL, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
