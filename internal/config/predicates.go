package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jaa/hls-scaling/internal/filter"
)

// Predicates converts the filter section into filter predicates. A cloud
// cover ceiling of 100 and a spatial coverage floor of 0 keep every granule,
// so they are treated as absent.
func (f Filters) Predicates() (filter.Predicates, error) {
	p := filter.Predicates{
		SameDay:         f.SameDay,
		TileID:          strings.TrimSpace(f.TileID),
		ExcludeLandsat9: f.ExcludeLandsat9,
	}

	for _, raw := range f.Months {
		month, err := ParseMonth(raw)
		if err != nil {
			return filter.Predicates{}, err
		}
		p.Months = append(p.Months, month)
	}

	if f.CloudCoverMax != nil && *f.CloudCoverMax != 100 {
		value := *f.CloudCoverMax
		p.CloudCoverMax = &value
	}
	if f.SpatialCoverageMin != nil && *f.SpatialCoverageMin != 0 {
		value := *f.SpatialCoverageMin
		p.SpatialCoverageMin = &value
	}
	return p, nil
}

// ParseMonth accepts a month number, a full English name or its
// three-letter abbreviation.
func ParseMonth(raw string) (time.Month, error) {
	value := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(value); err == nil {
		if n < 1 || n > 12 {
			return 0, fmt.Errorf("month %q is out of range", raw)
		}
		return time.Month(n), nil
	}
	for m := time.January; m <= time.December; m++ {
		name := m.String()
		if strings.EqualFold(value, name) || strings.EqualFold(value, name[:3]) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("month %q is not a month name", raw)
}
