// Package filter narrows catalog search results with declarative predicates.
//
// Every function in this package is pure: no network, no disk, and the
// relative order of the input records is always preserved.
package filter

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jaa/hls-scaling/internal/granule"
)

var tileIDPattern = regexp.MustCompile(`^T?[0-9]{2}[A-Z]{3}$`)

type Predicates struct {
	// Months keeps granules acquired in one of the listed months. Empty keeps all.
	Months []time.Month
	// CloudCoverMax keeps granules with a known cloud cover <= the value. Nil disables the check.
	CloudCoverMax *float64
	// SpatialCoverageMin keeps granules with a known spatial coverage >= the value. Nil disables the check.
	SpatialCoverageMin *float64
	// SameDay keeps only granules whose tile was observed by both L30 and S30 on the same day.
	SameDay bool
	// TileID keeps granules whose id contains the MGRS tile id.
	TileID string
	// ExcludeLandsat9 drops L30 granules built from Landsat-9 scenes.
	ExcludeLandsat9 bool
}

type PredicateError struct {
	Problems []string
}

func (e *PredicateError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid filter predicates"
	}
	return fmt.Sprintf("invalid filter predicates: %s", strings.Join(e.Problems, "; "))
}

func (p Predicates) Validate() error {
	problems := []string{}

	if p.CloudCoverMax != nil && !isPercent(*p.CloudCoverMax) {
		problems = append(problems, fmt.Sprintf("cloud_cover_max %v must be within [0,100]", *p.CloudCoverMax))
	}
	if p.SpatialCoverageMin != nil && !isPercent(*p.SpatialCoverageMin) {
		problems = append(problems, fmt.Sprintf("spatial_coverage_min %v must be within [0,100]", *p.SpatialCoverageMin))
	}

	seen := map[time.Month]struct{}{}
	for _, month := range p.Months {
		if month < time.January || month > time.December {
			problems = append(problems, fmt.Sprintf("month %d is out of range", int(month)))
			continue
		}
		if _, dup := seen[month]; dup {
			problems = append(problems, fmt.Sprintf("month %s is listed twice", month))
		}
		seen[month] = struct{}{}
	}

	if tile := strings.TrimSpace(p.TileID); tile != "" && !tileIDPattern.MatchString(tile) {
		problems = append(problems, fmt.Sprintf("tile_id %q is not an MGRS tile id", p.TileID))
	}

	if len(problems) > 0 {
		return &PredicateError{Problems: problems}
	}
	return nil
}

// isPercent rejects NaN, which compares false against both bounds.
func isPercent(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

// Stage reports how many records remained after one predicate ran.
type Stage struct {
	Name      string
	Remaining int
}

func Apply(records []granule.Record, p Predicates) ([]granule.Record, error) {
	kept, _, err := Trace(records, p)
	return kept, err
}

// NeedsCoverage reports whether any predicate reads cloud or spatial
// coverage metadata.
func (p Predicates) NeedsCoverage() bool {
	return p.CloudCoverMax != nil || p.SpatialCoverageMin != nil
}

// Trace applies the predicates in a fixed order and reports the count after
// each active stage. Predicates are validated before any record is read.
func Trace(records []granule.Record, p Predicates) ([]granule.Record, []Stage, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	stages := []Stage{}
	kept := records

	if tile := strings.TrimPrefix(strings.TrimSpace(p.TileID), "T"); tile != "" {
		kept = keep(kept, func(r granule.Record) bool {
			return strings.Contains(r.ID, "T"+tile)
		})
		stages = append(stages, Stage{Name: "tile_id", Remaining: len(kept)})
	}

	if len(p.Months) > 0 && len(p.Months) < 12 {
		months := map[time.Month]struct{}{}
		for _, month := range p.Months {
			months[month] = struct{}{}
		}
		kept = keep(kept, func(r granule.Record) bool {
			_, ok := months[r.AcquiredAt.UTC().Month()]
			return ok
		})
		stages = append(stages, Stage{Name: "months", Remaining: len(kept)})
	}

	if p.ExcludeLandsat9 {
		kept = keep(kept, func(r granule.Record) bool {
			return !strings.HasPrefix(strings.ToUpper(r.LandsatProductID), "LC09")
		})
		stages = append(stages, Stage{Name: "exclude_landsat9", Remaining: len(kept)})
	}

	if p.CloudCoverMax != nil {
		limit := *p.CloudCoverMax
		kept = keep(kept, func(r granule.Record) bool {
			return r.CloudCover != nil && *r.CloudCover <= limit
		})
		stages = append(stages, Stage{Name: "cloud_cover_max", Remaining: len(kept)})
	}

	if p.SpatialCoverageMin != nil {
		limit := *p.SpatialCoverageMin
		kept = keep(kept, func(r granule.Record) bool {
			return r.SpatialCoverage != nil && *r.SpatialCoverage >= limit
		})
		stages = append(stages, Stage{Name: "spatial_coverage_min", Remaining: len(kept)})
	}

	if p.SameDay {
		kept = sameDay(kept)
		stages = append(stages, Stage{Name: "same_day", Remaining: len(kept)})
	}

	if len(stages) == 0 {
		return records, stages, nil
	}
	return kept, stages, nil
}

func keep(records []granule.Record, pred func(granule.Record) bool) []granule.Record {
	out := make([]granule.Record, 0, len(records))
	for _, record := range records {
		if pred(record) {
			out = append(out, record)
		}
	}
	return out
}

// sameDay keeps records whose (day, tile) group holds both an L30 and an S30
// observation. Records whose id cannot be parsed never match.
func sameDay(records []granule.Record) []granule.Record {
	type sensors struct{ l30, s30 bool }
	groups := map[string]sensors{}
	keys := make([]string, len(records))

	for i, record := range records {
		name, err := granule.ParseName(record.ID)
		if err != nil {
			continue
		}
		key := name.DayKey()
		keys[i] = key
		group := groups[key]
		switch name.Sensor {
		case granule.SensorL30:
			group.l30 = true
		case granule.SensorS30:
			group.s30 = true
		}
		groups[key] = group
	}

	out := make([]granule.Record, 0, len(records))
	for i, record := range records {
		if keys[i] == "" {
			continue
		}
		group := groups[keys[i]]
		if group.l30 && group.s30 {
			out = append(out, record)
		}
	}
	return out
}
