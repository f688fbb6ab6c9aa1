package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/jaa/hls-scaling/internal/filter"
	"github.com/jaa/hls-scaling/internal/granule"
)

var (
	jobNamePattern   = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	granuleIDPattern = regexp.MustCompile(`^HLS\.(L30|S30)\.T[0-9]{2}[A-Z]{3}\.[0-9]{7}T[0-9]{6}\.v2\.0$`)
)

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid request"
	}
	return fmt.Sprintf("invalid request: %s", strings.Join(e.Problems, "; "))
}

type ValidateOptions struct {
	// Rerun skips the query checks; a rerun never contacts the catalog.
	Rerun bool
}

func Validate(req Request, opts ValidateOptions) error {
	problems := []string{}

	if req.Version != 1 {
		problems = append(problems, "version must be 1")
	}

	rootDir, err := ExpandPath(req.RootDir)
	if err != nil || strings.TrimSpace(rootDir) == "" {
		problems = append(problems, "root_dir must be a valid path")
	} else if !filepath.IsAbs(rootDir) {
		problems = append(problems, "root_dir must resolve to an absolute path")
	}

	name := strings.TrimSpace(req.JobName)
	switch {
	case name == "":
		problems = append(problems, "job_name must be set")
	case name == "." || name == ".." || !jobNamePattern.MatchString(name):
		problems = append(problems, fmt.Sprintf("job_name %q must be a single directory name", req.JobName))
	}

	if !opts.Rerun {
		problems = append(problems, validateQuery(req)...)
		problems = append(problems, validateFilters(req.Filters)...)
	}

	problems = append(problems, validateBands(granule.SensorL30, "bands.l30", req.Bands.L30)...)
	problems = append(problems, validateBands(granule.SensorS30, "bands.s30", req.Bands.S30)...)

	switch req.Processing.Kind {
	case ProcessingDSWx, ProcessingCustom:
	default:
		problems = append(problems, fmt.Sprintf("processing.kind %q must be %s or %s", req.Processing.Kind, ProcessingDSWx, ProcessingCustom))
	}
	if !req.Execution.SkipProcess && strings.TrimSpace(req.Processing.Binary) == "" {
		problems = append(problems, "processing.binary must be set unless processing is skipped")
	}
	if req.Processing.TimeoutSeconds < 0 {
		problems = append(problems, "processing.timeout_seconds must be >= 0")
	}

	if req.Execution.DownloadWorkers <= 0 {
		problems = append(problems, "execution.download_workers must be > 0")
	}
	if req.Execution.ProcessWorkers <= 0 {
		problems = append(problems, "execution.process_workers must be > 0")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateQuery(req Request) []string {
	problems := []string{}

	if err := validateURL(req.Catalog.STACURL); err != nil {
		problems = append(problems, fmt.Sprintf("catalog.stac_url is invalid: %v", err))
	}
	if req.Catalog.MaxItems <= 0 {
		problems = append(problems, "catalog.max_items must be > 0")
	}
	for _, collection := range req.Catalog.Collections {
		if _, ok := granule.SensorForCollection(collection); !ok {
			problems = append(problems, fmt.Sprintf("catalog.collections: unsupported collection %q", collection))
		}
	}

	selectors := 0
	for _, set := range []bool{len(req.GranuleIDs) > 0, len(req.BoundingBox) > 0, req.Intersects != ""} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		problems = append(problems, "exactly one of granule_ids, bounding_box and intersects must be set")
	}

	if len(req.GranuleIDs) > 0 {
		for _, id := range req.GranuleIDs {
			if !granuleIDPattern.MatchString(id) {
				problems = append(problems, fmt.Sprintf("granule_ids: %q is not an HLS v2.0 granule id", id))
			}
		}
		return problems
	}

	if len(req.BoundingBox) > 0 {
		problems = append(problems, validateBoundingBox(req.BoundingBox)...)
	}
	if req.Intersects != "" {
		problems = append(problems, validateRegion(req.Intersects)...)
	}

	if req.DateRange.IsZero() {
		problems = append(problems, "date_range must be set unless granule_ids are given")
	} else if start, end, err := req.DateRange.Bounds(); err != nil {
		problems = append(problems, err.Error())
	} else if end.Before(start) {
		problems = append(problems, "date_range.end must not precede date_range.start")
	}
	return problems
}

func validateBoundingBox(bbox []float64) []string {
	if len(bbox) != 4 {
		return []string{"bounding_box must be [west, south, east, north]"}
	}
	for _, v := range bbox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return []string{"bounding_box coordinates must be finite numbers"}
		}
	}
	problems := []string{}
	west, south, east, north := bbox[0], bbox[1], bbox[2], bbox[3]
	if west < -180 || east > 180 || south < -90 || north > 90 {
		problems = append(problems, "bounding_box must lie within [-180,-90,180,90]")
	}
	if west >= east || south >= north {
		problems = append(problems, "bounding_box must have west < east and south < north")
	}
	return problems
}

func validateRegion(path string) []string {
	expanded, err := ExpandPath(path)
	if err != nil {
		return []string{fmt.Sprintf("intersects: %v", err)}
	}
	if !filepath.IsAbs(expanded) {
		return []string{"intersects must resolve to an absolute path"}
	}
	if _, err := ReadRegion(expanded); err != nil {
		return []string{"intersects: " + err.Error()}
	}
	return nil
}

func validateFilters(f Filters) []string {
	p, err := f.Predicates()
	if err != nil {
		return []string{"filters: " + err.Error()}
	}
	if err := p.Validate(); err != nil {
		var predErr *filter.PredicateError
		if errors.As(err, &predErr) {
			out := make([]string, 0, len(predErr.Problems))
			for _, problem := range predErr.Problems {
				out = append(out, "filters: "+problem)
			}
			return out
		}
		return []string{"filters: " + err.Error()}
	}
	return nil
}

func validateBands(sensor granule.Sensor, field string, bands []string) []string {
	problems := []string{}
	if len(bands) == 0 {
		return append(problems, field+" must list at least one band")
	}
	seen := []string{}
	for _, band := range bands {
		if !granule.IsKnownBand(sensor, band) {
			problems = append(problems, fmt.Sprintf("%s: %q is not a %s band", field, band, sensor))
		}
		if slices.Contains(seen, band) {
			problems = append(problems, fmt.Sprintf("%s: %q is listed twice", field, band))
		}
		seen = append(seen, band)
	}
	return problems
}

func validateURL(raw string) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
