package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaa/hls-scaling/internal/granule"
)

const (
	DefaultSTACURL   = "https://cmr.earthdata.nasa.gov/stac/LPCLOUD/"
	DefaultMaxItems  = 5000
	dateLayout       = "2006-01-02"
	ProcessingDSWx   = "dswx-hls"
	ProcessingCustom = "command"
)

// Request describes one study. It is the schema of both the declarative
// request document and the settings.yaml written into every job directory.
type Request struct {
	Version     int        `yaml:"version" json:"version"`
	RootDir     string     `yaml:"root_dir" json:"root_dir"`
	JobName     string     `yaml:"job_name" json:"job_name"`
	Catalog     Catalog    `yaml:"catalog" json:"catalog"`
	GranuleIDs  []string   `yaml:"granule_ids,omitempty" json:"granule_ids,omitempty"`
	BoundingBox []float64  `yaml:"bounding_box,omitempty,flow" json:"bounding_box,omitempty"`
	// Intersects is the path of a GeoJSON region searched instead of a
	// bounding box. A persisted study points it at its own copy.
	Intersects  string     `yaml:"intersects,omitempty" json:"intersects,omitempty"`
	DateRange   DateRange  `yaml:"date_range" json:"date_range"`
	Filters     Filters    `yaml:"filters" json:"filters"`
	Bands       Bands      `yaml:"bands" json:"bands"`
	Processing  Processing `yaml:"processing" json:"processing"`
	Execution   Execution  `yaml:"execution" json:"execution"`
}

type Catalog struct {
	STACURL     string   `yaml:"stac_url" json:"stac_url"`
	Collections []string `yaml:"collections,flow" json:"collections"`
	MaxItems    int      `yaml:"max_items" json:"max_items"`
}

// DateRange is an inclusive pair of YYYY-MM-DD days.
type DateRange struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

type Filters struct {
	Months             []string `yaml:"months,omitempty,flow" json:"months,omitempty"`
	CloudCoverMax      *float64 `yaml:"cloud_cover_max,omitempty" json:"cloud_cover_max,omitempty"`
	SpatialCoverageMin *float64 `yaml:"spatial_coverage_min,omitempty" json:"spatial_coverage_min,omitempty"`
	SameDay            bool     `yaml:"same_day" json:"same_day"`
	TileID             string   `yaml:"tile_id,omitempty" json:"tile_id,omitempty"`
	ExcludeLandsat9    bool     `yaml:"exclude_landsat9" json:"exclude_landsat9"`
}

type Bands struct {
	L30 []string `yaml:"l30,flow" json:"l30"`
	S30 []string `yaml:"s30,flow" json:"s30"`
}

type Processing struct {
	Kind               string   `yaml:"kind" json:"kind"`
	Binary             string   `yaml:"binary" json:"binary"`
	RunconfigTemplate  string   `yaml:"runconfig_template,omitempty" json:"runconfig_template,omitempty"`
	DEMFile            string   `yaml:"dem_file,omitempty" json:"dem_file,omitempty"`
	LandcoverFile      string   `yaml:"landcover_file,omitempty" json:"landcover_file,omitempty"`
	WorldcoverFile     string   `yaml:"worldcover_file,omitempty" json:"worldcover_file,omitempty"`
	ShorelineShapefile string   `yaml:"shoreline_shapefile,omitempty" json:"shoreline_shapefile,omitempty"`
	TimeoutSeconds     int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	ExtraArgs          []string `yaml:"extra_args,omitempty" json:"extra_args,omitempty"`
}

type Execution struct {
	SkipDownload    bool `yaml:"skip_download" json:"skip_download"`
	SkipProcess     bool `yaml:"skip_process" json:"skip_process"`
	Verbose         bool `yaml:"verbose" json:"verbose"`
	DownloadWorkers int  `yaml:"download_workers" json:"download_workers"`
	ProcessWorkers  int  `yaml:"process_workers" json:"process_workers"`
}

func DefaultRequest() Request {
	return Request{
		Version: 1,
		JobName: "study",
		Catalog: Catalog{
			STACURL:     DefaultSTACURL,
			Collections: []string{granule.CollectionL30, granule.CollectionS30},
			MaxItems:    DefaultMaxItems,
		},
		Bands: Bands{
			L30: granule.DefaultBands(granule.SensorL30),
			S30: granule.DefaultBands(granule.SensorS30),
		},
		Processing: Processing{
			Kind:           ProcessingDSWx,
			Binary:         "dswx_hls.py",
			TimeoutSeconds: 7200,
		},
		Execution: Execution{
			DownloadWorkers: 8,
			ProcessWorkers:  2,
		},
	}
}

// BandsFor returns the configured asset ids for the sensor.
func (r Request) BandsFor(sensor granule.Sensor) []string {
	switch sensor {
	case granule.SensorL30:
		return r.Bands.L30
	case granule.SensorS30:
		return r.Bands.S30
	default:
		return nil
	}
}

// Bounds parses the date range. The end time is the last instant of the end day.
func (d DateRange) Bounds() (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(d.Start))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("date_range.start %q must be YYYY-MM-DD", d.Start)
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(d.End))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("date_range.end %q must be YYYY-MM-DD", d.End)
	}
	return start, end.Add(24*time.Hour - time.Second), nil
}

func (d DateRange) IsZero() bool {
	return strings.TrimSpace(d.Start) == "" && strings.TrimSpace(d.End) == ""
}

// ParseDateRange accepts "YYYY-MM-DD/YYYY-MM-DD".
func ParseDateRange(raw string) (DateRange, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return DateRange{}, fmt.Errorf("date range %q must be START/END", raw)
	}
	d := DateRange{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)}
	if _, _, err := d.Bounds(); err != nil {
		return DateRange{}, err
	}
	return d, nil
}

func (d DateRange) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Start + "/" + d.End
}
