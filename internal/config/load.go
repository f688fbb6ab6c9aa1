package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jaa/hls-scaling/internal/granule"
)

type LoadOptions struct {
	ExplicitPath string
	WorkingDir   string
	Env          map[string]string
}

type fileRequest struct {
	Version     *int           `yaml:"version"`
	RootDir     *string        `yaml:"root_dir"`
	JobName     *string        `yaml:"job_name"`
	Catalog     fileCatalog    `yaml:"catalog"`
	GranuleIDs  *[]string      `yaml:"granule_ids"`
	BoundingBox *[]float64     `yaml:"bounding_box"`
	Intersects  *string        `yaml:"intersects"`
	DateRange   *DateRange     `yaml:"date_range"`
	Filters     fileFilters    `yaml:"filters"`
	Bands       fileBands      `yaml:"bands"`
	Processing  fileProcessing `yaml:"processing"`
	Execution   fileExecution  `yaml:"execution"`
}

type fileCatalog struct {
	STACURL     *string   `yaml:"stac_url"`
	Collections *[]string `yaml:"collections"`
	MaxItems    *int      `yaml:"max_items"`
}

type fileFilters struct {
	Months             *[]string `yaml:"months"`
	CloudCoverMax      *float64  `yaml:"cloud_cover_max"`
	SpatialCoverageMin *float64  `yaml:"spatial_coverage_min"`
	SameDay            *bool     `yaml:"same_day"`
	TileID             *string   `yaml:"tile_id"`
	ExcludeLandsat9    *bool     `yaml:"exclude_landsat9"`
}

type fileBands struct {
	L30 *[]string `yaml:"l30"`
	S30 *[]string `yaml:"s30"`
}

type fileProcessing struct {
	Kind               *string   `yaml:"kind"`
	Binary             *string   `yaml:"binary"`
	RunconfigTemplate  *string   `yaml:"runconfig_template"`
	DEMFile            *string   `yaml:"dem_file"`
	LandcoverFile      *string   `yaml:"landcover_file"`
	WorldcoverFile     *string   `yaml:"worldcover_file"`
	ShorelineShapefile *string   `yaml:"shoreline_shapefile"`
	TimeoutSeconds     *int      `yaml:"timeout_seconds"`
	ExtraArgs          *[]string `yaml:"extra_args"`
}

type fileExecution struct {
	SkipDownload    *bool `yaml:"skip_download"`
	SkipProcess     *bool `yaml:"skip_process"`
	Verbose         *bool `yaml:"verbose"`
	DownloadWorkers *int  `yaml:"download_workers"`
	ProcessWorkers  *int  `yaml:"process_workers"`
}

// Load layers built-in defaults, the user config file, the project file, an
// explicit request document and environment overrides, in that order.
func Load(opts LoadOptions) (Request, error) {
	req := DefaultRequest()

	cwd := opts.WorkingDir
	if strings.TrimSpace(cwd) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Request{}, fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}

	env := opts.Env
	if env == nil {
		env = osEnvMap()
	}

	userPath, err := UserConfigPath()
	if err != nil {
		return Request{}, err
	}
	if err := mergeFile(&req, userPath, false); err != nil {
		return Request{}, err
	}
	if err := mergeFile(&req, ProjectConfigPath(cwd), false); err != nil {
		return Request{}, err
	}
	if explicit := strings.TrimSpace(opts.ExplicitPath); explicit != "" {
		if !filepath.IsAbs(explicit) {
			explicit = filepath.Join(cwd, explicit)
		}
		if err := mergeFile(&req, explicit, true); err != nil {
			return Request{}, err
		}
	}

	if err := applyEnvOverrides(&req, env); err != nil {
		return Request{}, err
	}

	if strings.TrimSpace(req.RootDir) == "" {
		req.RootDir = cwd
	}
	normalize(&req)
	return req, nil
}

// ParseRequest decodes a request or settings document on top of the
// built-in defaults. JSON documents with the same keys are accepted.
func ParseRequest(payload []byte) (Request, error) {
	req := DefaultRequest()
	if err := overlay(&req, payload); err != nil {
		return Request{}, err
	}
	normalize(&req)
	return req, nil
}

// EncodeSettings renders the request as the settings document.
func EncodeSettings(req Request) ([]byte, error) {
	normalize(&req)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return buf.Bytes(), nil
}

func mergeFile(req *Request, path string, required bool) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("request file does not exist: %s", path)
		}
		return fmt.Errorf("read request file %s: %w", path, err)
	}

	if err := overlay(req, payload); err != nil {
		return fmt.Errorf("parse request file %s: %w", path, err)
	}
	return nil
}

func overlay(req *Request, payload []byte) error {
	var fr fileRequest
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&fr); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if fr.Version != nil {
		req.Version = *fr.Version
	}
	if fr.RootDir != nil {
		req.RootDir = strings.TrimSpace(*fr.RootDir)
	}
	if fr.JobName != nil {
		req.JobName = strings.TrimSpace(*fr.JobName)
	}
	if fr.Catalog.STACURL != nil {
		req.Catalog.STACURL = strings.TrimSpace(*fr.Catalog.STACURL)
	}
	if fr.Catalog.Collections != nil {
		req.Catalog.Collections = trimAll(*fr.Catalog.Collections)
	}
	if fr.Catalog.MaxItems != nil {
		req.Catalog.MaxItems = *fr.Catalog.MaxItems
	}
	if fr.GranuleIDs != nil {
		req.GranuleIDs = trimAll(*fr.GranuleIDs)
	}
	if fr.BoundingBox != nil {
		req.BoundingBox = append([]float64{}, (*fr.BoundingBox)...)
	}
	if fr.Intersects != nil {
		req.Intersects = strings.TrimSpace(*fr.Intersects)
	}
	if fr.DateRange != nil {
		req.DateRange = *fr.DateRange
	}

	if fr.Filters.Months != nil {
		req.Filters.Months = trimAll(*fr.Filters.Months)
	}
	if fr.Filters.CloudCoverMax != nil {
		req.Filters.CloudCoverMax = copyFloatPtr(fr.Filters.CloudCoverMax)
	}
	if fr.Filters.SpatialCoverageMin != nil {
		req.Filters.SpatialCoverageMin = copyFloatPtr(fr.Filters.SpatialCoverageMin)
	}
	if fr.Filters.SameDay != nil {
		req.Filters.SameDay = *fr.Filters.SameDay
	}
	if fr.Filters.TileID != nil {
		req.Filters.TileID = strings.TrimSpace(*fr.Filters.TileID)
	}
	if fr.Filters.ExcludeLandsat9 != nil {
		req.Filters.ExcludeLandsat9 = *fr.Filters.ExcludeLandsat9
	}

	if fr.Bands.L30 != nil {
		req.Bands.L30 = trimAll(*fr.Bands.L30)
	}
	if fr.Bands.S30 != nil {
		req.Bands.S30 = trimAll(*fr.Bands.S30)
	}

	if fr.Processing.Kind != nil {
		req.Processing.Kind = strings.TrimSpace(*fr.Processing.Kind)
	}
	if fr.Processing.Binary != nil {
		req.Processing.Binary = strings.TrimSpace(*fr.Processing.Binary)
	}
	if fr.Processing.RunconfigTemplate != nil {
		req.Processing.RunconfigTemplate = strings.TrimSpace(*fr.Processing.RunconfigTemplate)
	}
	if fr.Processing.DEMFile != nil {
		req.Processing.DEMFile = strings.TrimSpace(*fr.Processing.DEMFile)
	}
	if fr.Processing.LandcoverFile != nil {
		req.Processing.LandcoverFile = strings.TrimSpace(*fr.Processing.LandcoverFile)
	}
	if fr.Processing.WorldcoverFile != nil {
		req.Processing.WorldcoverFile = strings.TrimSpace(*fr.Processing.WorldcoverFile)
	}
	if fr.Processing.ShorelineShapefile != nil {
		req.Processing.ShorelineShapefile = strings.TrimSpace(*fr.Processing.ShorelineShapefile)
	}
	if fr.Processing.TimeoutSeconds != nil {
		req.Processing.TimeoutSeconds = *fr.Processing.TimeoutSeconds
	}
	if fr.Processing.ExtraArgs != nil {
		req.Processing.ExtraArgs = append([]string{}, (*fr.Processing.ExtraArgs)...)
	}

	if fr.Execution.SkipDownload != nil {
		req.Execution.SkipDownload = *fr.Execution.SkipDownload
	}
	if fr.Execution.SkipProcess != nil {
		req.Execution.SkipProcess = *fr.Execution.SkipProcess
	}
	if fr.Execution.Verbose != nil {
		req.Execution.Verbose = *fr.Execution.Verbose
	}
	if fr.Execution.DownloadWorkers != nil {
		req.Execution.DownloadWorkers = *fr.Execution.DownloadWorkers
	}
	if fr.Execution.ProcessWorkers != nil {
		req.Execution.ProcessWorkers = *fr.Execution.ProcessWorkers
	}
	return nil
}

// UnmarshalYAML accepts either a start/end mapping or a "START/END" scalar.
func (d *DateRange) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if strings.TrimSpace(node.Value) == "" {
			*d = DateRange{}
			return nil
		}
		start, end, ok := strings.Cut(node.Value, "/")
		if !ok {
			return fmt.Errorf("line %d: date_range %q must be START/END", node.Line, node.Value)
		}
		*d = DateRange{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)}
		return nil
	}
	type plain DateRange
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = DateRange{Start: strings.TrimSpace(p.Start), End: strings.TrimSpace(p.End)}
	return nil
}

func applyEnvOverrides(req *Request, env map[string]string) error {
	if value := strings.TrimSpace(env["HLSSCALE_STAC_URL"]); value != "" {
		req.Catalog.STACURL = value
	}
	if value := strings.TrimSpace(env["HLSSCALE_ROOT_DIR"]); value != "" {
		req.RootDir = value
	}
	if value := strings.TrimSpace(env["HLSSCALE_PROCESS_BIN"]); value != "" {
		req.Processing.Binary = value
	}
	if value := strings.TrimSpace(env["HLSSCALE_DOWNLOAD_WORKERS"]); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid HLSSCALE_DOWNLOAD_WORKERS value %q: %w", value, err)
		}
		req.Execution.DownloadWorkers = parsed
	}
	if value := strings.TrimSpace(env["HLSSCALE_PROCESS_WORKERS"]); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid HLSSCALE_PROCESS_WORKERS value %q: %w", value, err)
		}
		req.Execution.ProcessWorkers = parsed
	}
	return nil
}

// normalize makes equivalent requests compare equal: empty lists become nil
// and absent band or collection lists fall back to the defaults.
func normalize(req *Request) {
	if len(req.Catalog.Collections) == 0 {
		req.Catalog.Collections = []string{granule.CollectionL30, granule.CollectionS30}
	}
	if len(req.Bands.L30) == 0 {
		req.Bands.L30 = granule.DefaultBands(granule.SensorL30)
	}
	if len(req.Bands.S30) == 0 {
		req.Bands.S30 = granule.DefaultBands(granule.SensorS30)
	}
	if len(req.GranuleIDs) == 0 {
		req.GranuleIDs = nil
	}
	if len(req.BoundingBox) == 0 {
		req.BoundingBox = nil
	}
	if len(req.Filters.Months) == 0 {
		req.Filters.Months = nil
	}
	if len(req.Processing.ExtraArgs) == 0 {
		req.Processing.ExtraArgs = nil
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func osEnvMap() map[string]string {
	result := map[string]string{}
	for _, pair := range os.Environ() {
		pieces := strings.SplitN(pair, "=", 2)
		if len(pieces) == 2 {
			result[pieces[0]] = pieces[1]
		}
	}
	return result
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}
	return nil
}

func copyFloatPtr(in *float64) *float64 {
	if in == nil {
		return nil
	}
	value := *in
	return &value
}
