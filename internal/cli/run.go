package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jaa/hls-scaling/internal/auth"
	"github.com/jaa/hls-scaling/internal/catalog"
	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/engine"
	"github.com/jaa/hls-scaling/internal/exitcode"
	"github.com/jaa/hls-scaling/internal/fetch"
	"github.com/jaa/hls-scaling/internal/output"
)

// buildController wires the production collaborators. Tests replace it.
var buildController = defaultController

type runFlags struct {
	root            string
	name            string
	jobDir          string
	bbox            string
	intersects      string
	dateRange       string
	months          []string
	cloudCoverMax   float64
	spatialCovMin   float64
	sameDay         bool
	tileID          string
	granuleIDs      []string
	excludeLandsat9 bool
	rerun           bool
	skipDownload    bool
	skipProcess     bool
	downloadWorkers int
	processWorkers  int
	stacURL         string
	collections     []string
	processBin      string
	eventsFile      string

	runconfigTemplate string
	demFile           string
	landcoverFile     string
	worldcoverFile    string
	shorelineFile     string
	l30Bands          []string
	s30Bands          []string
}

func newRunCommand(app *AppContext) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a study: query, filter, download and process",
		Long: "run starts a fresh study in a new job directory, or resumes the study in " +
			"<root>/<name> (or --job-dir) when --rerun is given. A first interrupt stops " +
			"scheduling and lets running work finish; a second interrupt aborts it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(app)
			if err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}
			if err := flags.apply(cmd, &req); err != nil {
				return withExitCode(exitcode.InvalidUsage, err)
			}
			if app.Opts.Verbose {
				req.Execution.Verbose = true
			}
			if err := config.Validate(req, config.ValidateOptions{Rerun: flags.rerun}); err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}
			if root, err := config.ExpandPath(req.RootDir); err == nil {
				req.RootDir = root
			}

			logger, err := newLogger(app)
			if err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}
			emitter := newEmitter(app)
			if flags.eventsFile != "" {
				file, err := os.OpenFile(flags.eventsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("open events file: %w", err))
				}
				defer file.Close()
				emitter = output.NewMultiEmitter(emitter, output.NewJSONEmitter(file))
			}
			controller, err := buildController(app, req, logger, emitter)
			if err != nil {
				return withExitCode(exitcode.RuntimeFailure, err)
			}

			stop, abort, release := interruptContexts(cmd.Context(), app.IO.ErrOut)
			defer release()

			result, runErr := controller.Run(stop, req, engine.RunOptions{
				Rerun:  flags.rerun,
				JobDir: flags.jobDir,
				Abort:  abort,
			})
			if runErr != nil {
				return withExitCode(runExitCode(runErr), runErr)
			}
			if failed := result.Summary.DownloadFailed + result.Summary.ProcessFailed; failed > 0 {
				return withExitCode(exitcode.PartialSuccess, fmt.Errorf("study finished with %d failed granule(s); see %s", failed, result.JobDir))
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func (r *runFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&r.root, "root", "", "Root directory holding job directories")
	f.StringVar(&r.name, "name", "", "Job name; a taken name gets the smallest free numeric suffix")
	f.StringVar(&r.jobDir, "job-dir", "", "Job directory to resume with --rerun (default <root>/<name>)")
	f.StringVar(&r.bbox, "bbox", "", `Bounding box "W S E N" in degrees`)
	f.StringVar(&r.intersects, "intersects", "", "GeoJSON file with the region to search instead of a bounding box")
	f.StringVar(&r.dateRange, "date-range", "", "Inclusive date range START/END (YYYY-MM-DD)")
	f.StringSliceVar(&r.months, "months", nil, "Keep granules acquired in these months (e.g. Jun,Jul)")
	f.Float64Var(&r.cloudCoverMax, "cloud-cover-max", 100, "Keep granules with cloud cover <= value (percent)")
	f.Float64Var(&r.spatialCovMin, "spatial-coverage-min", 0, "Keep granules with spatial coverage >= value (percent)")
	f.BoolVar(&r.sameDay, "same-day", false, "Keep only tiles observed by both L30 and S30 on the same day")
	f.StringVar(&r.tileID, "tile-id", "", "Keep granules of one MGRS tile (e.g. T11TPJ)")
	f.StringArrayVar(&r.granuleIDs, "granule-id", nil, "Query these granule ids instead of bbox/date (repeatable)")
	f.BoolVar(&r.excludeLandsat9, "exclude-landsat9", false, "Drop L30 granules built from Landsat-9 scenes")
	f.BoolVar(&r.rerun, "rerun", false, "Resume the existing study instead of starting a new one")
	f.BoolVar(&r.skipDownload, "do-not-download", false, "Skip the download phase")
	f.BoolVar(&r.skipProcess, "do-not-process", false, "Skip the processing phase")
	f.IntVar(&r.downloadWorkers, "download-workers", 0, "Concurrent asset downloads")
	f.IntVar(&r.processWorkers, "process-workers", 0, "Concurrent processing routines")
	f.StringVar(&r.stacURL, "stac-url", "", "STAC API root")
	f.StringSliceVar(&r.collections, "collections", nil, "STAC collections to search")
	f.StringVar(&r.processBin, "process-bin", "", "Processing binary")
	f.StringVar(&r.eventsFile, "events-file", "", "Also append every event as JSON to this file")
	f.StringVar(&r.runconfigTemplate, "runconfig-template", "", "Runconfig template for the processing routine (default built-in)")
	f.StringVar(&r.demFile, "dem-file", "", "DEM file used for every tile")
	f.StringVar(&r.landcoverFile, "landcover-file", "", "Landcover file used for every tile")
	f.StringVar(&r.worldcoverFile, "worldcover-file", "", "Worldcover file used for every tile")
	f.StringVar(&r.shorelineFile, "shoreline-file", "", "Shoreline shapefile used for every tile")
	f.StringSliceVar(&r.l30Bands, "l30-bands", nil, "L30 bands to download (e.g. B02,B03,B04,B05,B06,B07,Fmask)")
	f.StringSliceVar(&r.s30Bands, "s30-bands", nil, "S30 bands to download (e.g. B02,B03,B04,B8A,B11,B12,Fmask)")
	cmd.MarkFlagsMutuallyExclusive("bbox", "intersects", "granule-id")
}

// apply overlays explicitly set flags on the loaded request.
func (r *runFlags) apply(cmd *cobra.Command, req *config.Request) error {
	changed := cmd.Flags().Changed

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	paths := []struct {
		flag   string
		value  string
		target *string
	}{
		{"root", r.root, &req.RootDir},
		{"intersects", r.intersects, &req.Intersects},
		{"runconfig-template", r.runconfigTemplate, &req.Processing.RunconfigTemplate},
		{"dem-file", r.demFile, &req.Processing.DEMFile},
		{"landcover-file", r.landcoverFile, &req.Processing.LandcoverFile},
		{"worldcover-file", r.worldcoverFile, &req.Processing.WorldcoverFile},
		{"shoreline-file", r.shorelineFile, &req.Processing.ShorelineShapefile},
	}
	for _, p := range paths {
		if !changed(p.flag) {
			continue
		}
		if *p.target, err = config.ResolvePath(p.value, wd); err != nil {
			return fmt.Errorf("--%s: %w", p.flag, err)
		}
	}

	// a region flag replaces whatever region the document selected
	switch {
	case changed("bbox"):
		req.Intersects, req.GranuleIDs = "", nil
	case changed("intersects"):
		req.BoundingBox, req.GranuleIDs = nil, nil
	case changed("granule-id"):
		req.BoundingBox, req.Intersects = nil, ""
	}
	if changed("name") {
		req.JobName = strings.TrimSpace(r.name)
	}
	if changed("bbox") {
		bbox, err := parseBBox(r.bbox)
		if err != nil {
			return err
		}
		req.BoundingBox = bbox
	}
	if changed("date-range") {
		dates, err := config.ParseDateRange(r.dateRange)
		if err != nil {
			return err
		}
		req.DateRange = dates
	}
	if changed("months") {
		req.Filters.Months = r.months
	}
	if changed("cloud-cover-max") {
		value := r.cloudCoverMax
		req.Filters.CloudCoverMax = &value
	}
	if changed("spatial-coverage-min") {
		value := r.spatialCovMin
		req.Filters.SpatialCoverageMin = &value
	}
	if changed("same-day") {
		req.Filters.SameDay = r.sameDay
	}
	if changed("tile-id") {
		req.Filters.TileID = strings.TrimSpace(r.tileID)
	}
	if changed("granule-id") {
		req.GranuleIDs = r.granuleIDs
	}
	if changed("exclude-landsat9") {
		req.Filters.ExcludeLandsat9 = r.excludeLandsat9
	}
	if changed("do-not-download") {
		req.Execution.SkipDownload = r.skipDownload
	}
	if changed("do-not-process") {
		req.Execution.SkipProcess = r.skipProcess
	}
	if changed("download-workers") {
		req.Execution.DownloadWorkers = r.downloadWorkers
	}
	if changed("process-workers") {
		req.Execution.ProcessWorkers = r.processWorkers
	}
	if changed("stac-url") {
		req.Catalog.STACURL = strings.TrimSpace(r.stacURL)
	}
	if changed("collections") {
		req.Catalog.Collections = r.collections
	}
	if changed("process-bin") {
		req.Processing.Binary = strings.TrimSpace(r.processBin)
	}
	if changed("l30-bands") {
		req.Bands.L30 = trimmed(r.l30Bands)
	}
	if changed("s30-bands") {
		req.Bands.S30 = trimmed(r.s30Bands)
	}
	if r.jobDir != "" && !r.rerun {
		return errors.New("--job-dir requires --rerun")
	}
	return nil
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

// parseBBox accepts "W S E N" with spaces and/or commas between values.
func parseBBox(raw string) ([]float64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) != 4 {
		return nil, fmt.Errorf("--bbox %q must have four values W S E N", raw)
	}
	bbox := make([]float64, 0, 4)
	for _, field := range fields {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("--bbox value %q is not a number", field)
		}
		bbox = append(bbox, value)
	}
	return bbox, nil
}

func defaultController(app *AppContext, req config.Request, logger zerolog.Logger, emitter output.EventEmitter) (*engine.Controller, error) {
	creds, err := auth.ResolveEarthdataCredentials()
	if err != nil {
		logger.Warn().Err(err).Msg("continuing without Earthdata credentials; protected assets will fail")
	}
	httpOpts := fetch.DefaultHTTPOptions()
	httpOpts.Credentials = creds
	httpOpts.UserAgent = "hlsscale/" + app.buildVersion()

	fetcher, err := fetch.New(fetch.DefaultOptions(), httpOpts, fetch.DefaultS3Options(), logger)
	if err != nil {
		return nil, err
	}
	return &engine.Controller{
		Catalog:  catalog.NewSTACClient(catalog.DefaultOptions(), logger),
		Metadata: catalog.NewMetadataResolver(fetch.NewHTTPOpener(httpOpts), req.Execution.DownloadWorkers, logger),
		Fetcher:  fetcher,
		Registry: adapterRegistry(),
		Runner:   engine.NewSubprocessRunner(),
		Emitter:  emitter,
		Logger:   logger,
		Console:  output.NewLineWriter(app.IO.ErrOut),
	}, nil
}
