package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaa/hls-scaling/internal/catalog"
	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/fileops"
	"github.com/jaa/hls-scaling/internal/filter"
	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/jobdir"
	"github.com/jaa/hls-scaling/internal/output"
	"github.com/jaa/hls-scaling/internal/runconfig"
	"github.com/jaa/hls-scaling/internal/study"
)

type Phase string

const (
	PhaseFresh       Phase = "fresh"
	PhaseResumed     Phase = "resumed"
	PhaseQueried     Phase = "queried"
	PhaseFiltered    Phase = "filtered"
	PhasePersisted   Phase = "persisted"
	PhaseDownloading Phase = "downloading"
	PhaseProcessing  Phase = "processing"
	PhaseDone        Phase = "done"
)

const (
	RunModeFresh = "fresh"
	RunModeRerun = "rerun"
)

// RerunError reports a resume request whose job directory lacks the
// artifacts a resume needs.
type RerunError struct {
	JobDir string
	Err    error
}

func (e *RerunError) Error() string {
	return fmt.Sprintf("cannot resume %s: %v", e.JobDir, e.Err)
}

func (e *RerunError) Unwrap() error {
	return e.Err
}

// Controller drives one study through its lifecycle:
// fresh -> queried -> filtered -> persisted -> downloading -> processing -> done,
// or resumed -> downloading -> processing -> done for a rerun.
type Controller struct {
	Catalog  catalog.Searcher
	Metadata MetadataEnricher
	Fetcher  Fetcher
	Registry map[string]Adapter
	Runner   ExecRunner
	Template *runconfig.Template
	Emitter  output.EventEmitter
	Logger   zerolog.Logger
	Console  *output.LineWriter
	Now      func() time.Time
}

type RunOptions struct {
	Rerun bool
	// JobDir selects the study to resume. Empty means root_dir/job_name.
	JobDir string
	// Abort is canceled on a hard stop. In-flight downloads and routines
	// run under it; the ctx passed to Run only gates scheduling.
	Abort context.Context
}

type RunResult struct {
	JobDir      string
	RunID       string
	Phase       Phase
	Found       int
	Selected    int
	Stages      []filter.Stage
	Recovery    study.Recovery
	Downloads   *Report
	Processing  *Report
	Summary     study.Summary
	Interrupted bool
}

func (c *Controller) Run(ctx context.Context, req config.Request, opts RunOptions) (RunResult, error) {
	c.defaults()
	if opts.Abort == nil {
		opts.Abort = context.Background()
	}

	var (
		store  *study.Store
		result RunResult
		err    error
	)
	if opts.Rerun {
		store, req, result, err = c.resume(req, opts)
	} else {
		store, result, err = c.fresh(ctx, req)
	}
	if err != nil {
		return result, err
	}

	mode := RunModeFresh
	if opts.Rerun {
		mode = RunModeRerun
	}
	run, err := store.BeginRun(mode)
	if err != nil {
		return result, err
	}
	result.RunID = run.ID
	c.Logger.Debug().Str("run_id", run.ID).Str("mode", mode).Str("job_dir", store.Dir()).Msg("run recorded")

	if !req.Execution.SkipDownload && ctx.Err() == nil {
		result.Phase = PhaseDownloading
		c.emitPhase(result.Phase, "")
		downloader := &Downloader{
			Fetcher: c.Fetcher,
			Emitter: c.Emitter,
			Logger:  c.Logger,
			Now:     c.Now,
			Abort:   opts.Abort,
		}
		result.Downloads, err = downloader.Run(ctx, store, req.Execution.DownloadWorkers)
		if err != nil {
			return c.finish(store, result, err)
		}
	}

	if !req.Execution.SkipProcess && ctx.Err() == nil {
		result.Phase = PhaseProcessing
		c.emitPhase(result.Phase, "")
		adapter, ok := c.Registry[req.Processing.Kind]
		if !ok {
			return c.finish(store, result, fmt.Errorf("processing adapter %q not registered", req.Processing.Kind))
		}
		processor := &Processor{
			Adapter:    adapter,
			Runner:     c.Runner,
			Template:   c.Template,
			Processing: req.Processing,
			Emitter:    c.Emitter,
			Logger:     c.Logger,
			Now:        c.Now,
			Console:    c.Console,
			Verbose:    req.Execution.Verbose,
			Abort:      opts.Abort,
		}
		result.Processing, err = processor.Run(ctx, store, req.Execution.ProcessWorkers)
		if err != nil {
			return c.finish(store, result, err)
		}
	}

	result.Interrupted = ctx.Err() != nil
	return c.finish(store, result, nil)
}

// fresh queries the catalog, filters the results and persists a new study.
// Nothing is written before the filtered set is known.
func (c *Controller) fresh(ctx context.Context, req config.Request) (*study.Store, RunResult, error) {
	result := RunResult{Phase: PhaseFresh}
	c.emit(output.Event{
		Level:   output.LevelInfo,
		Event:   output.EventRunStarted,
		Message: fmt.Sprintf("starting study %s", req.JobName),
		Details: map[string]any{"mode": RunModeFresh, "root_dir": req.RootDir},
	})

	predicates, err := req.Filters.Predicates()
	if err != nil {
		return nil, result, err
	}
	if err := predicates.Validate(); err != nil {
		return nil, result, err
	}
	query, err := catalog.QueryFor(req)
	if err != nil {
		return nil, result, err
	}

	records, err := c.Catalog.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, result, ErrInterrupted
		}
		return nil, result, err
	}
	result.Phase = PhaseQueried
	result.Found = len(records)
	c.emit(output.Event{
		Level:   output.LevelInfo,
		Event:   output.EventQueryFinished,
		Message: fmt.Sprintf("catalog returned %d granule(s)", len(records)),
		Details: map[string]any{"granules": len(records)},
	})

	selected, stages, err := c.filter(ctx, records, predicates)
	if err != nil {
		if ctx.Err() != nil {
			return nil, result, ErrInterrupted
		}
		return nil, result, err
	}
	result.Phase = PhaseFiltered
	result.Stages = stages
	result.Selected = len(selected)
	for _, stage := range stages {
		c.emit(output.Event{
			Level:   output.LevelInfo,
			Event:   output.EventFilterStage,
			Message: fmt.Sprintf("%d granule(s) after %s", stage.Remaining, stage.Name),
			Details: map[string]any{"stage": stage.Name, "remaining": stage.Remaining},
		})
	}
	if len(selected) == 0 {
		return nil, result, catalog.ErrNoGranules
	}
	if ctx.Err() != nil {
		return nil, result, ErrInterrupted
	}

	jobDir, err := jobdir.Allocate(req.RootDir, req.JobName)
	if err != nil {
		return nil, result, err
	}
	result.JobDir = jobDir
	if req, err = study.CopyRegion(jobDir, req); err != nil {
		return nil, result, err
	}
	if err := study.WriteSettings(jobDir, req); err != nil {
		return nil, result, err
	}
	store, err := study.Create(jobDir, req, selected)
	if err != nil {
		return nil, result, err
	}
	if err := study.WriteExports(jobDir, selected); err != nil {
		return nil, result, err
	}
	result.Phase = PhasePersisted
	c.emit(output.Event{
		Level:   output.LevelInfo,
		Event:   output.EventStudyPersisted,
		Message: fmt.Sprintf("%d granule(s) selected; study saved in %s", len(selected), jobDir),
		Details: map[string]any{"job_dir": jobDir, "granules": len(selected)},
	})
	return store, result, nil
}

// filter applies the predicates. When coverage or product metadata is
// needed, the cheap predicates run first so metadata is fetched only for
// granules that can still qualify.
func (c *Controller) filter(ctx context.Context, records []granule.Record, p filter.Predicates) ([]granule.Record, []filter.Stage, error) {
	needs := catalog.Needs{
		CloudCover:       p.CloudCoverMax != nil,
		SpatialCoverage:  p.SpatialCoverageMin != nil,
		LandsatProductID: p.ExcludeLandsat9,
	}
	if !needs.Any() || c.Metadata == nil {
		return filter.Trace(records, p)
	}

	cheap := p
	cheap.CloudCoverMax = nil
	cheap.SpatialCoverageMin = nil
	cheap.ExcludeLandsat9 = false
	candidates, err := filter.Apply(records, cheap)
	if err != nil {
		return nil, nil, err
	}
	enriched, err := c.Metadata.Enrich(ctx, candidates, needs)
	if err != nil {
		return nil, nil, err
	}
	return filter.Trace(enriched, p)
}

// resume reopens an existing study. The query, filters and processing setup
// come from the job directory; execution flags come from the caller.
func (c *Controller) resume(req config.Request, opts RunOptions) (*study.Store, config.Request, RunResult, error) {
	jobDir := opts.JobDir
	if jobDir == "" {
		jobDir = filepath.Join(req.RootDir, req.JobName)
	}
	result := RunResult{Phase: PhaseResumed, JobDir: jobDir}
	c.emit(output.Event{
		Level:   output.LevelInfo,
		Event:   output.EventRunStarted,
		Message: fmt.Sprintf("resuming study in %s", jobDir),
		Details: map[string]any{"mode": RunModeRerun, "job_dir": jobDir},
	})

	settings, err := study.LoadSettings(jobDir)
	if err != nil {
		if errors.Is(err, study.ErrSettingsNotFound) {
			return nil, req, result, &RerunError{JobDir: jobDir, Err: err}
		}
		return nil, req, result, err
	}
	store, recovery, err := study.Load(jobDir)
	if err != nil {
		if errors.Is(err, study.ErrStateNotFound) {
			return nil, req, result, &RerunError{JobDir: jobDir, Err: err}
		}
		return nil, req, result, err
	}
	result.Recovery = recovery

	snapshot := store.Snapshot()
	if !sameQuery(settings, snapshot.Request) {
		return nil, req, result, &study.CorruptionError{
			Path:   store.Path(),
			Reason: "settings document does not match the recorded study",
		}
	}

	resumed := settings
	resumed.Execution = req.Execution
	resumed.RootDir = filepath.Dir(jobDir)
	resumed.JobName = filepath.Base(jobDir)

	removed := 0
	layout := jobdir.Layout{Root: jobDir}
	for _, record := range snapshot.Granules {
		paths, err := fileops.RemoveStaleTemps(layout.Granule(record).Input)
		if err != nil {
			c.Logger.Warn().Err(err).Str("granule", record.ID).Msg("stale temp cleanup failed")
			continue
		}
		removed += len(paths)
	}

	summary := snapshot.Summary()
	result.Selected = summary.Granules
	c.emit(output.Event{
		Level:   output.LevelInfo,
		Event:   output.EventStudyResumed,
		Message: fmt.Sprintf("resumed %d granule(s): %d downloaded, %d processed", summary.Granules, summary.Downloaded, summary.Processed),
		Details: map[string]any{
			"job_dir":           jobDir,
			"granules":          summary.Granules,
			"downloaded":        summary.Downloaded,
			"processed":         summary.Processed,
			"assets_reset":      recovery.AssetsReset,
			"granules_reverted": recovery.GranulesReverted,
			"temps_removed":     removed,
		},
	})
	return store, resumed, result, nil
}

func sameQuery(a, b config.Request) bool {
	key := func(r config.Request) config.Request {
		return config.Request{
			Catalog:     r.Catalog,
			GranuleIDs:  r.GranuleIDs,
			BoundingBox: r.BoundingBox,
			Intersects:  r.Intersects,
			DateRange:   r.DateRange,
			Filters:     r.Filters,
			Bands:       r.Bands,
		}
	}
	left, errA := config.EncodeSettings(key(a))
	right, errB := config.EncodeSettings(key(b))
	return errA == nil && errB == nil && bytes.Equal(left, right)
}

// finish records the final summary. An error from a phase wins; otherwise
// an interrupted run yields ErrInterrupted and a run where every granule
// failed yields ErrAllGranulesFailed.
func (c *Controller) finish(store *study.Store, result RunResult, phaseErr error) (RunResult, error) {
	result.Phase = PhaseDone
	result.JobDir = store.Dir()
	if err := store.Save(); err != nil && phaseErr == nil {
		phaseErr = err
	}
	result.Summary = store.Summary()
	sum := result.Summary

	level := output.LevelInfo
	switch {
	case phaseErr != nil:
		level = output.LevelError
	case result.Interrupted:
		level = output.LevelWarn
	}
	c.emit(output.Event{
		Level: level,
		Event: output.EventRunFinished,
		Message: fmt.Sprintf("downloaded=%d failed-download=%d processed=%d failed-process=%d (of %d)",
			sum.Downloaded, sum.DownloadFailed, sum.Processed, sum.ProcessFailed, sum.Granules),
		Details: map[string]any{
			"job_dir":         result.JobDir,
			"granules":        sum.Granules,
			"downloaded":      sum.Downloaded,
			"failed_download": sum.DownloadFailed,
			"processed":       sum.Processed,
			"failed_process":  sum.ProcessFailed,
			"interrupted":     result.Interrupted,
		},
	})

	switch {
	case phaseErr != nil:
		return result, phaseErr
	case result.Interrupted:
		return result, ErrInterrupted
	case allFailed(store.Snapshot()):
		return result, ErrAllGranulesFailed
	}
	return result, nil
}

// allFailed reports whether every granule ended in a failed state.
func allFailed(state study.State) bool {
	if len(state.Granules) == 0 {
		return false
	}
	for _, record := range state.Granules {
		progress := state.Progress[record.ID]
		if !progress.DownloadFailed() && progress.State != study.GranuleProcessingFailed {
			return false
		}
	}
	return true
}

func (c *Controller) defaults() {
	if c.Emitter == nil {
		c.Emitter = noOpEmitter{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Runner == nil {
		c.Runner = NewSubprocessRunner()
	}
}

func (c *Controller) emitPhase(phase Phase, message string) {
	if message == "" {
		message = fmt.Sprintf("phase: %s", phase)
	}
	c.emit(output.Event{
		Level:   output.LevelInfo,
		Event:   output.EventPhase,
		Message: message,
		Details: map[string]any{"phase": string(phase)},
	})
}

func (c *Controller) emit(event output.Event) {
	event.Timestamp = c.Now()
	_ = c.Emitter.Emit(event)
}
