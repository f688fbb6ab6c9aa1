package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/jobdir"
	"github.com/jaa/hls-scaling/internal/output"
	"github.com/jaa/hls-scaling/internal/runconfig"
	"github.com/jaa/hls-scaling/internal/study"
)

// Processor runs the external processing routine for every granule whose
// inputs are on disk and that has not been processed yet.
type Processor struct {
	Adapter    Adapter
	Runner     ExecRunner
	Template   *runconfig.Template
	Processing config.Processing
	Emitter    output.EventEmitter
	Logger     zerolog.Logger
	Now        func() time.Time
	// Console receives the routine's stderr, prefixed with the granule id,
	// when Verbose is set.
	Console *output.LineWriter
	Verbose bool
	// Abort kills routines that are already running.
	Abort context.Context
}

type processUnit struct {
	record granule.Record
}

// Run schedules eligible granules on a bounded pool. Canceling ctx stops
// scheduling; running routines finish and their outcome is persisted. The
// returned error is set only when the study state could not be persisted.
func (p *Processor) Run(ctx context.Context, store *study.Store, workers int) (*Report, error) {
	if err := p.defaults(); err != nil {
		return newReport(), err
	}
	report := newReport()
	snapshot := store.Snapshot()
	layout := jobdir.Layout{Root: store.Dir()}

	units := []processUnit{}
	for _, record := range snapshot.Granules {
		if Processable(snapshot.Progress[record.ID]) {
			units = append(units, processUnit{record: record})
		}
	}
	p.Logger.Debug().Int("granules", len(units)).Int("workers", workers).Msg("processing phase planned")

	scheduled, err := runPool(ctx, workers, units, func(unit processUnit) error {
		return p.processGranule(store, layout, unit.record, report)
	})
	report.Scheduled = scheduled
	report.Interrupted = ctx.Err() != nil && scheduled < len(units)
	return report, err
}

// Processable reports whether a granule is due for processing: every input
// is downloaded and no attempt has succeeded yet.
func Processable(progress study.GranuleProgress) bool {
	if !progress.State.HasInputs() || progress.State == study.GranuleProcessed {
		return false
	}
	for _, asset := range progress.Assets {
		if asset.State != study.AssetDownloaded {
			return false
		}
	}
	return len(progress.Assets) > 0
}

func (p *Processor) processGranule(store *study.Store, layout jobdir.Layout, record granule.Record, report *Report) error {
	id := record.ID
	if err := store.UpdateGranule(id, study.GranuleUpdate{State: study.GranuleProcessing}); err != nil {
		return fmt.Errorf("record processing start of %s: %w", id, err)
	}
	snapshot := store.Snapshot()
	attempt := snapshot.Progress[id].ProcessAttempts
	dirs := layout.Granule(record)
	logPath := filepath.Join(dirs.Root, fmt.Sprintf("processing.attempt-%d.log", attempt))

	p.emit(output.Event{
		Level:     output.LevelInfo,
		Event:     output.EventGranuleProcessing,
		GranuleID: id,
		Message:   fmt.Sprintf("[%s] processing (attempt %d)", id, attempt),
		Details:   map[string]any{"attempt": attempt, "log": logPath},
	})

	runErr := p.invoke(record, dirs, attempt, logPath)
	if runErr != nil {
		if err := store.UpdateGranule(id, study.GranuleUpdate{State: study.GranuleProcessingFailed, LogPath: logPath, Err: runErr}); err != nil {
			return fmt.Errorf("record processing failure of %s: %w", id, err)
		}
		report.record(id, func(o *Outcome) {
			o.State = study.GranuleProcessingFailed
			o.Failed = true
			o.LogPath = logPath
			o.Err = runErr.Error()
		})
		p.emit(output.Event{
			Level:     output.LevelError,
			Event:     output.EventGranuleFailed,
			GranuleID: id,
			Message:   fmt.Sprintf("[%s] processing failed: %v (log: %s)", id, runErr, logPath),
			Details:   map[string]any{"phase": "process", "attempt": attempt, "log": logPath},
		})
		return nil
	}

	if err := store.UpdateGranule(id, study.GranuleUpdate{State: study.GranuleProcessed, LogPath: logPath}); err != nil {
		return fmt.Errorf("record processing of %s: %w", id, err)
	}
	report.record(id, func(o *Outcome) {
		o.State = study.GranuleProcessed
		o.LogPath = logPath
	})
	p.emit(output.Event{
		Level:     output.LevelInfo,
		Event:     output.EventGranuleProcessed,
		GranuleID: id,
		Message:   fmt.Sprintf("[%s] processed", id),
		Details:   map[string]any{"attempt": attempt, "log": logPath},
	})
	return nil
}

// invoke prepares the granule directory and runs the routine once. Any
// output already in the output directory is left in place.
func (p *Processor) invoke(record granule.Record, dirs jobdir.GranuleDirs, attempt int, logPath string) error {
	if err := dirs.Ensure(); err != nil {
		return err
	}
	if err := clearDir(dirs.Scratch); err != nil {
		return err
	}

	productID, err := runconfig.ProductID(record, p.Now())
	if err != nil {
		return err
	}
	params := runconfig.ParamsFor(dirs, productID)
	params.DEMFile = p.Processing.DEMFile
	params.LandcoverFile = p.Processing.LandcoverFile
	params.WorldcoverFile = p.Processing.WorldcoverFile
	params.ShorelineShapefile = p.Processing.ShorelineShapefile
	rcPath, err := p.Template.Write(dirs, params)
	if err != nil {
		return err
	}

	spec, err := p.Adapter.BuildExecSpec(ProcessJob{
		Record:    record,
		Dirs:      dirs,
		Runconfig: rcPath,
		Attempt:   attempt,
	}, p.Processing)
	if err != nil {
		return fmt.Errorf("cannot build command: %w", err)
	}
	if spec.Timeout == 0 && p.Processing.TimeoutSeconds > 0 {
		spec.Timeout = time.Duration(p.Processing.TimeoutSeconds) * time.Second
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open processing log: %w", err)
	}
	defer logFile.Close()
	fmt.Fprintf(logFile, "# %s\n", spec.DisplayCommand)

	spec.Stdout = logFile
	spec.Stderr = logFile
	var console *output.PrefixWriter
	if p.Verbose && p.Console != nil {
		console = p.Console.Prefixed("[" + record.ID + "] ")
		spec.Stderr = io.MultiWriter(logFile, console)
	}

	result := p.Runner.Run(p.Abort, spec)
	if console != nil {
		_ = console.Flush()
	}
	if err := logFile.Sync(); err != nil {
		p.Logger.Warn().Err(err).Str("log", logPath).Msg("sync processing log")
	}
	p.Logger.Debug().Str("granule", record.ID).Int("exit_code", result.ExitCode).Dur("duration", result.Duration).Msg("processing routine finished")

	switch {
	case result.Interrupted:
		return fmt.Errorf("aborted after %s", result.Duration.Round(time.Second))
	case result.TimedOut:
		return fmt.Errorf("timed out after %s", spec.Timeout)
	case result.ExitCode != 0:
		if tail := lastLine(result.StderrTail); tail != "" {
			return fmt.Errorf("exit code %d: %s", result.ExitCode, tail)
		}
		return fmt.Errorf("exit code %d", result.ExitCode)
	}
	return nil
}

func (p *Processor) defaults() error {
	if p.Emitter == nil {
		p.Emitter = noOpEmitter{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Abort == nil {
		p.Abort = context.Background()
	}
	if p.Runner == nil {
		p.Runner = NewSubprocessRunner()
	}
	if p.Template == nil {
		tmpl, err := runconfig.LoadTemplate(p.Processing.RunconfigTemplate)
		if err != nil {
			return err
		}
		p.Template = tmpl
	}
	if p.Adapter == nil {
		return fmt.Errorf("no processing adapter for kind %q", p.Processing.Kind)
	}
	return nil
}

func (p *Processor) emit(event output.Event) {
	event.Timestamp = p.Now()
	_ = p.Emitter.Emit(event)
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	return nil
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
