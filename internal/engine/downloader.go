package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/jobdir"
	"github.com/jaa/hls-scaling/internal/output"
	"github.com/jaa/hls-scaling/internal/study"
)

// Downloader fetches every missing asset of a study with a bounded pool.
type Downloader struct {
	Fetcher Fetcher
	Emitter output.EventEmitter
	Logger  zerolog.Logger
	Now     func() time.Time
	// Abort cancels fetches that are already running. When nil, a started
	// fetch always runs to completion.
	Abort context.Context
}

type assetUnit struct {
	record granule.Record
	asset  granule.Asset
}

// Run schedules every asset that is not yet downloaded, across every
// granule that does not yet have all of its inputs. Canceling ctx stops
// scheduling; fetches already started finish and are recorded. The returned
// error is set only when the study state could not be persisted.
func (d *Downloader) Run(ctx context.Context, store *study.Store, workers int) (*Report, error) {
	d.defaults()
	report := newReport()
	snapshot := store.Snapshot()
	layout := jobdir.Layout{Root: store.Dir()}

	units := []assetUnit{}
	for _, record := range snapshot.Granules {
		progress := snapshot.Progress[record.ID]
		if progress.State.HasInputs() {
			continue
		}
		for _, asset := range record.Assets {
			if progress.Assets[asset.ID].State == study.AssetDownloaded {
				continue
			}
			units = append(units, assetUnit{record: record, asset: asset})
		}
	}
	d.Logger.Debug().Int("assets", len(units)).Int("workers", workers).Msg("download phase planned")

	started := newStartTracker()
	scheduled, err := runPool(ctx, workers, units, func(unit assetUnit) error {
		return d.fetchAsset(store, layout, unit, started, report)
	})
	report.Scheduled = scheduled
	report.Interrupted = ctx.Err() != nil && scheduled < len(units)
	if err != nil {
		return report, err
	}

	final := store.Snapshot()
	for id := range report.All() {
		progress := final.Progress[id]
		report.record(id, func(o *Outcome) {
			o.State = progress.State
			o.Failed = progress.DownloadFailed()
			o.Err = firstAssetError(progress)
		})
		if progress.DownloadFailed() {
			d.emit(output.Event{
				Level:     output.LevelError,
				Event:     output.EventGranuleFailed,
				GranuleID: id,
				Message:   fmt.Sprintf("[%s] download failed: %s", id, firstAssetError(progress)),
				Details:   map[string]any{"phase": "download"},
			})
		}
	}
	return report, nil
}

func (d *Downloader) fetchAsset(store *study.Store, layout jobdir.Layout, unit assetUnit, started *startTracker, report *Report) error {
	id := unit.record.ID
	if _, err := store.UpdateAsset(id, unit.asset.ID, study.AssetUpdate{State: study.AssetDownloading}); err != nil {
		return fmt.Errorf("record download start of %s/%s: %w", id, unit.asset.ID, err)
	}
	if started.first(id) {
		d.emit(output.Event{
			Level:     output.LevelInfo,
			Event:     output.EventGranuleDownloading,
			GranuleID: id,
			Message:   fmt.Sprintf("[%s] downloading", id),
		})
	}

	dirs := layout.Granule(unit.record)
	path := layout.AssetPath(unit.record, unit.asset)
	var (
		n        int64
		fetchErr error
	)
	if err := dirs.Ensure(); err != nil {
		fetchErr = err
	} else {
		n, fetchErr = d.Fetcher.Fetch(d.Abort, unit.asset.Href, path)
	}

	if fetchErr != nil {
		if d.Abort.Err() != nil {
			fetchErr = fmt.Errorf("aborted: %w", fetchErr)
		}
		if _, err := store.UpdateAsset(id, unit.asset.ID, study.AssetUpdate{State: study.AssetFailed, Err: fetchErr}); err != nil {
			return fmt.Errorf("record download failure of %s/%s: %w", id, unit.asset.ID, err)
		}
		report.record(id, func(o *Outcome) {})
		d.Logger.Debug().Err(fetchErr).Str("granule", id).Str("asset", unit.asset.ID).Msg("asset fetch failed")
		d.emit(output.Event{
			Level:     output.LevelWarn,
			Event:     output.EventAssetFailed,
			GranuleID: id,
			Message:   fmt.Sprintf("[%s] asset %s failed: %v", id, unit.asset.ID, fetchErr),
			Details:   map[string]any{"asset": unit.asset.ID, "href": unit.asset.Href},
		})
		return nil
	}

	state, err := store.UpdateAsset(id, unit.asset.ID, study.AssetUpdate{State: study.AssetDownloaded, Path: path})
	if err != nil {
		return fmt.Errorf("record download of %s/%s: %w", id, unit.asset.ID, err)
	}
	report.record(id, func(o *Outcome) {
		o.Assets++
		o.Bytes += n
	})
	if state == study.GranuleDownloaded {
		d.emit(output.Event{
			Level:     output.LevelInfo,
			Event:     output.EventGranuleDownloaded,
			GranuleID: id,
			Message:   fmt.Sprintf("[%s] downloaded", id),
		})
	}
	return nil
}

func (d *Downloader) defaults() {
	if d.Emitter == nil {
		d.Emitter = noOpEmitter{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Abort == nil {
		d.Abort = context.Background()
	}
	if d.Fetcher == nil {
		d.Fetcher = missingFetcher{}
	}
}

func (d *Downloader) emit(event output.Event) {
	event.Timestamp = d.Now()
	_ = d.Emitter.Emit(event)
}

func firstAssetError(progress study.GranuleProgress) string {
	// map order is random; pick the lexically first failing asset
	var id, msg string
	for assetID, asset := range progress.Assets {
		if asset.State != study.AssetFailed {
			continue
		}
		if id == "" || assetID < id {
			id, msg = assetID, asset.Error
		}
	}
	if id == "" {
		return ""
	}
	return id + ": " + msg
}

type missingFetcher struct{}

func (missingFetcher) Fetch(context.Context, string, string) (int64, error) {
	return 0, errors.New("no fetcher configured")
}

type noOpEmitter struct{}

func (noOpEmitter) Emit(event output.Event) error {
	return nil
}

// startTracker remembers which granules already reported their first fetch.
type startTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newStartTracker() *startTracker {
	return &startTracker{seen: map[string]struct{}{}}
}

func (s *startTracker) first(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}
