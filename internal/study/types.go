package study

import (
	"errors"
	"fmt"
	"time"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/granule"
)

const (
	SchemaVersion = 1

	StateFileName       = "study_state.json"
	SettingsFileName    = "settings.yaml"
	GranuleListFileName = "filtered_granules.txt"
	URLListFileName     = "filtered_urls.txt"
	GranuleDirsFileName = "granule_dirs.txt"
)

type AssetState string

const (
	AssetPending     AssetState = "pending"
	AssetDownloading AssetState = "downloading"
	AssetDownloaded  AssetState = "downloaded"
	AssetFailed      AssetState = "failed"
)

func (s AssetState) valid() bool {
	switch s {
	case AssetPending, AssetDownloading, AssetDownloaded, AssetFailed:
		return true
	}
	return false
}

type GranuleState string

const (
	GranuleQueued           GranuleState = "queued"
	GranuleDownloading      GranuleState = "downloading"
	GranuleDownloaded       GranuleState = "downloaded"
	GranuleProcessing       GranuleState = "processing"
	GranuleProcessed        GranuleState = "processed"
	GranuleProcessingFailed GranuleState = "processing_failed"
)

func (s GranuleState) valid() bool {
	switch s {
	case GranuleQueued, GranuleDownloading, GranuleDownloaded, GranuleProcessing, GranuleProcessed, GranuleProcessingFailed:
		return true
	}
	return false
}

// HasInputs reports whether every asset of a granule in this state is on disk.
func (s GranuleState) HasInputs() bool {
	switch s {
	case GranuleDownloaded, GranuleProcessing, GranuleProcessed, GranuleProcessingFailed:
		return true
	}
	return false
}

type AssetProgress struct {
	State    AssetState `json:"state"`
	Path     string     `json:"path,omitempty"`
	Error    string     `json:"error,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
}

type GranuleProgress struct {
	State           GranuleState             `json:"state"`
	Assets          map[string]AssetProgress `json:"assets"`
	Error           string                   `json:"error,omitempty"`
	LogPath         string                   `json:"log_path,omitempty"`
	ProcessAttempts int                      `json:"process_attempts,omitempty"`
}

// DownloadFailed reports whether the granule is missing inputs because at
// least one fetch failed.
func (p GranuleProgress) DownloadFailed() bool {
	if p.State.HasInputs() {
		return false
	}
	for _, asset := range p.Assets {
		if asset.State == AssetFailed {
			return true
		}
	}
	return false
}

// Run records one controller invocation against the job directory.
type Run struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
}

// State is the durable aggregate of one study. Granules keep catalog order.
type State struct {
	Version  int                        `json:"version"`
	Request  config.Request             `json:"request"`
	Granules []granule.Record           `json:"granules"`
	Progress map[string]GranuleProgress `json:"progress"`
	Runs     []Run                      `json:"runs,omitempty"`
}

// Granule returns the record with the given id.
func (s State) Granule(id string) (granule.Record, bool) {
	for _, record := range s.Granules {
		if record.ID == id {
			return record, true
		}
	}
	return granule.Record{}, false
}

func (s State) clone() State {
	out := State{
		Version:  s.Version,
		Request:  cloneRequest(s.Request),
		Granules: cloneRecords(s.Granules),
		Progress: make(map[string]GranuleProgress, len(s.Progress)),
		Runs:     append([]Run(nil), s.Runs...),
	}
	for id, progress := range s.Progress {
		out.Progress[id] = progress.clone()
	}
	return out
}

func cloneRecords(records []granule.Record) []granule.Record {
	if len(records) == 0 {
		return nil
	}
	out := make([]granule.Record, len(records))
	for i, record := range records {
		out[i] = record.Clone()
	}
	return out
}

func (p GranuleProgress) clone() GranuleProgress {
	out := p
	out.Assets = make(map[string]AssetProgress, len(p.Assets))
	for id, asset := range p.Assets {
		out.Assets[id] = asset
	}
	return out
}

func cloneRequest(req config.Request) config.Request {
	out := req
	out.Catalog.Collections = append([]string(nil), req.Catalog.Collections...)
	out.GranuleIDs = append([]string(nil), req.GranuleIDs...)
	out.BoundingBox = append([]float64(nil), req.BoundingBox...)
	out.Filters.Months = append([]string(nil), req.Filters.Months...)
	if req.Filters.CloudCoverMax != nil {
		v := *req.Filters.CloudCoverMax
		out.Filters.CloudCoverMax = &v
	}
	if req.Filters.SpatialCoverageMin != nil {
		v := *req.Filters.SpatialCoverageMin
		out.Filters.SpatialCoverageMin = &v
	}
	out.Bands.L30 = append([]string(nil), req.Bands.L30...)
	out.Bands.S30 = append([]string(nil), req.Bands.S30...)
	out.Processing.ExtraArgs = append([]string(nil), req.Processing.ExtraArgs...)
	return out
}

// Summary counts granules by outcome.
type Summary struct {
	Granules       int
	Queued         int
	Downloaded     int
	DownloadFailed int
	Processed      int
	ProcessFailed  int
	AssetsPending  int
	AssetsFailed   int
	AssetsDone     int
}

func (s State) Summary() Summary {
	sum := Summary{Granules: len(s.Granules)}
	for _, record := range s.Granules {
		progress := s.Progress[record.ID]
		switch {
		case progress.State.HasInputs():
			sum.Downloaded++
		case progress.DownloadFailed():
			sum.DownloadFailed++
		default:
			sum.Queued++
		}
		switch progress.State {
		case GranuleProcessed:
			sum.Processed++
		case GranuleProcessingFailed:
			sum.ProcessFailed++
		}
		for _, asset := range progress.Assets {
			switch asset.State {
			case AssetDownloaded:
				sum.AssetsDone++
			case AssetFailed:
				sum.AssetsFailed++
			default:
				sum.AssetsPending++
			}
		}
	}
	return sum
}

var (
	// ErrStateNotFound means the job directory has no study state document.
	ErrStateNotFound = errors.New("study state not found")
	// ErrSettingsNotFound means the job directory has no settings document.
	ErrSettingsNotFound = errors.New("study settings not found")
)

// CorruptionError reports a state or settings document that exists but
// cannot be trusted.
type CorruptionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("study state %s is corrupt: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("study state %s is corrupt: %s", e.Path, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// TransitionError rejects an update that would break the granule lifecycle.
type TransitionError struct {
	GranuleID string
	From      GranuleState
	To        string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("granule %s cannot move from %s to %s", e.GranuleID, e.From, e.To)
}
