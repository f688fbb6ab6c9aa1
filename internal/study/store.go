package study

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/fileops"
	"github.com/jaa/hls-scaling/internal/granule"
)

var (
	writeFile = fileops.WriteFileAtomic
	readFile  = os.ReadFile
	newRunID  = uuid.NewString
)

// Store owns the study state of one job directory. All mutation goes
// through it; every update rewrites the whole document atomically while
// holding the store lock, so concurrent workers never interleave writes.
type Store struct {
	mu    sync.Mutex
	dir   string
	path  string
	state State
	now   func() time.Time
}

// Recovery lists what Load repaired after an unclean shutdown.
type Recovery struct {
	AssetsReset      int
	GranulesReverted int
}

func (r Recovery) Changed() bool {
	return r.AssetsReset > 0 || r.GranulesReverted > 0
}

// Create writes the initial state for a freshly allocated job directory:
// every granule queued and every asset pending.
func Create(jobDir string, req config.Request, records []granule.Record) (*Store, error) {
	state := State{
		Version:  SchemaVersion,
		Request:  cloneRequest(req),
		Granules: cloneRecords(records),
		Progress: make(map[string]GranuleProgress, len(records)),
	}
	for _, record := range records {
		if _, dup := state.Progress[record.ID]; dup {
			return nil, fmt.Errorf("granule %s is listed twice", record.ID)
		}
		progress := GranuleProgress{
			State:  GranuleQueued,
			Assets: make(map[string]AssetProgress, len(record.Assets)),
		}
		for _, asset := range record.Assets {
			progress.Assets[asset.ID] = AssetProgress{State: AssetPending}
		}
		state.Progress[record.ID] = progress
	}

	s := newStore(jobDir, state)
	if _, err := os.Stat(s.path); err == nil {
		return nil, fmt.Errorf("study state already exists in %s", jobDir)
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the state document of jobDir. A missing document yields
// ErrStateNotFound; anything unreadable or inconsistent yields
// *CorruptionError. Work interrupted by a crash is rolled back to the last
// terminal state and persisted before Load returns.
func Load(jobDir string) (*Store, Recovery, error) {
	path := filepath.Join(jobDir, StateFileName)
	payload, err := readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Recovery{}, fmt.Errorf("%w: %s", ErrStateNotFound, path)
		}
		return nil, Recovery{}, &CorruptionError{Path: path, Reason: "unreadable", Err: err}
	}

	state, err := decodeState(payload)
	if err != nil {
		return nil, Recovery{}, &CorruptionError{Path: path, Reason: "malformed document", Err: err}
	}
	if reason := checkConsistency(state); reason != "" {
		return nil, Recovery{}, &CorruptionError{Path: path, Reason: reason}
	}

	s := newStore(jobDir, state)
	recovery := s.recoverLocked()
	if recovery.Changed() {
		if err := s.persistLocked(); err != nil {
			return nil, recovery, err
		}
	}
	return s, recovery, nil
}

// Inspect reads the state document of jobDir without recovering it, so it
// is safe to call while another process is running the study.
func Inspect(jobDir string) (State, error) {
	path := filepath.Join(jobDir, StateFileName)
	payload, err := readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, fmt.Errorf("%w: %s", ErrStateNotFound, path)
		}
		return State{}, &CorruptionError{Path: path, Reason: "unreadable", Err: err}
	}
	state, err := decodeState(payload)
	if err != nil {
		return State{}, &CorruptionError{Path: path, Reason: "malformed document", Err: err}
	}
	if reason := checkConsistency(state); reason != "" {
		return State{}, &CorruptionError{Path: path, Reason: reason}
	}
	return state, nil
}

func newStore(jobDir string, state State) *Store {
	return &Store{
		dir:   jobDir,
		path:  filepath.Join(jobDir, StateFileName),
		state: state,
		now:   time.Now,
	}
}

func (s *Store) Dir() string  { return s.dir }
func (s *Store) Path() string { return s.path }

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Summary()
}

// Save rewrites the document from the in-memory state.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

type AssetUpdate struct {
	State AssetState
	Path  string
	Err   error
}

// UpdateAsset records the outcome of one asset fetch, re-derives the owning
// granule state and persists. It returns the granule state after the update.
func (s *Store) UpdateAsset(granuleID string, assetID string, update AssetUpdate) (GranuleState, error) {
	if !update.State.valid() {
		return "", fmt.Errorf("unknown asset state %q", update.State)
	}
	if update.State == AssetDownloaded && update.Path == "" {
		return "", fmt.Errorf("asset %s/%s marked downloaded without a path", granuleID, assetID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	progress, ok := s.state.Progress[granuleID]
	if !ok {
		return "", fmt.Errorf("unknown granule %s", granuleID)
	}
	asset, ok := progress.Assets[assetID]
	if !ok {
		return "", fmt.Errorf("granule %s has no asset %s", granuleID, assetID)
	}
	if progress.State.HasInputs() {
		return "", &TransitionError{GranuleID: granuleID, From: progress.State, To: "asset " + string(update.State)}
	}

	previous := progress.clone()
	next := progress.clone()

	asset.State = update.State
	asset.Error = ""
	switch update.State {
	case AssetDownloading:
		asset.Attempts++
	case AssetDownloaded:
		asset.Path = update.Path
	case AssetFailed:
		if update.Err != nil {
			asset.Error = update.Err.Error()
		}
	case AssetPending:
		asset.Path = ""
	}
	next.Assets[assetID] = asset
	next.State = deriveDownloadState(next.Assets)

	s.state.Progress[granuleID] = next
	if err := s.persistLocked(); err != nil {
		s.state.Progress[granuleID] = previous
		return previous.State, err
	}
	return next.State, nil
}

type GranuleUpdate struct {
	State   GranuleState
	LogPath string
	Err     error
}

// UpdateGranule moves a granule through the processing half of its
// lifecycle. Processing may only start once every asset is downloaded.
func (s *Store) UpdateGranule(granuleID string, update GranuleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress, ok := s.state.Progress[granuleID]
	if !ok {
		return fmt.Errorf("unknown granule %s", granuleID)
	}

	allowed := false
	switch update.State {
	case GranuleProcessing:
		allowed = progress.State.HasInputs() && allDownloaded(progress.Assets)
	case GranuleProcessed, GranuleProcessingFailed:
		allowed = progress.State == GranuleProcessing
	}
	if !allowed {
		return &TransitionError{GranuleID: granuleID, From: progress.State, To: string(update.State)}
	}

	previous := progress.clone()
	next := progress.clone()
	next.State = update.State
	next.Error = ""
	if update.State == GranuleProcessing {
		next.ProcessAttempts++
	}
	if update.LogPath != "" {
		next.LogPath = update.LogPath
	}
	if update.Err != nil {
		next.Error = update.Err.Error()
	}

	s.state.Progress[granuleID] = next
	if err := s.persistLocked(); err != nil {
		s.state.Progress[granuleID] = previous
		return err
	}
	return nil
}

// BeginRun appends an invocation record to the run history and persists it.
func (s *Store) BeginRun(mode string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := Run{ID: newRunID(), Mode: mode, StartedAt: s.now().UTC().Truncate(time.Second)}
	s.state.Runs = append(s.state.Runs, run)
	if err := s.persistLocked(); err != nil {
		s.state.Runs = s.state.Runs[:len(s.state.Runs)-1]
		return Run{}, err
	}
	return run, nil
}

// recoverLocked rolls back units that were in flight when the previous
// process died: downloading assets become pending again and processing
// granules return to downloaded.
func (s *Store) recoverLocked() Recovery {
	var recovery Recovery
	for id, progress := range s.state.Progress {
		changed := false
		for assetID, asset := range progress.Assets {
			if asset.State == AssetDownloading {
				asset.State = AssetPending
				asset.Path = ""
				progress.Assets[assetID] = asset
				recovery.AssetsReset++
				changed = true
			}
		}
		switch {
		case progress.State == GranuleProcessing:
			progress.State = GranuleDownloaded
			recovery.GranulesReverted++
			changed = true
		case changed && !progress.State.HasInputs():
			progress.State = deriveDownloadState(progress.Assets)
		}
		if changed {
			s.state.Progress[id] = progress
		}
	}
	return recovery
}

func (s *Store) persistLocked() error {
	payload, err := encodeState(s.state)
	if err != nil {
		return err
	}
	if err := writeFile(s.path, payload, 0o644); err != nil {
		return fmt.Errorf("persist study state: %w", err)
	}
	return nil
}

func deriveDownloadState(assets map[string]AssetProgress) GranuleState {
	if allDownloaded(assets) {
		return GranuleDownloaded
	}
	for _, asset := range assets {
		if asset.State == AssetDownloading {
			return GranuleDownloading
		}
	}
	return GranuleQueued
}

func allDownloaded(assets map[string]AssetProgress) bool {
	if len(assets) == 0 {
		return false
	}
	for _, asset := range assets {
		if asset.State != AssetDownloaded {
			return false
		}
	}
	return true
}

func encodeState(state State) ([]byte, error) {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode study state: %w", err)
	}
	return append(payload, '\n'), nil
}

func decodeState(payload []byte) (State, error) {
	var state State
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&state); err != nil {
		return State{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return State{}, fmt.Errorf("trailing data after study state")
	}
	return state, nil
}

func checkConsistency(state State) string {
	if state.Version != SchemaVersion {
		return fmt.Sprintf("unsupported version %d", state.Version)
	}
	if state.Progress == nil {
		return "missing progress map"
	}
	seen := make(map[string]struct{}, len(state.Granules))
	for _, record := range state.Granules {
		if record.ID == "" {
			return "granule with empty id"
		}
		if _, dup := seen[record.ID]; dup {
			return fmt.Sprintf("granule %s is listed twice", record.ID)
		}
		seen[record.ID] = struct{}{}

		progress, ok := state.Progress[record.ID]
		if !ok {
			return fmt.Sprintf("granule %s has no progress entry", record.ID)
		}
		if !progress.State.valid() {
			return fmt.Sprintf("granule %s has unknown state %q", record.ID, progress.State)
		}
		if len(progress.Assets) != len(record.Assets) {
			return fmt.Sprintf("granule %s tracks %d assets, record has %d", record.ID, len(progress.Assets), len(record.Assets))
		}
		for _, asset := range record.Assets {
			p, ok := progress.Assets[asset.ID]
			if !ok {
				return fmt.Sprintf("granule %s has no progress for asset %s", record.ID, asset.ID)
			}
			if !p.State.valid() {
				return fmt.Sprintf("granule %s asset %s has unknown state %q", record.ID, asset.ID, p.State)
			}
			if p.State == AssetDownloaded && p.Path == "" {
				return fmt.Sprintf("granule %s asset %s is downloaded without a path", record.ID, asset.ID)
			}
		}
		if progress.State.HasInputs() != allDownloaded(progress.Assets) {
			return fmt.Sprintf("granule %s is %s but its assets disagree", record.ID, progress.State)
		}
	}
	for id := range state.Progress {
		if _, ok := seen[id]; !ok {
			return fmt.Sprintf("progress entry %s has no granule record", id)
		}
	}
	return ""
}
