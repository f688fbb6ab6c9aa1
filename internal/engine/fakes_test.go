package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/output"
	"github.com/jaa/hls-scaling/internal/study"
	"github.com/jaa/hls-scaling/internal/testutil/hlsfixture"
)

const testBaseURL = "https://data.test/lp-prod-protected"

// fakeFetcher writes the href as file content. Hrefs listed in fail always
// fail; onFetch runs before every fetch with the 1-based call number.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	hrefs   map[string]int
	fail    map[string]bool
	onFetch func(ctx context.Context, call int) error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{hrefs: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, href string, dst string) (int64, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.hrefs[href]++
	failing := f.fail[href]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return 0, err
		}
	}
	if failing {
		return 0, errors.New("status 404")
	}
	if err := os.WriteFile(dst, []byte(href), 0o644); err != nil {
		return 0, err
	}
	return int64(len(href)), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// maxRepeat returns the most times any single href was fetched.
func (f *fakeFetcher) maxRepeat() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	most := 0
	for _, n := range f.hrefs {
		most = max(most, n)
	}
	return most
}

type fakeAdapter struct{}

func (fakeAdapter) Kind() string                     { return config.ProcessingDSWx }
func (fakeAdapter) Binary(config.Processing) string  { return "fake-dswx" }
func (fakeAdapter) Validate(config.Processing) error { return nil }
func (fakeAdapter) BuildExecSpec(job ProcessJob, p config.Processing) (ExecSpec, error) {
	return ExecSpec{
		Bin:            "fake-dswx",
		Args:           []string{job.Runconfig},
		Dir:            job.Dirs.Root,
		Env:            []string{"GRANULE=" + job.Record.ID},
		DisplayCommand: "fake-dswx " + job.Record.ID,
	}, nil
}

// fakeRunner succeeds unless the granule is listed in exitCodes. A canceled
// context reports an interrupted routine.
type fakeRunner struct {
	mu        sync.Mutex
	runs      []string
	specs     []ExecSpec
	exitCodes map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{exitCodes: map[string]int{}}
}

func (r *fakeRunner) Run(ctx context.Context, spec ExecSpec) ExecResult {
	id := strings.TrimPrefix(spec.Env[0], "GRANULE=")
	r.mu.Lock()
	r.runs = append(r.runs, id)
	r.specs = append(r.specs, spec)
	code := r.exitCodes[id]
	r.mu.Unlock()

	if ctx.Err() != nil {
		return ExecResult{ExitCode: 130, Interrupted: true}
	}
	fmt.Fprintf(spec.Stdout, "processing %s\n", id)
	if code != 0 {
		fmt.Fprintln(spec.Stderr, "reading inputs")
		fmt.Fprintln(spec.Stderr, "fatal: Fmask layer unreadable")
		return ExecResult{ExitCode: code, StderrTail: "reading inputs\nfatal: Fmask layer unreadable\n"}
	}
	return ExecResult{ExitCode: 0}
}

func (r *fakeRunner) granules() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []output.Event
}

func (e *recordingEmitter) Emit(event output.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) named(name output.EventName) []output.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []output.Event{}
	for _, event := range e.events {
		if event.Event == name {
			out = append(out, event)
		}
	}
	return out
}

// pairedRecords returns the three L30/S30 pairs the scenario filters keep.
func pairedRecords() []granule.Record {
	records := []granule.Record{}
	for n, offset := range []int{20, 25, 30} {
		records = append(records,
			hlsfixture.Record(testBaseURL, granule.SensorL30, "11TPJ", offset, 19*3600+n, 10, 90),
			hlsfixture.Record(testBaseURL, granule.SensorS30, "11TPJ", offset, 19*3600+30+n, 12, 95),
		)
	}
	return records
}

func testRequest(t *testing.T) config.Request {
	t.Helper()
	req := config.DefaultRequest()
	req.RootDir = t.TempDir()
	req.JobName = "snake-river"
	req.BoundingBox = []float64{-120, 43, -118, 48}
	req.DateRange = config.DateRange{Start: "2021-07-15", End: "2021-08-14"}
	cloud, spatial := 30.0, 40.0
	req.Filters = config.Filters{
		Months:             []string{"Aug"},
		CloudCoverMax:      &cloud,
		SpatialCoverageMin: &spatial,
		SameDay:            true,
	}
	req.Execution.DownloadWorkers = 3
	req.Execution.ProcessWorkers = 2
	return req
}

func newTestStore(t *testing.T, records []granule.Record) *study.Store {
	t.Helper()
	store, err := study.Create(t.TempDir(), testRequest(t), records)
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	return store
}
