package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jaa/hls-scaling/internal/catalog"
	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/jobdir"
)

var (
	// ErrInterrupted means a run stopped early on request. Everything that
	// completed before the stop is durable.
	ErrInterrupted = errors.New("run interrupted")
	// ErrAllGranulesFailed means not a single granule made it through the
	// phases that ran.
	ErrAllGranulesFailed = errors.New("every granule failed")
)

type ExecSpec struct {
	Bin            string
	Args           []string
	Dir            string
	Env            []string
	Timeout        time.Duration
	DisplayCommand string
	Stdout         io.Writer
	Stderr         io.Writer
}

type ExecResult struct {
	ExitCode    int
	Duration    time.Duration
	Interrupted bool
	TimedOut    bool
	StdoutTail  string
	StderrTail  string
	Err         error
}

// ProcessJob is everything an adapter needs to build the command for one
// granule. The runconfig has already been written when BuildExecSpec runs.
type ProcessJob struct {
	Record    granule.Record
	Dirs      jobdir.GranuleDirs
	Runconfig string
	Attempt   int
}

// Adapter turns a processing job into a command line for one external
// processing routine.
type Adapter interface {
	Kind() string
	Binary(p config.Processing) string
	Validate(p config.Processing) error
	BuildExecSpec(job ProcessJob, p config.Processing) (ExecSpec, error)
}

// Fetcher copies one remote asset to a local path. fetch.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, href string, dst string) (int64, error)
}

// MetadataEnricher resolves filter metadata the search response does not carry.
type MetadataEnricher interface {
	Enrich(ctx context.Context, records []granule.Record, needs catalog.Needs) ([]granule.Record, error)
}
