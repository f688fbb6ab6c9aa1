package engine

import (
	"iter"
	"sync"

	"github.com/jaa/hls-scaling/internal/study"
)

// Outcome is the terminal result of one granule in one phase.
type Outcome struct {
	State study.GranuleState
	// Failed reports whether the granule ended the phase in a failed state.
	Failed bool
	// Assets counts the assets fetched by this run.
	Assets int
	Bytes  int64
	// LogPath is the processing log of the attempt, when one ran.
	LogPath string
	Err     string
}

// Report collects per-granule outcomes of one orchestrator run in the order
// granules reached a terminal state.
type Report struct {
	mu       sync.Mutex
	order    []string
	outcomes map[string]Outcome

	Scheduled   int
	Interrupted bool
}

func newReport() *Report {
	return &Report{outcomes: map[string]Outcome{}}
}

func (r *Report) record(granuleID string, update func(*Outcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome, seen := r.outcomes[granuleID]
	if !seen {
		r.order = append(r.order, granuleID)
	}
	update(&outcome)
	r.outcomes[granuleID] = outcome
}

// All yields every granule the run touched with its outcome.
func (r *Report) All() iter.Seq2[string, Outcome] {
	r.mu.Lock()
	order := append([]string(nil), r.order...)
	outcomes := make(map[string]Outcome, len(r.outcomes))
	for id, outcome := range r.outcomes {
		outcomes[id] = outcome
	}
	r.mu.Unlock()

	return func(yield func(string, Outcome) bool) {
		for _, id := range order {
			if !yield(id, outcomes[id]) {
				return
			}
		}
	}
}

func (r *Report) Outcome(granuleID string) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome, ok := r.outcomes[granuleID]
	return outcome, ok
}

func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Counts returns how many touched granules succeeded and failed.
func (r *Report) Counts() (succeeded int, failed int) {
	for _, outcome := range r.All() {
		if outcome.Failed {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}
