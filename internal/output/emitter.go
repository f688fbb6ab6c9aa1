package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

type EventEmitter interface {
	Emit(event Event) error
}

// JSONEmitter writes one event per line. It is safe for concurrent use.
type JSONEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONEmitter(w io.Writer) *JSONEmitter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONEmitter{enc: enc}
}

func (e *JSONEmitter) Emit(event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(event)
}

// HumanEmitter prints progress to stdout and problems to stderr. Quiet keeps
// errors and the final summary; verbose adds per-granule start lines and
// per-asset failures.
type HumanEmitter struct {
	mu      sync.Mutex
	stdout  io.Writer
	stderr  io.Writer
	quiet   bool
	verbose bool
}

func NewHumanEmitter(stdout, stderr io.Writer, quiet, verbose bool) *HumanEmitter {
	return &HumanEmitter{stdout: stdout, stderr: stderr, quiet: quiet, verbose: verbose}
}

func (e *HumanEmitter) Emit(event Event) error {
	w, line, ok := e.render(event)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintln(w, line)
	return err
}

func (e *HumanEmitter) render(event Event) (io.Writer, string, bool) {
	line := event.Message
	if line == "" {
		line = string(event.Event)
	}
	if !e.verbose && isProgressDetail(event.Event) {
		return nil, "", false
	}

	switch event.Level {
	case LevelError:
		return e.stderr, "ERROR: " + line, true
	case LevelWarn:
		if e.quiet && event.Event != EventRunFinished {
			return nil, "", false
		}
		return e.stderr, "WARN: " + line, true
	}
	if e.quiet && event.Event != EventRunFinished {
		return nil, "", false
	}
	if event.Event == EventPhase {
		line = "==> " + line
	}
	return e.stdout, line, true
}

// isProgressDetail marks events only verbose output shows.
func isProgressDetail(name EventName) bool {
	switch name {
	case EventGranuleDownloading, EventGranuleProcessing, EventFilterStage, EventAssetFailed:
		return true
	}
	return false
}

// MultiEmitter fans every event out to each emitter, even when one fails.
type MultiEmitter struct {
	emitters []EventEmitter
}

func NewMultiEmitter(emitters ...EventEmitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (e *MultiEmitter) Emit(event Event) error {
	var errs []error
	for _, emitter := range e.emitters {
		if err := emitter.Emit(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
