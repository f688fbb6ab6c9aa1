package cli

import (
	"errors"
	"strings"

	"github.com/jaa/hls-scaling/internal/catalog"
	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/engine"
	"github.com/jaa/hls-scaling/internal/exitcode"
	"github.com/jaa/hls-scaling/internal/filter"
	"github.com/jaa/hls-scaling/internal/study"
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

func mapExitCode(err error) int {
	if err == nil {
		return exitcode.Success
	}
	var coded *ExitError
	if errors.As(err, &coded) {
		return coded.Code
	}
	message := err.Error()
	// cobra reports mutually exclusive flags without a typed error
	if strings.Contains(message, "unknown command") || strings.Contains(message, "unknown flag") ||
		strings.Contains(message, "none of the others can be") {
		return exitcode.InvalidUsage
	}
	return exitcode.RuntimeFailure
}

// runExitCode classifies a fatal error returned by a study run.
func runExitCode(err error) int {
	var (
		validationErr *config.ValidationError
		predicateErr  *filter.PredicateError
		rerunErr      *engine.RerunError
		corruptErr    *study.CorruptionError
		queryErr      *catalog.QueryError
	)
	switch {
	case errors.Is(err, engine.ErrInterrupted):
		return exitcode.Interrupted
	case errors.As(err, &corruptErr):
		return exitcode.StateCorrupt
	case errors.As(err, &validationErr), errors.As(err, &predicateErr), errors.As(err, &rerunErr):
		return exitcode.InvalidConfig
	case errors.As(err, &queryErr), errors.Is(err, catalog.ErrNoGranules):
		return exitcode.CatalogFailure
	default:
		return exitcode.RuntimeFailure
	}
}
