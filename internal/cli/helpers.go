package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jaa/hls-scaling/internal/adapters/command"
	"github.com/jaa/hls-scaling/internal/adapters/dswx"
	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/engine"
	"github.com/jaa/hls-scaling/internal/logging"
	"github.com/jaa/hls-scaling/internal/output"
)

func loadRequest(app *AppContext) (config.Request, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Request{}, fmt.Errorf("resolve working directory: %w", err)
	}

	req, err := config.Load(config.LoadOptions{
		ExplicitPath: strings.TrimSpace(app.Opts.RequestPath),
		WorkingDir:   wd,
	})
	if err != nil {
		return config.Request{}, err
	}
	return req, nil
}

func (app *AppContext) getenv(key string) string {
	if app.Getenv != nil {
		return app.Getenv(key)
	}
	return os.Getenv(key)
}

// newLogger writes diagnostics to stderr so stdout stays parseable in
// --json mode.
func newLogger(app *AppContext) (zerolog.Logger, error) {
	return logging.New(app.IO.ErrOut, logging.Options{
		Quiet:   app.Opts.Quiet,
		Verbose: app.Opts.Verbose,
		JSON:    app.Opts.JSON,
		Level:   app.getenv(logging.LevelEnv),
	})
}

func newEmitter(app *AppContext) output.EventEmitter {
	if app.Opts.JSON {
		return output.NewJSONEmitter(app.IO.Out)
	}
	return output.NewHumanEmitter(app.IO.Out, app.IO.ErrOut, app.Opts.Quiet, app.Opts.Verbose)
}

func adapterRegistry() map[string]engine.Adapter {
	registry := map[string]engine.Adapter{}
	for _, adapter := range []engine.Adapter{dswx.New(), command.New()} {
		registry[adapter.Kind()] = adapter
	}
	return registry
}
