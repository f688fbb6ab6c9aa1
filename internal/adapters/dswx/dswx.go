// Package dswx runs the DSWx-HLS workflow script on one granule.
package dswx

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/engine"
)

const (
	defaultBinary = "dswx_hls.py"
	// LogFileName is the routine's own log, separate from the captured
	// stdout/stderr log of each attempt.
	LogFileName = "dswx_hls.log"
)

type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Kind() string {
	return config.ProcessingDSWx
}

func (a *Adapter) Binary(p config.Processing) string {
	if bin := strings.TrimSpace(p.Binary); bin != "" {
		return bin
	}
	return defaultBinary
}

func (a *Adapter) Validate(p config.Processing) error {
	if p.Kind != "" && p.Kind != a.Kind() {
		return errors.New("dswx adapter only supports processing.kind " + a.Kind())
	}
	return nil
}

// BuildExecSpec runs `dswx_hls.py <runconfig> --log-file <granule>/dswx_hls.log`
// from the granule directory.
func (a *Adapter) BuildExecSpec(job engine.ProcessJob, p config.Processing) (engine.ExecSpec, error) {
	if strings.TrimSpace(job.Runconfig) == "" {
		return engine.ExecSpec{}, errors.New("missing runconfig path")
	}
	bin, err := config.ExpandPath(a.Binary(p))
	if err != nil {
		return engine.ExecSpec{}, err
	}

	args := []string{job.Runconfig, "--log-file", filepath.Join(job.Dirs.Root, LogFileName)}
	args = append(args, p.ExtraArgs...)

	return engine.ExecSpec{
		Bin:            bin,
		Args:           args,
		Dir:            job.Dirs.Root,
		Timeout:        time.Duration(p.TimeoutSeconds) * time.Second,
		DisplayCommand: formatCommand(bin, args),
	}, nil
}

func formatCommand(bin string, args []string) string {
	parts := []string{bin}
	parts = append(parts, args...)
	return strings.Join(parts, " ")
}
