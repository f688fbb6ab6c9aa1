// Package command runs an arbitrary per-granule processing binary.
//
// Arguments come from processing.extra_args with these placeholders
// expanded: {runconfig}, {granule_dir}, {input_dir}, {output_dir},
// {scratch_dir}, {granule_id} and {attempt}. Without extra_args the binary
// receives the runconfig path as its only argument.
package command

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/engine"
)

type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Kind() string {
	return config.ProcessingCustom
}

func (a *Adapter) Binary(p config.Processing) string {
	return strings.TrimSpace(p.Binary)
}

func (a *Adapter) Validate(p config.Processing) error {
	if a.Binary(p) == "" {
		return errors.New("processing.binary is required for the command adapter")
	}
	for _, arg := range p.ExtraArgs {
		if open := strings.Count(arg, "{"); open != strings.Count(arg, "}") {
			return errors.New("unbalanced placeholder in argument " + strconv.Quote(arg))
		}
	}
	return nil
}

func (a *Adapter) BuildExecSpec(job engine.ProcessJob, p config.Processing) (engine.ExecSpec, error) {
	if err := a.Validate(p); err != nil {
		return engine.ExecSpec{}, err
	}
	bin, err := config.ExpandPath(a.Binary(p))
	if err != nil {
		return engine.ExecSpec{}, err
	}

	replacer := strings.NewReplacer(
		"{runconfig}", job.Runconfig,
		"{granule_dir}", job.Dirs.Root,
		"{input_dir}", job.Dirs.Input,
		"{output_dir}", job.Dirs.Output,
		"{scratch_dir}", job.Dirs.Scratch,
		"{granule_id}", job.Record.ID,
		"{attempt}", strconv.Itoa(job.Attempt),
	)
	templateArgs := p.ExtraArgs
	if len(templateArgs) == 0 {
		templateArgs = []string{"{runconfig}"}
	}
	args := make([]string, 0, len(templateArgs))
	for _, arg := range templateArgs {
		args = append(args, replacer.Replace(arg))
	}

	return engine.ExecSpec{
		Bin:            bin,
		Args:           args,
		Dir:            job.Dirs.Root,
		Env:            []string{"HLSSCALE_GRANULE_ID=" + job.Record.ID},
		Timeout:        time.Duration(p.TimeoutSeconds) * time.Second,
		DisplayCommand: strings.Join(append([]string{bin}, args...), " "),
	}, nil
}
