package dswx

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/engine"
	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/jobdir"
)

func testJob(t *testing.T) engine.ProcessJob {
	t.Helper()
	record := granule.Record{ID: "HLS.L30.T11TPJ.2021201T190000.v2.0"}
	dirs := jobdir.Layout{Root: t.TempDir()}.Granule(record)
	return engine.ProcessJob{
		Record:    record,
		Dirs:      dirs,
		Runconfig: filepath.Join(dirs.Root, "dswx_hls_runconfig.yaml"),
		Attempt:   1,
	}
}

func TestBuildExecSpecRunsWorkflowWithLogFile(t *testing.T) {
	job := testJob(t)
	processing := config.DefaultRequest().Processing

	spec, err := New().BuildExecSpec(job, processing)
	if err != nil {
		t.Fatalf("build exec spec: %v", err)
	}
	if spec.Bin != "dswx_hls.py" {
		t.Fatalf("unexpected binary %q", spec.Bin)
	}
	want := []string{job.Runconfig, "--log-file", filepath.Join(job.Dirs.Root, LogFileName)}
	if strings.Join(spec.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected args %v", spec.Args)
	}
	if spec.Dir != job.Dirs.Root {
		t.Fatalf("expected the granule directory as working dir, got %q", spec.Dir)
	}
	if spec.Timeout != 7200*time.Second {
		t.Fatalf("unexpected timeout %s", spec.Timeout)
	}
	if !strings.HasPrefix(spec.DisplayCommand, "dswx_hls.py ") {
		t.Fatalf("unexpected display command %q", spec.DisplayCommand)
	}
}

func TestBuildExecSpecAppendsExtraArgsAndCustomBinary(t *testing.T) {
	job := testJob(t)
	processing := config.Processing{
		Kind:      config.ProcessingDSWx,
		Binary:    "/opt/proteus/bin/dswx_hls.py",
		ExtraArgs: []string{"--debug"},
	}

	spec, err := New().BuildExecSpec(job, processing)
	if err != nil {
		t.Fatalf("build exec spec: %v", err)
	}
	if spec.Bin != "/opt/proteus/bin/dswx_hls.py" {
		t.Fatalf("unexpected binary %q", spec.Bin)
	}
	if spec.Args[len(spec.Args)-1] != "--debug" {
		t.Fatalf("expected extra args last, got %v", spec.Args)
	}
	if spec.Timeout != 0 {
		t.Fatalf("expected no timeout, got %s", spec.Timeout)
	}
}

func TestBuildExecSpecRequiresRunconfig(t *testing.T) {
	job := testJob(t)
	job.Runconfig = ""
	if _, err := New().BuildExecSpec(job, config.DefaultRequest().Processing); err == nil {
		t.Fatalf("expected an error without a runconfig")
	}
	if err := New().Validate(config.Processing{Kind: config.ProcessingCustom}); err == nil {
		t.Fatalf("expected the adapter to reject another processing kind")
	}
}
