package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/exitcode"
)

func TestInitWritesRequestThatValidates(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))
	t.Setenv(config.UserConfigEnv, "")
	path := filepath.Join(tmp, "studies", "request.yaml")

	stdout := &bytes.Buffer{}
	root := newRootCommand(newTestApp(stdout, &bytes.Buffer{}))
	root.SetArgs([]string{"init", "--request", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected request file: %v", err)
	}

	again := newRootCommand(newTestApp(&bytes.Buffer{}, &bytes.Buffer{}))
	again.SetArgs([]string{"init", "--request", path})
	err := again.Execute()
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}

	stdout.Reset()
	validate := newRootCommand(newTestApp(stdout, &bytes.Buffer{}))
	validate.SetArgs([]string{"validate", "--request", path})
	if err := validate.Execute(); err != nil {
		t.Fatalf("starter request must validate: %v", err)
	}
	if !strings.Contains(stdout.String(), "Request is valid.") {
		t.Fatalf("unexpected validate output: %s", stdout.String())
	}
}

func TestValidateReportsProblems(t *testing.T) {
	tmp := t.TempDir()
	path := writeRequest(t, tmp, "version: 1\nroot_dir: \""+tmp+"\"\njob_name: \"a/b\"\nbounding_box: [10, 0, -10, 5]\ndate_range: \"2021-07-15/2021-08-14\"\n")

	root := newRootCommand(newTestApp(&bytes.Buffer{}, &bytes.Buffer{}))
	root.SetArgs([]string{"validate", "--request", path})
	err := root.Execute()
	if code := mapExitCode(err); code != exitcode.InvalidConfig {
		t.Fatalf("exit code = %d, want %d", code, exitcode.InvalidConfig)
	}
	for _, want := range []string{"job_name", "west < east"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}

	rerun := newRootCommand(newTestApp(&bytes.Buffer{}, &bytes.Buffer{}))
	rerun.SetArgs([]string{"validate", "--request", path, "--rerun"})
	err = rerun.Execute()
	if err == nil || strings.Contains(err.Error(), "bounding_box") {
		t.Fatalf("a rerun skips query checks but keeps job_name checks, got %v", err)
	}
}
