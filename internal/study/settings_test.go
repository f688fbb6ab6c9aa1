package study

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jaa/hls-scaling/internal/config"
)

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cloud, spatial := 30.0, 40.0
	req := testRequest("/data/studies")
	req.Filters = config.Filters{Months: []string{"Aug"}, CloudCoverMax: &cloud, SpatialCoverageMin: &spatial, SameDay: true}
	req.Execution.SkipProcess = true

	if err := WriteSettings(dir, req); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	loaded, err := LoadSettings(dir)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if !reflect.DeepEqual(loaded, req) {
		t.Fatalf("settings did not round trip\nwant %+v\n got %+v", req, loaded)
	}

	if err := WriteSettings(dir, config.DefaultRequest()); err == nil {
		t.Fatalf("expected settings to be written only once")
	}
	again, err := LoadSettings(dir)
	if err != nil || !reflect.DeepEqual(again, req) {
		t.Fatalf("settings were replaced: %+v %v", again, err)
	}
}

func TestSettingsDocumentIsAcceptedAsRequest(t *testing.T) {
	dir := t.TempDir()
	req := testRequest("/data/studies")
	if err := WriteSettings(dir, req); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	loaded, err := config.Load(config.LoadOptions{
		ExplicitPath: filepath.Join(dir, SettingsFileName),
		WorkingDir:   dir,
		Env:          map[string]string{},
	})
	if err != nil {
		t.Fatalf("load settings as request: %v", err)
	}
	if !reflect.DeepEqual(loaded, req) {
		t.Fatalf("settings document did not load as the same request\nwant %+v\n got %+v", req, loaded)
	}
}

func TestLoadSettingsErrors(t *testing.T) {
	_, err := LoadSettings(t.TempDir())
	if !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("expected ErrSettingsNotFound, got %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SettingsFileName), []byte("execution: [not, a, mapping]\n"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	_, err = LoadSettings(dir)
	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) || !strings.Contains(err.Error(), "malformed settings") {
		t.Fatalf("expected CorruptionError, got %v", err)
	}
}
