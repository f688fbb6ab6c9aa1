package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadPrecedence(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))

	userConfigPath, err := UserConfigPath()
	if err != nil {
		t.Fatalf("user config path: %v", err)
	}
	if err := EnsureConfigDir(userConfigPath); err != nil {
		t.Fatalf("mkdir user config dir: %v", err)
	}

	userConfig := `version: 1
root_dir: "/data/user-root"
execution:
  download_workers: 2
  process_workers: 3
`
	if err := os.WriteFile(userConfigPath, []byte(userConfig), 0o644); err != nil {
		t.Fatalf("write user config: %v", err)
	}

	projectDir := filepath.Join(tmp, "project")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir project dir: %v", err)
	}
	projectConfig := `job_name: "project-study"
execution:
  process_workers: 4
`
	if err := os.WriteFile(ProjectConfigPath(projectDir), []byte(projectConfig), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	requestPath := filepath.Join(projectDir, "august.yaml")
	requestDoc := `job_name: "august"
bounding_box: [-120, 43, -118, 48]
date_range: "2021-07-15/2021-08-14"
filters:
  months: ["Aug"]
  cloud_cover_max: 30
`
	if err := os.WriteFile(requestPath, []byte(requestDoc), 0o644); err != nil {
		t.Fatalf("write request: %v", err)
	}

	req, err := Load(LoadOptions{
		ExplicitPath: "august.yaml",
		WorkingDir:   projectDir,
		Env: map[string]string{
			"HLSSCALE_DOWNLOAD_WORKERS": "7",
		},
	})
	if err != nil {
		t.Fatalf("load request: %v", err)
	}

	if req.Execution.DownloadWorkers != 7 {
		t.Fatalf("expected env override download_workers=7, got %d", req.Execution.DownloadWorkers)
	}
	if req.Execution.ProcessWorkers != 4 {
		t.Fatalf("expected project process_workers=4, got %d", req.Execution.ProcessWorkers)
	}
	if req.RootDir != "/data/user-root" {
		t.Fatalf("expected user root_dir, got %q", req.RootDir)
	}
	if req.JobName != "august" {
		t.Fatalf("expected request job_name to win, got %q", req.JobName)
	}
	if req.DateRange != (DateRange{Start: "2021-07-15", End: "2021-08-14"}) {
		t.Fatalf("unexpected date range %+v", req.DateRange)
	}
	if req.Filters.CloudCoverMax == nil || *req.Filters.CloudCoverMax != 30 {
		t.Fatalf("unexpected cloud cover max %v", req.Filters.CloudCoverMax)
	}
	if req.Catalog.STACURL != DefaultSTACURL {
		t.Fatalf("expected default stac url, got %q", req.Catalog.STACURL)
	}
}

func TestLoadDefaultsRootDirToWorkingDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))

	req, err := Load(LoadOptions{WorkingDir: tmp, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	if req.RootDir != tmp {
		t.Fatalf("expected root_dir %q, got %q", tmp, req.RootDir)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))

	_, err := Load(LoadOptions{ExplicitPath: filepath.Join(tmp, "missing.yaml"), WorkingDir: tmp, Env: map[string]string{}})
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))
	path := filepath.Join(tmp, "typo.yaml")
	if err := os.WriteFile(path, []byte("filters:\n  cloud_cover: 30\n"), 0o644); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_, err := Load(LoadOptions{ExplicitPath: path, WorkingDir: tmp, Env: map[string]string{}})
	if err == nil || !strings.Contains(err.Error(), "cloud_cover") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadInvalidEnvValue(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))

	_, err := Load(LoadOptions{WorkingDir: tmp, Env: map[string]string{"HLSSCALE_PROCESS_WORKERS": "many"}})
	if err == nil || !strings.Contains(err.Error(), "HLSSCALE_PROCESS_WORKERS") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	cloud, spatial := 30.0, 40.0
	req := DefaultRequest()
	req.RootDir = "/data/studies"
	req.JobName = "august"
	req.BoundingBox = []float64{-120, 43, -118, 48}
	req.DateRange = DateRange{Start: "2021-07-15", End: "2021-08-14"}
	req.Filters = Filters{
		Months:             []string{"Aug"},
		CloudCoverMax:      &cloud,
		SpatialCoverageMin: &spatial,
		SameDay:            true,
		TileID:             "11TLH",
	}
	req.Processing.DEMFile = "/anc/dem.vrt"
	req.Processing.ExtraArgs = []string{"--debug"}
	req.Execution.Verbose = true

	payload, err := EncodeSettings(req)
	if err != nil {
		t.Fatalf("encode settings: %v", err)
	}
	parsed, err := ParseRequest(payload)
	if err != nil {
		t.Fatalf("parse settings: %v", err)
	}
	if !reflect.DeepEqual(parsed, req) {
		t.Fatalf("settings did not round trip\nwant %+v\n got %+v", req, parsed)
	}

	again, err := EncodeSettings(parsed)
	if err != nil {
		t.Fatalf("encode settings again: %v", err)
	}
	if string(again) != string(payload) {
		t.Fatalf("settings encoding is not stable:\n%s\n---\n%s", payload, again)
	}
}

func TestParseRequestAcceptsJSON(t *testing.T) {
	payload := []byte(`{"job_name": "json-study", "bounding_box": [-120, 43, -118, 48], "date_range": {"start": "2021-07-15", "end": "2021-08-14"}, "execution": {"skip_process": true}}`)
	req, err := ParseRequest(payload)
	if err != nil {
		t.Fatalf("parse json request: %v", err)
	}
	if req.JobName != "json-study" || !req.Execution.SkipProcess || len(req.BoundingBox) != 4 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestDateRangeBounds(t *testing.T) {
	d, err := ParseDateRange("2021-07-15/2021-08-14")
	if err != nil {
		t.Fatalf("parse date range: %v", err)
	}
	start, end, err := d.Bounds()
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if !start.Equal(time.Date(2021, time.July, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", start)
	}
	if !end.Equal(time.Date(2021, time.August, 14, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("unexpected end %s", end)
	}
	if d.String() != "2021-07-15/2021-08-14" {
		t.Fatalf("unexpected string %q", d.String())
	}
	if _, err := ParseDateRange("2021-07-15"); err == nil {
		t.Fatalf("expected error for single date")
	}
}

func TestFiltersPredicates(t *testing.T) {
	full, none := 100.0, 0.0
	p, err := Filters{Months: []string{"aug", "9", "October"}, CloudCoverMax: &full, SpatialCoverageMin: &none}.Predicates()
	if err != nil {
		t.Fatalf("predicates: %v", err)
	}
	if !reflect.DeepEqual(p.Months, []time.Month{time.August, time.September, time.October}) {
		t.Fatalf("unexpected months %v", p.Months)
	}
	if p.CloudCoverMax != nil || p.SpatialCoverageMin != nil {
		t.Fatalf("expected no-op thresholds to be dropped, got %+v", p)
	}

	if _, err := (Filters{Months: []string{"Smarch"}}).Predicates(); err == nil {
		t.Fatalf("expected error for unknown month")
	}
}
