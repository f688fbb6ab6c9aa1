package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaa/hls-scaling/internal/adapters/dswx"
	"github.com/jaa/hls-scaling/internal/auth"
	"github.com/jaa/hls-scaling/internal/config"
)

func dswxRequest(t *testing.T) config.Request {
	t.Helper()
	dir := t.TempDir()
	req := config.DefaultRequest()
	req.RootDir = dir
	for _, name := range []string{"dem.vrt", "landcover.tif", "worldcover.vrt", "shoreline.shp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write ancillary: %v", err)
		}
	}
	req.Processing.DEMFile = filepath.Join(dir, "dem.vrt")
	req.Processing.LandcoverFile = filepath.Join(dir, "landcover.tif")
	req.Processing.WorldcoverFile = filepath.Join(dir, "worldcover.vrt")
	req.Processing.ShorelineShapefile = filepath.Join(dir, "shoreline.shp")
	return req
}

func healthyChecker() *Checker {
	return &Checker{
		LookPath:      func(name string) (string, error) { return "/opt/proteus/bin/" + name, nil },
		ReadVersion:   func(ctx context.Context, binary string) (string, error) { return "dswx_hls.py 1.0.2\n", nil },
		Stat:          os.Stat,
		CheckWritable: func(path string) error { return nil },
		Credentials: func() (auth.EarthdataCredentials, error) {
			return auth.EarthdataCredentials{Token: "token", Source: "EARTHDATA_TOKEN"}, nil
		},
	}
}

func findCheck(report Report, name string, fragment string) (Check, bool) {
	for _, check := range report.Checks {
		if check.Name == name && strings.Contains(check.Message, fragment) {
			return check, true
		}
	}
	return Check{}, false
}

func TestDoctorHealthySetup(t *testing.T) {
	report := healthyChecker().Check(context.Background(), dswxRequest(t), dswx.New())
	if report.HasErrors() {
		t.Fatalf("expected no errors, got %+v", report.Checks)
	}
	if _, ok := findCheck(report, "dependency", "version 1.0.2"); !ok {
		t.Fatalf("expected the routine version to be reported: %+v", report.Checks)
	}
	if _, ok := findCheck(report, "runconfig", "built-in"); !ok {
		t.Fatalf("expected the built-in template to be reported: %+v", report.Checks)
	}
}

func TestDoctorMissingBinary(t *testing.T) {
	checker := healthyChecker()
	checker.LookPath = func(name string) (string, error) { return "", fmt.Errorf("not found") }

	report := checker.Check(context.Background(), dswxRequest(t), dswx.New())
	check, ok := findCheck(report, "dependency", "dswx_hls.py not found in PATH")
	if !ok || check.Severity != SeverityError {
		t.Fatalf("expected a missing binary error, got %+v", report.Checks)
	}
}

func TestDoctorUnreadableVersionIsWarning(t *testing.T) {
	checker := healthyChecker()
	checker.ReadVersion = func(ctx context.Context, binary string) (string, error) { return "usage: dswx_hls.py", nil }

	report := checker.Check(context.Background(), dswxRequest(t), dswx.New())
	if report.HasErrors() {
		t.Fatalf("expected unrecognized version to be a warning only: %+v", report.Checks)
	}
	if check, ok := findCheck(report, "dependency", "unrecognized"); !ok || check.Severity != SeverityWarn {
		t.Fatalf("expected a version warning, got %+v", report.Checks)
	}
}

func TestDoctorAncillaryFiles(t *testing.T) {
	req := dswxRequest(t)
	req.Processing.DEMFile = filepath.Join(t.TempDir(), "missing.vrt")
	req.Processing.ShorelineShapefile = ""

	report := healthyChecker().Check(context.Background(), req, dswx.New())
	if check, ok := findCheck(report, "ancillary", "processing.dem_file"); !ok || check.Severity != SeverityError {
		t.Fatalf("expected a missing DEM error, got %+v", report.Checks)
	}
	if check, ok := findCheck(report, "ancillary", "processing.shoreline_shapefile is not set"); !ok || check.Severity != SeverityWarn {
		t.Fatalf("expected an unset shoreline warning, got %+v", report.Checks)
	}
}

func TestDoctorInvalidTemplate(t *testing.T) {
	req := dswxRequest(t)
	path := filepath.Join(t.TempDir(), "template.yaml")
	if err := os.WriteFile(path, []byte("groups: {}\n"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	req.Processing.RunconfigTemplate = path

	report := healthyChecker().Check(context.Background(), req, dswx.New())
	if check, ok := findCheck(report, "runconfig", path); !ok || check.Severity != SeverityError {
		t.Fatalf("expected a template error, got %+v", report.Checks)
	}
}

func TestDoctorRootDirectory(t *testing.T) {
	req := dswxRequest(t)
	req.RootDir = filepath.Join(t.TempDir(), "studies")
	report := healthyChecker().Check(context.Background(), req, dswx.New())
	if _, ok := findCheck(report, "filesystem", "will be created"); !ok {
		t.Fatalf("expected a missing root to be accepted: %+v", report.Checks)
	}

	checker := healthyChecker()
	checker.CheckWritable = func(path string) error { return fmt.Errorf("permission denied") }
	report = checker.Check(context.Background(), dswxRequest(t), dswx.New())
	if check, ok := findCheck(report, "filesystem", "not writable"); !ok || check.Severity != SeverityError {
		t.Fatalf("expected an unwritable root error, got %+v", report.Checks)
	}
}

func TestDoctorCredentials(t *testing.T) {
	checker := healthyChecker()
	checker.Credentials = func() (auth.EarthdataCredentials, error) {
		return auth.EarthdataCredentials{}, auth.ErrEarthdataCredentialsNotFound
	}
	report := checker.Check(context.Background(), dswxRequest(t), dswx.New())
	if check, ok := findCheck(report, "auth", "no Earthdata credentials"); !ok || check.Severity != SeverityWarn {
		t.Fatalf("expected a credentials warning, got %+v", report.Checks)
	}

	checker.Credentials = func() (auth.EarthdataCredentials, error) {
		return auth.EarthdataCredentials{Username: "alice", Password: "secret", Source: "/home/alice/.netrc"}, nil
	}
	report = checker.Check(context.Background(), dswxRequest(t), dswx.New())
	if _, ok := findCheck(report, "auth", "login for alice"); !ok {
		t.Fatalf("expected the netrc login to be reported: %+v", report.Checks)
	}
}

func TestDoctorSkipProcess(t *testing.T) {
	req := dswxRequest(t)
	req.Execution.SkipProcess = true
	checker := healthyChecker()
	checker.LookPath = func(name string) (string, error) {
		t.Fatalf("did not expect a PATH lookup")
		return "", nil
	}
	report := checker.Check(context.Background(), req, dswx.New())
	if report.HasErrors() {
		t.Fatalf("unexpected errors %+v", report.Checks)
	}
}
