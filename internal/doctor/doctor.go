package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jaa/hls-scaling/internal/auth"
	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/engine"
	"github.com/jaa/hls-scaling/internal/runconfig"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Check struct {
	Severity Severity `json:"severity"`
	Name     string   `json:"name"`
	Message  string   `json:"message"`
}

type Report struct {
	Checks []Check `json:"checks"`
}

func (r Report) HasErrors() bool {
	return r.ErrorCount() > 0
}

func (r Report) ErrorCount() int {
	count := 0
	for _, check := range r.Checks {
		if check.Severity == SeverityError {
			count++
		}
	}
	return count
}

func (r *Report) add(severity Severity, name string, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Severity: severity, Name: name, Message: fmt.Sprintf(format, args...)})
}

type Checker struct {
	LookPath      func(string) (string, error)
	ReadVersion   func(context.Context, string) (string, error)
	Stat          func(string) (os.FileInfo, error)
	CheckWritable func(string) error
	Credentials   func() (auth.EarthdataCredentials, error)
}

func NewChecker() *Checker {
	return &Checker{
		LookPath:      exec.LookPath,
		ReadVersion:   defaultReadVersion,
		Stat:          os.Stat,
		CheckWritable: checkDirWritable,
		Credentials:   auth.ResolveEarthdataCredentials,
	}
}

// Check inspects everything a run of req depends on outside the process:
// the processing routine, its ancillary inputs, the job root and the
// Earthdata login.
func (c *Checker) Check(ctx context.Context, req config.Request, adapter engine.Adapter) Report {
	report := Report{Checks: []Check{}}

	c.checkProcessing(ctx, &report, req, adapter)
	c.checkRoot(&report, req.RootDir)

	creds, err := c.Credentials()
	switch {
	case errors.Is(err, auth.ErrEarthdataCredentialsNotFound):
		report.add(SeverityWarn, "auth", "no Earthdata credentials found; set HLSSCALE_EARTHDATA_TOKEN or add %s to ~/.netrc", auth.EarthdataHost)
	case err != nil:
		report.add(SeverityError, "auth", "Earthdata credentials could not be read: %v", err)
	case creds.Token != "":
		report.add(SeverityInfo, "auth", "Earthdata token found in %s", creds.Source)
	default:
		report.add(SeverityInfo, "auth", "Earthdata login for %s found in %s", creds.Username, creds.Source)
	}
	return report
}

func (c *Checker) checkProcessing(ctx context.Context, report *Report, req config.Request, adapter engine.Adapter) {
	p := req.Processing
	if req.Execution.SkipProcess {
		report.add(SeverityInfo, "processing", "processing is skipped; routine checks not run")
		return
	}
	if adapter == nil {
		report.add(SeverityError, "processing", "processing.kind %q has no adapter", p.Kind)
		return
	}
	if err := adapter.Validate(p); err != nil {
		report.add(SeverityError, "processing", "%v", err)
		return
	}

	binary, err := config.ExpandPath(adapter.Binary(p))
	if err != nil {
		report.add(SeverityError, "dependency", "processing binary is invalid: %v", err)
		return
	}
	location, err := c.LookPath(binary)
	if err != nil {
		report.add(SeverityError, "dependency", "%s not found in PATH", binary)
	} else {
		report.add(SeverityInfo, "dependency", "%s found at %s", binary, location)
		output, versionErr := c.ReadVersion(ctx, location)
		if versionErr != nil {
			report.add(SeverityWarn, "dependency", "%s version could not be read: %v", binary, versionErr)
		} else if version, ok := extractVersion(output); ok {
			report.add(SeverityInfo, "dependency", "%s version %s", binary, version)
		} else {
			report.add(SeverityWarn, "dependency", "%s version output is unrecognized: %q", binary, firstLine(output))
		}
	}

	ancillary := []struct {
		key  string
		path string
	}{
		{"processing.dem_file", p.DEMFile},
		{"processing.landcover_file", p.LandcoverFile},
		{"processing.worldcover_file", p.WorldcoverFile},
		{"processing.shoreline_shapefile", p.ShorelineShapefile},
	}
	for _, file := range ancillary {
		if strings.TrimSpace(file.path) == "" {
			if p.Kind == config.ProcessingDSWx {
				report.add(SeverityWarn, "ancillary", "%s is not set", file.key)
			}
			continue
		}
		path, err := config.ExpandPath(file.path)
		if err == nil {
			_, err = c.Stat(path)
		}
		if err != nil {
			report.add(SeverityError, "ancillary", "%s %s is not readable: %v", file.key, file.path, err)
			continue
		}
		report.add(SeverityInfo, "ancillary", "%s found at %s", file.key, path)
	}

	if strings.TrimSpace(p.RunconfigTemplate) == "" {
		report.add(SeverityInfo, "runconfig", "using the built-in runconfig template")
		return
	}
	templatePath, err := config.ExpandPath(p.RunconfigTemplate)
	if err == nil {
		_, err = runconfig.LoadTemplate(templatePath)
	}
	if err != nil {
		report.add(SeverityError, "runconfig", "%v", err)
		return
	}
	report.add(SeverityInfo, "runconfig", "runconfig template %s is valid", templatePath)
}

// checkRoot accepts a root that does not exist yet when its parent is
// writable; the first run creates it.
func (c *Checker) checkRoot(report *Report, raw string) {
	root, err := config.ExpandPath(raw)
	if err != nil || root == "" {
		report.add(SeverityError, "filesystem", "root_dir %q is invalid", raw)
		return
	}
	if _, err := c.Stat(root); errors.Is(err, os.ErrNotExist) {
		parent := filepath.Dir(root)
		if err := c.CheckWritable(parent); err != nil {
			report.add(SeverityError, "filesystem", "root_dir %s does not exist and %s is not writable: %v", root, parent, err)
			return
		}
		report.add(SeverityInfo, "filesystem", "root_dir %s will be created", root)
		return
	}
	if err := c.CheckWritable(root); err != nil {
		report.add(SeverityError, "filesystem", "root_dir %s is not writable: %v", root, err)
		return
	}
	report.add(SeverityInfo, "filesystem", "root_dir %s is writable", root)
}

func defaultReadVersion(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, binary, "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func checkDirWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	file, err := os.CreateTemp(path, ".hlsscale-write-check-*")
	if err != nil {
		return err
	}
	name := file.Name()
	_ = file.Close()
	_ = os.Remove(name)
	return nil
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

func extractVersion(raw string) (string, bool) {
	match := versionPattern.FindString(raw)
	return match, match != ""
}

func firstLine(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	return line
}
