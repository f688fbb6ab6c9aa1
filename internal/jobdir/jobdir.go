// Package jobdir allocates job directories and lays out granule
// directories inside them.
package jobdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jaa/hls-scaling/internal/granule"
)

var makeDir = os.Mkdir

// Allocate claims root/name, or the first free root/name1, root/name2, ...
// A candidate is claimed with an exclusive mkdir, so an existing directory
// is never reused.
func Allocate(root string, name string) (string, error) {
	root = strings.TrimSpace(root)
	name = strings.TrimSpace(name)
	if root == "" {
		return "", fmt.Errorf("job root directory is empty")
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("job name %q must be a single directory name", name)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create job root %s: %w", root, err)
	}

	for n := 0; ; n++ {
		candidate := filepath.Join(root, name)
		if n > 0 {
			candidate += strconv.Itoa(n)
		}
		err := makeDir(candidate, 0o755)
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return "", fmt.Errorf("claim job directory %s: %w", candidate, err)
	}
}

// Layout resolves per-granule paths under a job directory:
// <job>/<YYYYMMDD>/<tile>/<sensor>/{input_dir,output_dir,scratch_dir}.
type Layout struct {
	Root string
}

type GranuleDirs struct {
	Root    string
	Input   string
	Output  string
	Scratch string
}

func (l Layout) Granule(record granule.Record) GranuleDirs {
	var dir string
	if name, err := granule.ParseName(record.ID); err == nil {
		dir = filepath.Join(l.Root, name.Day.Format("20060102"), "T"+name.TileID, string(name.Sensor))
	} else {
		dir = filepath.Join(l.Root, "unparsed", sanitize(record.ID))
	}
	return GranuleDirs{
		Root:    dir,
		Input:   filepath.Join(dir, "input_dir"),
		Output:  filepath.Join(dir, "output_dir"),
		Scratch: filepath.Join(dir, "scratch_dir"),
	}
}

// AssetPath is where a downloaded asset lives: the href's file name inside
// the granule input directory.
func (l Layout) AssetPath(record granule.Record, asset granule.Asset) string {
	base := filepath.Base(strings.TrimRight(asset.Href, "/"))
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if base == "" || base == "." || base == "/" {
		base = sanitize(record.ID) + "." + sanitize(asset.ID) + ".tif"
	}
	return filepath.Join(l.Granule(record).Input, base)
}

func (d GranuleDirs) Ensure() error {
	for _, dir := range []string{d.Input, d.Output, d.Scratch} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create granule directory %s: %w", dir, err)
		}
	}
	return nil
}

func sanitize(value string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, value)
}
