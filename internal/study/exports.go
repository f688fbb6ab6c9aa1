package study

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/jobdir"
)

// WriteExports writes the plain-text listings of a persisted study: granule
// ids, asset hrefs and granule directories, one per line in catalog order.
func WriteExports(jobDir string, records []granule.Record) error {
	layout := jobdir.Layout{Root: jobDir}
	var ids, urls, dirs bytes.Buffer
	for _, record := range records {
		fmt.Fprintln(&ids, record.ID)
		for _, asset := range record.Assets {
			fmt.Fprintln(&urls, asset.Href)
		}
		fmt.Fprintln(&dirs, layout.Granule(record).Root)
	}

	files := []struct {
		name    string
		payload []byte
	}{
		{GranuleListFileName, ids.Bytes()},
		{URLListFileName, urls.Bytes()},
		{GranuleDirsFileName, dirs.Bytes()},
	}
	for _, file := range files {
		if err := writeFile(filepath.Join(jobDir, file.name), file.payload, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", file.name, err)
		}
	}
	return nil
}

// CopyRegion copies the GeoJSON region of req into the job directory and
// returns req pointing at the copy, so a rerun never depends on the file the
// study was started from. A request without a region is returned unchanged.
func CopyRegion(jobDir string, req config.Request) (config.Request, error) {
	if req.Intersects == "" {
		return req, nil
	}
	src, err := config.ExpandPath(req.Intersects)
	if err != nil {
		return req, err
	}
	payload, err := os.ReadFile(src)
	if err != nil {
		return req, fmt.Errorf("read region: %w", err)
	}

	name := filepath.Base(src)
	switch name {
	case StateFileName, SettingsFileName, GranuleListFileName, URLListFileName, GranuleDirsFileName:
		name = "region_" + name
	}
	dst := filepath.Join(jobDir, name)
	if err := writeFile(dst, payload, 0o644); err != nil {
		return req, fmt.Errorf("write %s: %w", name, err)
	}
	req.Intersects = dst
	return req, nil
}
