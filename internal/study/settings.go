package study

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jaa/hls-scaling/internal/config"
)

// WriteSettings records the request in the job directory. The document is
// written once; an existing settings file is never replaced.
func WriteSettings(jobDir string, req config.Request) error {
	path := filepath.Join(jobDir, SettingsFileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("settings already exist in %s", jobDir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat settings %s: %w", path, err)
	}

	payload, err := config.EncodeSettings(req)
	if err != nil {
		return err
	}
	header := []byte("# Study request recorded by hlsscale. Pass this file with --request to start a new study.\n")
	if err := writeFile(path, append(header, payload...), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// LoadSettings parses the settings document of jobDir.
func LoadSettings(jobDir string) (config.Request, error) {
	path := filepath.Join(jobDir, SettingsFileName)
	payload, err := readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Request{}, fmt.Errorf("%w: %s", ErrSettingsNotFound, path)
		}
		return config.Request{}, &CorruptionError{Path: path, Reason: "unreadable settings", Err: err}
	}
	req, err := config.ParseRequest(payload)
	if err != nil {
		return config.Request{}, &CorruptionError{Path: path, Reason: "malformed settings", Err: err}
	}
	return req, nil
}
