package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// UserConfigEnv overrides the location of the per-user defaults file.
	UserConfigEnv   = "HLSSCALE_CONFIG"
	projectFileName = "hlsscale.yaml"
)

// UserConfigPath returns $HLSSCALE_CONFIG, or config.yaml under the XDG
// config directory.
func UserConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(UserConfigEnv)); explicit != "" {
		return ExpandPath(explicit)
	}
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "hlsscale", "config.yaml"), nil
}

func ProjectConfigPath(cwd string) string {
	return filepath.Join(cwd, projectFileName)
}

// ExpandPath expands environment variables and a leading ~ and cleans the
// result. Empty input stays empty.
func ExpandPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	expanded := os.ExpandEnv(trimmed)
	if rest, ok := strings.CutPrefix(expanded, "~"); ok && (rest == "" || rest[0] == '/') {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		expanded = home + rest
	}
	return filepath.Clean(expanded), nil
}

// ResolvePath expands raw and anchors a relative result at base.
func ResolvePath(raw string, base string) (string, error) {
	expanded, err := ExpandPath(raw)
	if err != nil || expanded == "" || filepath.IsAbs(expanded) {
		return expanded, err
	}
	return filepath.Join(base, expanded), nil
}
