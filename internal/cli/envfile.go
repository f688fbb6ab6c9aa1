package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// EnvFileVar names an extra dotenv file read after .env and .env.local.
const EnvFileVar = "HLSSCALE_ENV_FILE"

var dotenvKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type dotenvEntry struct {
	key   string
	value string
}

// loadDotEnvFiles applies .env, .env.local and $HLSSCALE_ENV_FILE from cwd
// in that order. Later files win; variables already present in environ are
// never overridden.
func loadDotEnvFiles(cwd string, environ []string, setenv func(string, string) error) error {
	if strings.TrimSpace(cwd) == "" {
		return nil
	}
	if setenv == nil {
		return errors.New("setenv is required")
	}

	process := map[string]string{}
	for _, pair := range environ {
		if key, value, ok := strings.Cut(pair, "="); ok {
			process[key] = value
		}
	}

	files := []string{filepath.Join(cwd, ".env"), filepath.Join(cwd, ".env.local")}
	if extra := strings.TrimSpace(process[EnvFileVar]); extra != "" {
		if !filepath.IsAbs(extra) {
			extra = filepath.Join(cwd, extra)
		}
		files = append(files, extra)
	}

	merged := map[string]string{}
	order := []string{}
	for _, file := range files {
		entries, err := readDotEnvFile(file)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if _, seen := merged[entry.key]; !seen {
				order = append(order, entry.key)
			}
			merged[entry.key] = entry.value
		}
	}

	for _, key := range order {
		if _, protected := process[key]; protected {
			continue
		}
		if err := setenv(key, merged[key]); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func readDotEnvFile(path string) ([]dotenvEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer file.Close()

	entries := []dotenvEntry{}
	scanner := bufio.NewScanner(file)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		key, value, ok, err := parseDotEnvLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("parse %s:%d: %w", path, lineNo, err)
		}
		if ok {
			entries = append(entries, dotenvEntry{key: key, value: value})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return entries, nil
}

// parseDotEnvLine reports ok=false for blank and comment lines. Unquoted
// values may carry a trailing " # comment".
func parseDotEnvLine(raw string) (string, string, bool, error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false, nil
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false, errors.New("expected KEY=VALUE format")
	}
	key = strings.TrimSpace(key)
	if !dotenvKeyPattern.MatchString(key) {
		return "", "", false, fmt.Errorf("invalid key %q", key)
	}
	value = strings.TrimSpace(value)

	switch {
	case len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"':
		decoded, err := strconv.Unquote(value)
		if err != nil {
			return "", "", false, fmt.Errorf("invalid quoted value for %q", key)
		}
		return key, decoded, true, nil
	case len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'':
		return key, value[1 : len(value)-1], true, nil
	}
	if i := strings.Index(value, " #"); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}
	return key, value, true, nil
}
