package fileops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempMarker is part of every temp file name created by this package.
const TempMarker = ".tmp."

// WriteFileAtomic replaces path with data so that readers observe either the
// previous content or the new content in full. The temp file is synced
// before the rename and the directory after it.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+TempMarker+"*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = removeFile(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := renameFile(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file over %s: %w", path, err)
	}
	committed = true
	return syncDir(dir)
}

// CreateTemp opens a temp file next to target for streaming writes. The
// caller finishes it with ReplaceFileSafely or removes it.
func CreateTemp(target string) (*os.File, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(target)+TempMarker+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", target, err)
	}
	return tmp, nil
}

// RemoveStaleTemps deletes temp and backup files left in dir by an earlier
// process that died mid-write. A backup whose target is missing is restored
// instead. Missing directories are ignored.
func RemoveStaleTemps(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	removed := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)
		if strings.HasSuffix(name, BackupSuffix) {
			target := strings.TrimSuffix(path, BackupSuffix)
			if _, err := statFile(target); errors.Is(err, os.ErrNotExist) {
				// the replacement never landed; the backup is the only copy
				if err := renameFile(path, target); err != nil {
					return removed, fmt.Errorf("restore backup %s: %w", path, err)
				}
				continue
			}
		} else if !strings.Contains(name, TempMarker) {
			continue
		}
		if err := removeFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove stale temp %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory %s: %w", dir, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync directory %s: %w", dir, err)
	}
	return nil
}
