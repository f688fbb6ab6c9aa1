package fileops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BackupSuffix marks the copy of a target kept while it is being replaced.
const BackupSuffix = ".hlsscale.bak"

var (
	statFile   = os.Stat
	renameFile = os.Rename
	removeFile = os.Remove
	syncDir    = fsyncDir
)

// ReplaceFileSafely moves a finished download at tempPath over targetPath.
// An existing target is parked under BackupSuffix until the move succeeds
// and is put back if it fails, so the target path never holds a partial file.
func ReplaceFileSafely(tempPath string, targetPath string) error {
	temp, target, err := checkReplacement(tempPath, targetPath)
	if err != nil {
		return err
	}
	backup := target + BackupSuffix
	if err := dropStaleBackup(backup); err != nil {
		return err
	}

	parked, err := park(target, backup)
	if err != nil {
		return err
	}
	if err := renameFile(temp, target); err != nil {
		if !parked {
			return fmt.Errorf("move %s into place: %w", filepath.Base(target), err)
		}
		if restoreErr := renameFile(backup, target); restoreErr != nil {
			return fmt.Errorf("move %s into place: %v; restoring previous copy: %w", filepath.Base(target), err, restoreErr)
		}
		return fmt.Errorf("move %s into place: %w", filepath.Base(target), err)
	}
	if parked {
		if err := removeFile(backup); err != nil {
			return fmt.Errorf("remove backup %s: %w", backup, err)
		}
	}
	return syncDir(filepath.Dir(target))
}

func checkReplacement(tempPath string, targetPath string) (string, string, error) {
	temp, target := strings.TrimSpace(tempPath), strings.TrimSpace(targetPath)
	switch {
	case temp == "" || target == "":
		return "", "", errors.New("replacement needs both a temp and a target path")
	case temp == target:
		return "", "", fmt.Errorf("replacement temp and target are the same path %s", temp)
	}
	info, err := statFile(temp)
	if err != nil {
		return "", "", fmt.Errorf("stat downloaded temp: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", "", fmt.Errorf("downloaded temp %s is not a regular file", temp)
	}
	return temp, target, nil
}

func dropStaleBackup(backup string) error {
	_, err := statFile(backup)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat backup %s: %w", backup, err)
	}
	if err := removeFile(backup); err != nil {
		return fmt.Errorf("remove stale backup %s: %w", backup, err)
	}
	return nil
}

// park renames an existing target to backup. It reports false when there
// was nothing to park.
func park(target string, backup string) (bool, error) {
	info, err := statFile(target)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat target %s: %w", target, err)
	case info.IsDir():
		return false, fmt.Errorf("target %s is a directory", target)
	}
	if err := renameFile(target, backup); err != nil {
		return false, fmt.Errorf("park existing %s: %w", filepath.Base(target), err)
	}
	return true, nil
}
