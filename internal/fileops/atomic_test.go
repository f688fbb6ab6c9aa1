package fileops

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomicCreatesAndReplaces(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "study_state.json")

	if err := WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("write second: %v", err)
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(payload) != "second" {
		t.Fatalf("unexpected payload %q", payload)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode().Perm())
	}
	assertNoTemps(t, filepath.Dir(path))
}

func TestWriteFileAtomicFailedRenameKeepsPreviousContent(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "study_state.json")
	if err := WriteFileAtomic(path, []byte("before"), 0o644); err != nil {
		t.Fatalf("write before: %v", err)
	}

	origRename := renameFile
	renameFile = func(string, string) error { return errors.New("injected crash") }
	t.Cleanup(func() { renameFile = origRename })

	if err := WriteFileAtomic(path, []byte("after"), 0o644); err == nil {
		t.Fatalf("expected write failure")
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(payload) != "before" {
		t.Fatalf("expected previous content to survive, got %q", payload)
	}
	assertNoTemps(t, tmp)
}

func TestRemoveStaleTemps(t *testing.T) {
	tmp := t.TempDir()
	files := map[string]string{
		"B02.tif":                    "done",
		"B03.tif" + TempMarker + "9": "partial",
		"B04.tif" + BackupSuffix:     "orphaned backup",
		"B05.tif":                    "new",
		"B05.tif" + BackupSuffix:     "old",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmp, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	removed, err := RemoveStaleTemps(tmp)
	if err != nil {
		t.Fatalf("remove stale temps: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected two removals, got %v", removed)
	}

	restored, err := os.ReadFile(filepath.Join(tmp, "B04.tif"))
	if err != nil || string(restored) != "orphaned backup" {
		t.Fatalf("expected orphaned backup to be restored, got %q (%v)", restored, err)
	}
	kept, err := os.ReadFile(filepath.Join(tmp, "B05.tif"))
	if err != nil || string(kept) != "new" {
		t.Fatalf("expected replaced target to be kept, got %q (%v)", kept, err)
	}
	assertNoTemps(t, tmp)

	if removed, err := RemoveStaleTemps(filepath.Join(tmp, "missing")); err != nil || len(removed) != 0 {
		t.Fatalf("expected missing directory to be ignored, got %v %v", removed, err)
	}
}

func assertNoTemps(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), TempMarker) || strings.HasSuffix(entry.Name(), BackupSuffix) {
			t.Fatalf("unexpected leftover %s", entry.Name())
		}
	}
}
