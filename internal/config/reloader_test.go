package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withTempConfigPaths(t *testing.T, paths []string) {
	t.Helper()
	orig := DefaultConfigPaths
	DefaultConfigPaths = paths
	t.Cleanup(func() { DefaultConfigPaths = orig })
}

func TestReloaderPicksUpChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fact.yml")
	if err := os.WriteFile(path, []byte("paths:\n  - /etc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	withTempConfigPaths(t, []string{path})

	initial, err := Load(Layer{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := NewReloader(nil, Layer{}, initial)

	if got := r.Paths.Get(); len(got) != 1 || got[0] != "/etc" {
		t.Fatalf("initial Paths = %v, want [/etc]", got)
	}

	// mtime resolution on some filesystems is coarse; make sure the new
	// write lands on a detectably later ModTime.
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("paths:\n  - /etc\n  - /var/lib\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Force a distinguishable mtime on filesystems with 1s resolution.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	r.reloadIfChanged()

	got := r.Paths.Get()
	if len(got) != 2 || got[1] != "/var/lib" {
		t.Fatalf("Paths after reload = %v, want [/etc /var/lib]", got)
	}
}

func TestReloaderKeepsPreviousSnapshotOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fact.yml")
	if err := os.WriteFile(path, []byte("paths:\n  - /etc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	withTempConfigPaths(t, []string{path})

	initial, err := Load(Layer{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := NewReloader(nil, Layer{}, initial)

	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte("bogus_key: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	r.reloadIfChanged()

	got := r.Paths.Get()
	if len(got) != 1 || got[0] != "/etc" {
		t.Fatalf("Paths after failed reload = %v, want the previous snapshot [/etc]", got)
	}
}
