package profiles

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestScanCountsIdentities(t *testing.T) {
	dir := t.TempDir()

	alice := filepath.Join(dir, "alice")
	bob := filepath.Join(dir, "bob")
	os.MkdirAll(alice, 0o755)
	os.MkdirAll(bob, 0o755)
	writeFile(t, filepath.Join(alice, "one.jpg"))
	writeFile(t, filepath.Join(alice, "two.PNG"))
	writeFile(t, filepath.Join(alice, "notes.txt"))
	writeFile(t, filepath.Join(bob, "photo.webp"))

	lib, err := Scan(dir)
	if err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}
	if !lib.Ready() {
		t.Errorf("Expected library to be ready")
	}
	if len(lib.People) != 2 {
		t.Fatalf("Expected 2 identities, got %d", len(lib.People))
	}
	if lib.People[0].Name != "alice" || lib.People[0].Photos != 2 {
		t.Errorf("Expected alice with 2 photos, got %s with %d", lib.People[0].Name, lib.People[0].Photos)
	}
	if lib.TotalPhotos() != 3 {
		t.Errorf("Expected 3 photos total, got %d", lib.TotalPhotos())
	}
}

func TestScanIgnoresEmptyIdentity(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "empty"), 0o755)
	writeFile(t, filepath.Join(dir, "stray.jpg"))

	lib, err := Scan(dir)
	if err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}
	if lib.Ready() {
		t.Errorf("Expected library not ready, got %d identities", len(lib.People))
	}
}

func TestScanMissingDirectory(t *testing.T) {
	lib, err := Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Expected missing dir to scan clean, got %v", err)
	}
	if lib.Ready() {
		t.Errorf("Expected empty library for missing dir")
	}
}
