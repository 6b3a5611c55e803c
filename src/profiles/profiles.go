// Package profiles inspects the target-photo directory. One subdirectory
// per identity, each holding reference photos. The pipeline only needs
// presence and counts; feature extraction happens inside the detection
// worker at handshake.
package profiles

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".bmp":  true,
}

// Person is one identity directory and its usable photo count.
type Person struct {
	Name   string
	Photos int
}

// Library is the scan result for a targets directory.
type Library struct {
	Dir    string
	People []Person
}

// Ready reports whether at least one identity with photos exists, which
// switches the pipeline from detect-all to detect-and-recognize.
func (l Library) Ready() bool {
	return len(l.People) > 0
}

// TotalPhotos sums photos across identities.
func (l Library) TotalPhotos() int {
	total := 0
	for _, p := range l.People {
		total += p.Photos
	}
	return total
}

// Scan walks dir and collects identities. A missing directory is an empty
// library, not an error; the pipeline simply runs in detect-all mode.
func Scan(dir string) (Library, error) {
	lib := Library{Dir: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return lib, fmt.Errorf("scan targets dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		photos, err := countPhotos(filepath.Join(dir, entry.Name()))
		if err != nil {
			return lib, err
		}
		if photos > 0 {
			lib.People = append(lib.People, Person{Name: entry.Name(), Photos: photos})
		}
	}

	sort.Slice(lib.People, func(i, j int) bool { return lib.People[i].Name < lib.People[j].Name })
	return lib, nil
}

func countPhotos(personDir string) (int, error) {
	entries, err := os.ReadDir(personDir)
	if err != nil {
		return 0, fmt.Errorf("scan identity dir %s: %w", personDir, err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			count++
		}
	}
	return count, nil
}
