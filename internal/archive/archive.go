// Package archive persists each period's raw export verbatim, one file
// per year, so the store can be rebuilt from disk without re-hitting
// the remote quota.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type Archive struct {
	dir string
}

func New(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("archive: create dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

func (a *Archive) path(year int) string {
	return filepath.Join(a.dir, fmt.Sprintf("%d.csv", year))
}

// Write stores one year's raw export, replacing any prior artifact for
// that year. The write goes through a temp file and rename so a crash
// never leaves a truncated archive behind.
func (a *Archive) Write(year int, data []byte) error {
	tmp, err := os.CreateTemp(a.dir, fmt.Sprintf(".%d-*.csv", year))
	if err != nil {
		return fmt.Errorf("archive: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: write %d: %w", year, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: close %d: %w", year, err)
	}
	if err := os.Rename(tmp.Name(), a.path(year)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: rename %d: %w", year, err)
	}
	return nil
}

// Read returns one year's archived export.
func (a *Archive) Read(year int) ([]byte, error) {
	data, err := os.ReadFile(a.path(year))
	if err != nil {
		return nil, fmt.Errorf("archive: read %d: %w", year, err)
	}
	return data, nil
}

// Years lists the archived years, ascending.
func (a *Archive) Years() ([]int, error) {
	names, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}

	var years []int
	for _, f := range names {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".csv") || strings.HasPrefix(name, ".") {
			continue
		}
		y, err := strconv.Atoi(strings.TrimSuffix(name, ".csv"))
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}
