package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "raw"))
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	return a
}

func TestWriteRead(t *testing.T) {
	a := newTestArchive(t)

	body := []byte("Description,Start date\nwriting,2023-02-01\n")
	if err := a.Write(2023, body); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := a.Read(2023)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("read back %q", got)
	}
}

func TestWriteReplaces(t *testing.T) {
	a := newTestArchive(t)

	if err := a.Write(2023, []byte("old")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Write(2023, []byte("new")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	got, _ := a.Read(2023)
	if string(got) != "new" {
		t.Fatalf("read back %q, want new", got)
	}

	years, err := a.Years()
	if err != nil {
		t.Fatalf("Years: %v", err)
	}
	if len(years) != 1 {
		t.Fatalf("years = %v, want one", years)
	}
}

func TestReadMissing(t *testing.T) {
	a := newTestArchive(t)
	if _, err := a.Read(1999); err == nil {
		t.Fatal("Read of missing year succeeded")
	}
}

func TestYears(t *testing.T) {
	a := newTestArchive(t)

	for _, y := range []int{2024, 2022, 2023} {
		if err := a.Write(y, []byte("x")); err != nil {
			t.Fatalf("Write %d: %v", y, err)
		}
	}
	// Stray files are ignored.
	if err := os.WriteFile(filepath.Join(a.dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write stray: %v", err)
	}
	if err := os.WriteFile(filepath.Join(a.dir, ".2025-tmp.csv"), []byte("x"), 0644); err != nil {
		t.Fatalf("write dotfile: %v", err)
	}

	years, err := a.Years()
	if err != nil {
		t.Fatalf("Years: %v", err)
	}
	if len(years) != 3 || years[0] != 2022 || years[2] != 2024 {
		t.Fatalf("years = %v, want [2022 2023 2024]", years)
	}
}

func TestYearsEmpty(t *testing.T) {
	a := newTestArchive(t)
	years, err := a.Years()
	if err != nil {
		t.Fatalf("Years: %v", err)
	}
	if len(years) != 0 {
		t.Fatalf("years = %v, want none", years)
	}
}
