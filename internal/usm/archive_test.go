package usm_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"usm-go/internal/usm"
)

func TestSortMonthFolders(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "month names in calendar order",
			in:   []string{"Mar", "Jan", "Dec", "Jul"},
			want: []string{"Jan", "Mar", "Jul", "Dec"},
		},
		{
			name: "full names mix with abbreviations",
			in:   []string{"September", "Feb", "august"},
			want: []string{"Feb", "august", "September"},
		},
		{
			name: "numeric folders follow named months",
			in:   []string{"2", "Jan", "11", "Mar"},
			want: []string{"Jan", "Mar", "2", "11"},
		},
		{
			name: "unrecognized names sort alphabetically last",
			in:   []string{"zz-old", "Dec", "archive", "3"},
			want: []string{"Dec", "3", "archive", "zz-old"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := usm.SortMonthFolders(tt.in)
			if !equal(got, tt.want) {
				t.Errorf("SortMonthFolders(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMonthFolderName(t *testing.T) {
	d := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	if got := usm.MonthFolderName(d); got != "Aug" {
		t.Errorf("MonthFolderName() = %q, want Aug", got)
	}
}

// makeSnapshot creates a leaf folder with a backup artifact inside.
func makeSnapshot(t *testing.T, root string, parts ...string) string {
	t.Helper()
	dir := filepath.Join(append([]string{root}, parts...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "store-20260109.bak"), []byte("snapshot"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestArchive(t *testing.T) {
	root := t.TempDir()
	makeSnapshot(t, root, "2025", "Dec", "31")
	makeSnapshot(t, root, "2026", "Jan", "9")
	makeSnapshot(t, root, "2026", "Jan", "23")
	makeSnapshot(t, root, "2026", "Feb", "14")
	os.MkdirAll(filepath.Join(root, "not-a-year"), 0755)

	arch, err := usm.NewArchive(root)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	t.Run("years are newest first and filtered", func(t *testing.T) {
		years, err := arch.Years()
		if err != nil {
			t.Fatalf("Years() error = %v", err)
		}
		if !equal(years, []string{"2026", "2025"}) {
			t.Errorf("Years() = %v, want [2026 2025]", years)
		}
	})

	t.Run("months sort in calendar order", func(t *testing.T) {
		months, err := arch.Months("2026")
		if err != nil {
			t.Fatalf("Months() error = %v", err)
		}
		if !equal(months, []string{"Jan", "Feb"}) {
			t.Errorf("Months(2026) = %v, want [Jan Feb]", months)
		}
	})

	t.Run("backup folders include day-level leaves", func(t *testing.T) {
		folders, err := arch.BackupFolders("2026", "Jan")
		if err != nil {
			t.Fatalf("BackupFolders() error = %v", err)
		}
		if !equal(folders, []string{"23", "9"}) {
			t.Errorf("BackupFolders(2026, Jan) = %v, want [23 9]", folders)
		}
	})

	t.Run("leaf dirs cover the whole archive", func(t *testing.T) {
		leaves, err := arch.LeafDirs()
		if err != nil {
			t.Fatalf("LeafDirs() error = %v", err)
		}
		if len(leaves) != 4 {
			t.Errorf("LeafDirs() returned %d leaves, want 4: %v", len(leaves), leaves)
		}
	})

	t.Run("newest backup dir follows modification time", func(t *testing.T) {
		newest := filepath.Join(root, "2026", "Jan", "23")
		future := time.Now().Add(time.Hour)
		if err := os.Chtimes(filepath.Join(newest, "store-20260109.bak"), future, future); err != nil {
			t.Fatal(err)
		}

		got, err := arch.NewestBackupDir()
		if err != nil {
			t.Fatalf("NewestBackupDir() error = %v", err)
		}
		if got != newest {
			t.Errorf("NewestBackupDir() = %q, want %q", got, newest)
		}
	})
}

func TestArchive_NoBackups(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "2026", "Jan", "9"), 0755)

	arch, err := usm.NewArchive(root)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}
	if _, err := arch.NewestBackupDir(); err == nil {
		t.Error("NewestBackupDir() error = nil, want error for empty archive")
	}
}

func TestNavigator(t *testing.T) {
	root := t.TempDir()
	makeSnapshot(t, root, "2026", "Jan", "9")
	makeSnapshot(t, root, "2026", "Mar", "2")

	arch, err := usm.NewArchive(root)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}
	nav := usm.NewNavigator(arch)

	if nav.Level() != usm.LevelYear {
		t.Fatalf("Level() = %v, want LevelYear", nav.Level())
	}

	if err := nav.Select("2026"); err != nil {
		t.Fatalf("Select(2026) error = %v", err)
	}
	options, err := nav.Options()
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	if !equal(options, []string{"Jan", "Mar"}) {
		t.Errorf("month options = %v, want [Jan Mar]", options)
	}

	if err := nav.Select("Apr"); err == nil {
		t.Error("Select(Apr) error = nil, want no such folder")
	}

	if err := nav.Select("Jan"); err != nil {
		t.Fatalf("Select(Jan) error = %v", err)
	}
	if err := nav.Select("9"); err != nil {
		t.Fatalf("Select(9) error = %v", err)
	}
	want := filepath.Join(root, "2026", "Jan", "9")
	if nav.Current() != want {
		t.Errorf("Current() = %q, want %q", nav.Current(), want)
	}

	if !nav.Up() {
		t.Error("Up() = false at leaf, want true")
	}
	if nav.Level() != usm.LevelFolder {
		t.Errorf("Level() after Up = %v, want LevelFolder", nav.Level())
	}

	nav.Up()
	nav.Up()
	if nav.Up() {
		t.Error("Up() = true at top, want false")
	}

	leaves, err := nav.Leaves()
	if err != nil {
		t.Fatalf("Leaves() error = %v", err)
	}
	if len(leaves) != 2 {
		t.Errorf("Leaves() returned %d, want 2", len(leaves))
	}
}
