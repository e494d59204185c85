package usm

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Export snapshots are grouped on disk as <root>/<Year>/<Month>/<Day>/ with
// the backup artifact and content mirror inside the leaf folder. Month
// folders use month names; day folders are plain numbers. Handwritten
// archives are tolerated: month sorting falls back to numeric order and then
// alphabetic order for names that are not recognizable months.

var yearPattern = regexp.MustCompile(`^\d{4}$`)

// monthNumber maps a folder name to its calendar month. Accepts abbreviated
// and full English month names, case-insensitive.
func monthNumber(name string) (int, bool) {
	switch strings.ToLower(name) {
	case "jan", "january":
		return 1, true
	case "feb", "february":
		return 2, true
	case "mar", "march":
		return 3, true
	case "apr", "april":
		return 4, true
	case "may":
		return 5, true
	case "jun", "june":
		return 6, true
	case "jul", "july":
		return 7, true
	case "aug", "august":
		return 8, true
	case "sep", "september":
		return 9, true
	case "oct", "october":
		return 10, true
	case "nov", "november":
		return 11, true
	case "dec", "december":
		return 12, true
	default:
		return 0, false
	}
}

// SortMonthFolders orders month folder names for traversal: recognized month
// names in calendar order first, then purely numeric names in numeric order,
// then everything else alphabetically.
func SortMonthFolders(names []string) []string {
	sorted := append([]string(nil), names...)
	rank := func(name string) (class int, key int) {
		if m, ok := monthNumber(name); ok {
			return 0, m
		}
		if n, err := strconv.Atoi(name); err == nil {
			return 1, n
		}
		return 2, 0
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, ki := rank(sorted[i])
		cj, kj := rank(sorted[j])
		if ci != cj {
			return ci < cj
		}
		if ci < 2 && ki != kj {
			return ki < kj
		}
		return sorted[i] < sorted[j]
	})
	return sorted
}

// MonthFolderName returns the canonical month folder name for a date.
func MonthFolderName(t time.Time) string {
	return t.Format("Jan")
}

// Archive navigates a Year/Month/Day export hierarchy.
type Archive struct {
	root string
}

// NewArchive opens the archive rooted at root. The root must be an
// accessible directory.
func NewArchive(root string) (*Archive, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("archive root not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive root is not a directory: %s", root)
	}
	return &Archive{root: root}, nil
}

// Root returns the archive root path.
func (a *Archive) Root() string { return a.root }

// Years returns year folders (4-digit names), newest first.
func (a *Archive) Years() ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("reading archive root: %w", err)
	}
	var years []string
	for _, e := range entries {
		if e.IsDir() && yearPattern.MatchString(e.Name()) {
			years = append(years, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(years)))
	return years, nil
}

// Months returns the month folders under a year, in traversal order.
func (a *Archive) Months(year string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.root, year))
	if err != nil {
		return nil, fmt.Errorf("reading year folder %s: %w", year, err)
	}
	var months []string
	for _, e := range entries {
		if e.IsDir() {
			months = append(months, e.Name())
		}
	}
	return SortMonthFolders(months), nil
}

// BackupFolders returns the folders under a month that contain a backup
// artifact: either direct children, or children of day-numbered folders.
// Returned paths are relative to the month folder.
func (a *Archive) BackupFolders(year, month string) ([]string, error) {
	monthDir := filepath.Join(a.root, year, month)
	entries, err := os.ReadDir(monthDir)
	if err != nil {
		return nil, fmt.Errorf("reading month folder %s: %w", month, err)
	}

	var folders []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := filepath.Join(monthDir, e.Name())
		if containsBackupFile(child) {
			folders = append(folders, e.Name())
			continue
		}
		// Day-numbered folder: look one level deeper.
		grandchildren, err := os.ReadDir(child)
		if err != nil {
			continue
		}
		for _, g := range grandchildren {
			if g.IsDir() && containsBackupFile(filepath.Join(child, g.Name())) {
				folders = append(folders, filepath.Join(e.Name(), g.Name()))
			}
		}
	}
	sort.Strings(folders)
	return folders, nil
}

// LeafDirs returns the absolute path of every backup folder in the archive,
// traversing years newest-first and months in traversal order.
func (a *Archive) LeafDirs() ([]string, error) {
	years, err := a.Years()
	if err != nil {
		return nil, err
	}
	var leaves []string
	for _, y := range years {
		months, err := a.Months(y)
		if err != nil {
			return nil, err
		}
		for _, m := range months {
			folders, err := a.BackupFolders(y, m)
			if err != nil {
				return nil, err
			}
			for _, f := range folders {
				leaves = append(leaves, filepath.Join(a.root, y, m, f))
			}
		}
	}
	return leaves, nil
}

// NewestBackupDir returns the folder containing the most recently modified
// backup artifact anywhere in the archive.
func (a *Archive) NewestBackupDir() (string, error) {
	leaves, err := a.LeafDirs()
	if err != nil {
		return "", err
	}

	var newestDir string
	var newestTime time.Time
	for _, dir := range leaves {
		path, info, err := findBackupFile(dir)
		if err != nil || path == "" {
			continue
		}
		if newestDir == "" || info.ModTime().After(newestTime) {
			newestDir = dir
			newestTime = info.ModTime()
		}
	}
	if newestDir == "" {
		return "", fmt.Errorf("no backup artifact found under %s", a.root)
	}
	return newestDir, nil
}

// NavLevel identifies the current depth of a Navigator.
type NavLevel int

const (
	LevelYear NavLevel = iota
	LevelMonth
	LevelFolder
	LevelLeaf
)

// Navigator walks the archive one selection level at a time: Year, then
// Month, then backup folder. Up steps back one level; the menu layer drives
// it but owns no traversal logic itself.
type Navigator struct {
	archive   *Archive
	selection []string // year, month, folder as selected so far
}

// NewNavigator creates a Navigator positioned at the year level.
func NewNavigator(archive *Archive) *Navigator {
	return &Navigator{archive: archive}
}

// Level returns the level the next Select call applies to.
func (n *Navigator) Level() NavLevel {
	return NavLevel(len(n.selection))
}

// Options lists the choices at the current level.
func (n *Navigator) Options() ([]string, error) {
	switch n.Level() {
	case LevelYear:
		return n.archive.Years()
	case LevelMonth:
		return n.archive.Months(n.selection[0])
	case LevelFolder:
		return n.archive.BackupFolders(n.selection[0], n.selection[1])
	default:
		return nil, nil
	}
}

// Select descends into the named option. The name must be one of the
// current level's options.
func (n *Navigator) Select(name string) error {
	if n.Level() == LevelLeaf {
		return fmt.Errorf("already at a backup folder")
	}
	options, err := n.Options()
	if err != nil {
		return err
	}
	for _, o := range options {
		if o == name {
			n.selection = append(n.selection, name)
			return nil
		}
	}
	return fmt.Errorf("no such folder: %s", name)
}

// Up steps back one level. Returns false when already at the top.
func (n *Navigator) Up() bool {
	if len(n.selection) == 0 {
		return false
	}
	n.selection = n.selection[:len(n.selection)-1]
	return true
}

// Current returns the absolute path of the current selection.
func (n *Navigator) Current() string {
	return filepath.Join(append([]string{n.archive.root}, n.selection...)...)
}

// Leaves returns every backup folder under the current selection, for the
// bulk "copy all backups here" action.
func (n *Navigator) Leaves() ([]string, error) {
	switch n.Level() {
	case LevelYear:
		return n.archive.LeafDirs()
	case LevelMonth:
		months, err := n.archive.Months(n.selection[0])
		if err != nil {
			return nil, err
		}
		var leaves []string
		for _, m := range months {
			folders, err := n.archive.BackupFolders(n.selection[0], m)
			if err != nil {
				return nil, err
			}
			for _, f := range folders {
				leaves = append(leaves, filepath.Join(n.archive.root, n.selection[0], m, f))
			}
		}
		return leaves, nil
	case LevelFolder:
		folders, err := n.archive.BackupFolders(n.selection[0], n.selection[1])
		if err != nil {
			return nil, err
		}
		var leaves []string
		for _, f := range folders {
			leaves = append(leaves, filepath.Join(n.archive.root, n.selection[0], n.selection[1], f))
		}
		return leaves, nil
	default:
		return []string{n.Current()}, nil
	}
}

func containsBackupFile(dir string) bool {
	path, _, err := findBackupFile(dir)
	return err == nil && path != ""
}

// findBackupFile returns the first backup artifact directly inside dir.
func findBackupFile(dir string) (string, os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !IsBackupFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return "", nil, err
		}
		return filepath.Join(dir, e.Name()), info, nil
	}
	return "", nil, nil
}
