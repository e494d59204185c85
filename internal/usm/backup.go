package usm

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	backupPrefix = "store-"
	backupExt    = ".bak"
	backupDate   = "20060102"
)

// BackupResult reports one completed store backup.
type BackupResult struct {
	Path      string
	SizeBytes int64
	Duration  time.Duration
}

// RetentionResult reports one retention sweep over prior backups.
type RetentionResult struct {
	Deleted    int
	BytesFreed int64
}

// BackupManager produces store backups and ages out old ones.
type BackupManager struct {
	store  Store
	clock  Clock
	logger Logger
}

// NewBackupManager creates a BackupManager over the given store.
func NewBackupManager(store Store, clock Clock, logger Logger) *BackupManager {
	return &BackupManager{store: store, clock: clock, logger: logger}
}

// BackupFileName returns the artifact name for the given day and
// disambiguator. n == 0 yields the plain name, n > 0 appends "-n".
func BackupFileName(day time.Time, n int) string {
	if n == 0 {
		return backupPrefix + day.Format(backupDate) + backupExt
	}
	return fmt.Sprintf("%s%s-%d%s", backupPrefix, day.Format(backupDate), n, backupExt)
}

// IsBackupFile reports whether name looks like a backup artifact.
func IsBackupFile(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupExt)
}

// Backup writes a full store snapshot into dir, avoiding collision with any
// existing same-day backup by appending an incrementing suffix.
func (b *BackupManager) Backup(ctx context.Context, dir string) (*BackupResult, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	day := b.clock.Now()
	var path string
	for n := 0; ; n++ {
		candidate := filepath.Join(dir, BackupFileName(day, n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			path = candidate
			break
		}
	}

	start := b.clock.Now()
	if err := b.store.BackupTo(ctx, path); err != nil {
		return nil, fmt.Errorf("backing up store: %w", err)
	}
	duration := b.clock.Now().Sub(start)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat backup artifact: %w", err)
	}

	res := &BackupResult{Path: path, SizeBytes: info.Size(), Duration: duration}
	b.logger.Info("backup complete", "path", path, "bytes", info.Size(), "duration", duration.String())
	return res, nil
}

// ApplyRetention deletes backup artifacts in dir whose modification time is
// older than maxAgeDays. The most recently modified artifact is always kept,
// even when every artifact is past the cutoff: a run must never end with
// zero backups.
func (b *BackupManager) ApplyRetention(dir string, maxAgeDays int) (*RetentionResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	type artifact struct {
		path string
		info fs.FileInfo
	}
	var artifacts []artifact
	var newest int = -1

	for _, e := range entries {
		if e.IsDir() || !IsBackupFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		artifacts = append(artifacts, artifact{path: filepath.Join(dir, e.Name()), info: info})
		if newest < 0 || info.ModTime().After(artifacts[newest].info.ModTime()) {
			newest = len(artifacts) - 1
		}
	}

	cutoff := b.clock.Now().AddDate(0, 0, -maxAgeDays)
	res := &RetentionResult{}

	for i, a := range artifacts {
		if i == newest {
			continue
		}
		if !a.info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(a.path); err != nil {
			return res, fmt.Errorf("removing aged backup %s: %w", a.path, err)
		}
		res.Deleted++
		res.BytesFreed += a.info.Size()
		b.logger.Info("aged backup removed", "path", a.path, "bytes", a.info.Size())
	}

	return res, nil
}
