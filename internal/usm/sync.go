package usm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ContentDirName is the content mirror folder inside a snapshot.
const ContentDirName = "content"

// CopyStats reports one differential copy pass.
type CopyStats struct {
	Copied  int
	Skipped int
	Failed  int
	Bytes   int64
}

// Add accumulates another pass into s.
func (s *CopyStats) Add(o *CopyStats) {
	s.Copied += o.Copied
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Bytes += o.Bytes
}

// Partial reports whether the pass copied some files but failed on others.
// Partial results are surfaced as warnings, not run failures: differential
// copies are designed to be safely re-run.
func (s *CopyStats) Partial() bool {
	return s.Failed > 0 && (s.Copied > 0 || s.Skipped > 0)
}

// Copier performs differential ("newer-only") file copies. Implementations
// may parallelize internally; the engine observes only the overall stats.
// The copy rule is fixed: a destination file that is newer than or equal to
// its source is never overwritten.
type Copier interface {
	// CopyFile copies one file if the destination is missing or older.
	// Returns whether a copy actually happened.
	CopyFile(ctx context.Context, src, dst string) (bool, error)

	// CopyTree recursively copies every file under src that is missing or
	// older at the corresponding path under dst. Per-file failures are
	// counted, not fatal.
	CopyTree(ctx context.Context, src, dst string) (*CopyStats, error)
}

// SyncSource is the effective source of one synchronization: a folder that
// self-contains a backup artifact and (optionally) a content mirror.
type SyncSource struct {
	Dir        string
	BackupPath string
	ContentDir string // empty when the snapshot carries no content mirror
}

// SyncResult reports one completed synchronization.
type SyncResult struct {
	Source   SyncSource
	Backup   bool // whether the backup artifact was copied
	Content  CopyStats
	Warnings []string
}

// Syncer moves a backup artifact plus content tree between a source root and
// a destination root using the differential copy rule.
type Syncer struct {
	copier Copier
	logger Logger
}

// NewSyncer creates a Syncer using the given copier.
func NewSyncer(copier Copier, logger Logger) *Syncer {
	return &Syncer{copier: copier, logger: logger}
}

// DiscoverSource resolves the effective source folder for a sync. A flat
// layout (backup artifact or content folder directly in root) wins; otherwise
// the Year/Month/Day archive under root is scanned for the folder holding the
// most recently modified backup artifact.
func (s *Syncer) DiscoverSource(root string) (*SyncSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source root not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root is not a directory: %s", root)
	}

	if src, ok := snapshotIn(root); ok {
		return src, nil
	}

	archive, err := NewArchive(root)
	if err != nil {
		return nil, err
	}
	dir, err := archive.NewestBackupDir()
	if err != nil {
		return nil, fmt.Errorf("no flat backup and no archive backup under %s: %w", root, err)
	}
	src, ok := snapshotIn(dir)
	if !ok {
		return nil, fmt.Errorf("archive folder %s holds no backup artifact", dir)
	}
	return src, nil
}

// snapshotIn inspects dir as a self-contained snapshot. A backup artifact
// is required; the content mirror is optional. The backup and content are
// always taken from the same folder, never from sibling snapshots.
func snapshotIn(dir string) (*SyncSource, bool) {
	backupPath, _, err := findBackupFile(dir)
	if err != nil || backupPath == "" {
		return nil, false
	}
	src := &SyncSource{Dir: dir, BackupPath: backupPath}
	contentDir := filepath.Join(dir, ContentDirName)
	if info, err := os.Stat(contentDir); err == nil && info.IsDir() {
		src.ContentDir = contentDir
	}
	return src, true
}

// Sync discovers the effective source under sourceRoot and differentially
// copies its backup artifact and content mirror into destRoot. Both roots
// must be accessible before any copy is attempted.
func (s *Syncer) Sync(ctx context.Context, sourceRoot, destRoot string) (*SyncResult, error) {
	src, err := s.DiscoverSource(sourceRoot)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(destRoot); err != nil {
		return nil, fmt.Errorf("destination root not accessible: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("destination root is not a directory: %s", destRoot)
	}

	return s.syncFrom(ctx, src, destRoot)
}

// SyncDir synchronizes one specific snapshot folder (no discovery) into
// destRoot. Used for archive selections.
func (s *Syncer) SyncDir(ctx context.Context, snapshotDir, destRoot string) (*SyncResult, error) {
	src, ok := snapshotIn(snapshotDir)
	if !ok {
		return nil, fmt.Errorf("folder %s holds no backup artifact", snapshotDir)
	}
	if err := os.MkdirAll(destRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating destination: %w", err)
	}
	return s.syncFrom(ctx, src, destRoot)
}

func (s *Syncer) syncFrom(ctx context.Context, src *SyncSource, destRoot string) (*SyncResult, error) {
	res := &SyncResult{Source: *src}

	dstBackup := filepath.Join(destRoot, filepath.Base(src.BackupPath))
	copied, err := s.copier.CopyFile(ctx, src.BackupPath, dstBackup)
	if err != nil {
		return res, fmt.Errorf("copying backup artifact: %w", err)
	}
	res.Backup = copied

	if src.ContentDir != "" {
		stats, err := s.copier.CopyTree(ctx, src.ContentDir, filepath.Join(destRoot, ContentDirName))
		if stats != nil {
			res.Content = *stats
		}
		if err != nil {
			return res, fmt.Errorf("copying content tree: %w", err)
		}
		if res.Content.Partial() {
			w := fmt.Sprintf("content copy partial: %d file(s) failed, safe to re-run", res.Content.Failed)
			res.Warnings = append(res.Warnings, w)
			s.logger.Warn("partial content copy", "failed", res.Content.Failed, "copied", res.Content.Copied)
		}
	}

	s.logger.Info("sync complete",
		"source", src.Dir, "dest", destRoot,
		"backupCopied", res.Backup,
		"contentCopied", res.Content.Copied, "contentSkipped", res.Content.Skipped)
	return res, nil
}

// SyncAll applies the differential copy to every snapshot folder in dirs,
// mirroring each leaf's archive-relative path under destRoot. Per-leaf
// failures are collected and the remaining leaves still run.
func (s *Syncer) SyncAll(ctx context.Context, archiveRoot string, dirs []string, destRoot string) ([]*SyncResult, []error) {
	var results []*SyncResult
	var errs []error

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return results, errs
		}

		rel, err := filepath.Rel(archiveRoot, dir)
		if err != nil {
			rel = filepath.Base(dir)
		}
		res, err := s.SyncDir(ctx, dir, filepath.Join(destRoot, rel))
		if err != nil {
			s.logger.Warn("snapshot sync failed", "source", dir, "error", err)
			errs = append(errs, fmt.Errorf("syncing %s: %w", dir, err))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}
