package usm

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

const restoreInstructionsName = "restore.txt"

// ExportParams describes one snapshot export.
type ExportParams struct {
	// ExportRoot is the archive root the snapshot is created under.
	ExportRoot string

	// BackupPath is the store backup artifact to export.
	BackupPath string

	// ContentDir is the content tree to mirror. Empty exports the backup only.
	ContentDir string

	// Encryptor, when non-nil and configured, encrypts the backup artifact
	// for air-gapped transfer. Content files stay plaintext; they are
	// public update payloads, and encrypting them would defeat the
	// differential copy on the receiving side.
	Encryptor Encryptor
}

// ExportResult reports one built snapshot.
type ExportResult struct {
	SnapshotDir string
	BackupPath  string
	Encrypted   bool
	Content     CopyStats
}

// Exporter assembles self-contained export snapshots under a Year/Month/Day
// archive and pushes them to transport media.
type Exporter struct {
	copier Copier
	clock  Clock
	logger Logger
}

// NewExporter creates an Exporter using the given copier.
func NewExporter(copier Copier, clock Clock, logger Logger) *Exporter {
	return &Exporter{copier: copier, clock: clock, logger: logger}
}

// BuildSnapshot creates <ExportRoot>/<Year>/<Month>/<Day>/ holding the backup
// artifact, the content mirror, and a restore instructions file. The snapshot
// is self-contained: restoring it never requires a sibling snapshot.
func (e *Exporter) BuildSnapshot(ctx context.Context, params ExportParams) (*ExportResult, error) {
	if _, err := os.Stat(params.BackupPath); err != nil {
		return nil, fmt.Errorf("backup artifact not accessible: %w", err)
	}

	now := e.clock.Now()
	snapshotDir := filepath.Join(params.ExportRoot,
		strconv.Itoa(now.Year()), MonthFolderName(now), strconv.Itoa(now.Day()))
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	res := &ExportResult{SnapshotDir: snapshotDir}

	if params.Encryptor != nil && params.Encryptor.IsConfigured() {
		dst := filepath.Join(snapshotDir, filepath.Base(params.BackupPath)+".age")
		if err := encryptFile(params.Encryptor, params.BackupPath, dst); err != nil {
			return nil, fmt.Errorf("encrypting backup artifact: %w", err)
		}
		res.BackupPath = dst
		res.Encrypted = true
	} else {
		dst := filepath.Join(snapshotDir, filepath.Base(params.BackupPath))
		if _, err := e.copier.CopyFile(ctx, params.BackupPath, dst); err != nil {
			return nil, fmt.Errorf("copying backup artifact: %w", err)
		}
		res.BackupPath = dst
	}

	if params.ContentDir != "" {
		stats, err := e.copier.CopyTree(ctx, params.ContentDir, filepath.Join(snapshotDir, ContentDirName))
		if stats != nil {
			res.Content = *stats
		}
		if err != nil {
			return res, fmt.Errorf("mirroring content tree: %w", err)
		}
	}

	if err := e.writeInstructions(res); err != nil {
		return res, err
	}

	e.logger.Info("snapshot exported",
		"dir", snapshotDir, "encrypted", res.Encrypted,
		"contentCopied", res.Content.Copied)
	return res, nil
}

// writeInstructions writes a human-facing restore.txt next to the artifact.
// The file is documentation for the operator at the receiving site; nothing
// parses it.
func (e *Exporter) writeInstructions(res *ExportResult) error {
	artifact := filepath.Base(res.BackupPath)
	text := "Restore instructions\n" +
		"====================\n\n" +
		"This folder is a self-contained snapshot: the backup artifact and the\n" +
		"content mirror were taken together and must be restored together.\n\n"
	if res.Encrypted {
		text += fmt.Sprintf("1. Decrypt the artifact:\n     usm decrypt %s\n", artifact) +
			fmt.Sprintf("2. Restore the store:\n     usm restore %s\n", artifact[:len(artifact)-len(".age")])
	} else {
		text += fmt.Sprintf("1. Restore the store:\n     usm restore %s\n", artifact)
	}
	text += "3. Differentially copy the content mirror onto the content root:\n" +
		"     usm sync --source . --dest <content root>\n"

	path := filepath.Join(res.SnapshotDir, restoreInstructionsName)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("writing restore instructions: %w", err)
	}
	return nil
}

// Push uploads every file of a snapshot directory to the transport, keyed by
// its path relative to the export root. Returns the number of objects stored.
func (e *Exporter) Push(ctx context.Context, t Transport, exportRoot, snapshotDir string) (int, error) {
	if err := t.Validate(ctx); err != nil {
		return 0, fmt.Errorf("transport %s not accessible: %w", t.Name(), err)
	}

	count := 0
	err := filepath.WalkDir(snapshotDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(exportRoot, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if err := t.Put(ctx, key, f, info.Size()); err != nil {
			return fmt.Errorf("uploading %s: %w", key, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	e.logger.Info("snapshot pushed", "transport", t.Name(), "objects", count)
	return count, nil
}

// encryptFile encrypts src into dst using a temp file + rename so a crashed
// export never leaves a truncated artifact behind.
func encryptFile(enc Encryptor, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := enc.Encrypt(in, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	success = true
	return nil
}
