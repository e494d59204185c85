// Package transport implements snapshot transport backends: a filesystem
// target for staging physical media, an S3 target for network media, and an
// in-memory target for tests.
package transport

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"usm-go/internal/usm"
)

// FileSystemTransport stores snapshot objects as files under a root
// directory, keyed by their archive-relative path.
type FileSystemTransport struct {
	name string
	root string
}

// NewFileSystemTransport creates a transport rooted at the given path,
// creating the root if needed.
func NewFileSystemTransport(name, root string) (*FileSystemTransport, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating transport root: %w", err)
	}
	return &FileSystemTransport{name: name, root: root}, nil
}

var _ usm.Transport = (*FileSystemTransport)(nil)

func (t *FileSystemTransport) Name() string { return t.name }

// Put writes the object using a temp file + rename so a torn write never
// leaves a partial object under its final key.
func (t *FileSystemTransport) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destPath := filepath.Join(t.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming object into place: %w", err)
	}
	success = true
	return nil
}

func (t *FileSystemTransport) Get(ctx context.Context, key string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(filepath.Join(t.root, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("object not found: %s", key)
		}
		return fmt.Errorf("opening object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading object: %w", err)
	}
	return nil
}

func (t *FileSystemTransport) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (t *FileSystemTransport) Validate(ctx context.Context) error {
	info, err := os.Stat(t.root)
	if err != nil {
		return fmt.Errorf("transport root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("transport root is not a directory: %s", t.root)
	}
	return nil
}
