// Package copier implements the differential bulk copy utility: a worker
// pool that transfers only files missing from or older at the destination,
// with bounded per-file retries for transient sharing violations.
package copier

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"usm-go/internal/usm"
)

// Options tunes the copier. Zero values fall back to defaults.
type Options struct {
	Workers   int           // concurrent copy workers (default 4)
	Retries   uint          // per-file retry attempts (default 3)
	RetryWait time.Duration // wait between retries (default 500ms)
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Retries == 0 {
		o.Retries = 3
	}
	if o.RetryWait <= 0 {
		o.RetryWait = 500 * time.Millisecond
	}
	return o
}

// Copier is the filesystem implementation of usm.Copier.
type Copier struct {
	opts   Options
	logger usm.Logger
}

// New creates a Copier with the given options.
func New(opts Options, logger usm.Logger) *Copier {
	return &Copier{opts: opts.withDefaults(), logger: logger}
}

var _ usm.Copier = (*Copier)(nil)

// needsCopy applies the differential rule: copy only when the destination is
// missing or strictly older than the source. A destination that is newer or
// equal is never overwritten.
func needsCopy(srcInfo fs.FileInfo, dst string) (bool, error) {
	dstInfo, err := os.Stat(dst)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return dstInfo.ModTime().Before(srcInfo.ModTime()), nil
}

// CopyFile copies one file if the destination is missing or older. Returns
// whether a copy happened.
func (c *Copier) CopyFile(ctx context.Context, src, dst string) (bool, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, fmt.Errorf("stat source: %w", err)
	}
	need, err := needsCopy(srcInfo, dst)
	if err != nil {
		return false, fmt.Errorf("stat destination: %w", err)
	}
	if !need {
		return false, nil
	}
	if err := c.copyOne(ctx, src, dst, srcInfo); err != nil {
		return false, err
	}
	return true, nil
}

// CopyTree walks src and differentially copies every regular file to the
// corresponding path under dst. Files are fed to a worker pool; per-file
// failures are counted and the rest of the tree still copies.
func (c *Copier) CopyTree(ctx context.Context, src, dst string) (*usm.CopyStats, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("source not accessible: %w", err)
	}

	type job struct {
		src  string
		dst  string
		info fs.FileInfo
	}

	jobs := make(chan job)
	var mu sync.Mutex
	stats := &usm.CopyStats{}
	var wg sync.WaitGroup

	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				err := c.copyOne(ctx, j.src, j.dst, j.info)
				mu.Lock()
				if err != nil {
					stats.Failed++
					c.logger.Warn("file copy failed", "src", j.src, "error", err)
				} else {
					stats.Copied++
					stats.Bytes += j.info.Size()
				}
				mu.Unlock()
			}
		}()
	}

	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		need, err := needsCopy(info, target)
		if err != nil {
			return err
		}
		if !need {
			mu.Lock()
			stats.Skipped++
			mu.Unlock()
			return nil
		}
		jobs <- job{src: path, dst: target, info: info}
		return nil
	})

	close(jobs)
	wg.Wait()

	if walkErr != nil {
		return stats, fmt.Errorf("walking source tree: %w", walkErr)
	}
	return stats, nil
}

// copyOne transfers a single file with bounded retries, writing through a
// temp file and renaming so an interrupted copy never leaves a truncated
// destination. The destination mtime is set to the source mtime; the
// differential rule depends on it.
func (c *Copier) copyOne(ctx context.Context, src, dst string, srcInfo fs.FileInfo) error {
	return retry.Do(
		func() error { return copyFileOnce(src, dst, srcInfo) },
		retry.Context(ctx),
		retry.Attempts(c.opts.Retries),
		retry.Delay(c.opts.RetryWait),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func copyFileOnce(src, dst string, srcInfo fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
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

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copying data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return fmt.Errorf("setting mtime: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	success = true
	return nil
}
