package copier_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"usm-go/internal/copier"
	"usm-go/internal/testutil"
)

func newTestCopier(t *testing.T) *copier.Copier {
	t.Helper()
	return copier.New(copier.Options{
		Workers:   2,
		Retries:   1,
		RetryWait: time.Millisecond,
	}, &testutil.RecordingLogger{})
}

func writeFile(t *testing.T, path, data string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}
}

func TestCopyFile(t *testing.T) {
	c := newTestCopier(t)
	ctx := context.Background()
	older := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)

	t.Run("missing destination", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src.bak")
		dst := filepath.Join(dir, "sub", "dst.bak")
		writeFile(t, src, "payload", newer)

		copied, err := c.CopyFile(ctx, src, dst)
		if err != nil {
			t.Fatalf("copy failed: %v", err)
		}
		if !copied {
			t.Error("expected a copy to happen")
		}

		data, err := os.ReadFile(dst)
		if err != nil {
			t.Fatalf("failed to read destination: %v", err)
		}
		if string(data) != "payload" {
			t.Errorf("unexpected destination content: %q", data)
		}

		// The destination mtime mirrors the source so the next run skips it.
		info, err := os.Stat(dst)
		if err != nil {
			t.Fatalf("failed to stat destination: %v", err)
		}
		if !info.ModTime().Equal(newer) {
			t.Errorf("expected mtime %v, got %v", newer, info.ModTime())
		}
	})

	t.Run("older destination is replaced", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src.bak")
		dst := filepath.Join(dir, "dst.bak")
		writeFile(t, src, "new payload", newer)
		writeFile(t, dst, "old payload", older)

		copied, err := c.CopyFile(ctx, src, dst)
		if err != nil {
			t.Fatalf("copy failed: %v", err)
		}
		if !copied {
			t.Error("expected a copy to happen")
		}
		data, _ := os.ReadFile(dst)
		if string(data) != "new payload" {
			t.Errorf("unexpected destination content: %q", data)
		}
	})

	t.Run("newer destination is never overwritten", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src.bak")
		dst := filepath.Join(dir, "dst.bak")
		writeFile(t, src, "source payload", older)
		writeFile(t, dst, "site payload", newer)

		copied, err := c.CopyFile(ctx, src, dst)
		if err != nil {
			t.Fatalf("copy failed: %v", err)
		}
		if copied {
			t.Error("expected no copy for newer destination")
		}
		data, _ := os.ReadFile(dst)
		if string(data) != "site payload" {
			t.Errorf("destination was overwritten: %q", data)
		}
	})

	t.Run("equal mtime is skipped", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src.bak")
		dst := filepath.Join(dir, "dst.bak")
		writeFile(t, src, "a", newer)
		writeFile(t, dst, "b", newer)

		copied, err := c.CopyFile(ctx, src, dst)
		if err != nil {
			t.Fatalf("copy failed: %v", err)
		}
		if copied {
			t.Error("expected no copy for equal mtimes")
		}
	})
}

func TestCopyTree(t *testing.T) {
	c := newTestCopier(t)
	ctx := context.Background()
	newer := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "ab", "one.cab"), "one", newer)
	writeFile(t, filepath.Join(src, "ab", "two.cab"), "two", newer)
	writeFile(t, filepath.Join(src, "cd", "three.cab"), "three", newer)

	stats, err := c.CopyTree(ctx, src, dst)
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if stats.Copied != 3 || stats.Skipped != 0 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Bytes != int64(len("one")+len("two")+len("three")) {
		t.Errorf("unexpected byte count: %d", stats.Bytes)
	}

	// Second run is a no-op: mtimes match, nothing qualifies.
	stats, err = c.CopyTree(ctx, src, dst)
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if stats.Copied != 0 || stats.Skipped != 3 {
		t.Errorf("expected full skip on second run, got %+v", stats)
	}

	// A new source file triggers exactly one copy on the next run.
	writeFile(t, filepath.Join(src, "cd", "four.cab"), "four", newer)
	writeFile(t, filepath.Join(dst, "ab", "one.cab"), "site edit", newer.Add(time.Hour))

	stats, err = c.CopyTree(ctx, src, dst)
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if stats.Copied != 1 || stats.Skipped != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	data, _ := os.ReadFile(filepath.Join(dst, "ab", "one.cab"))
	if string(data) != "site edit" {
		t.Errorf("newer destination was overwritten: %q", data)
	}
}

func TestCopyTree_MissingSource(t *testing.T) {
	c := newTestCopier(t)

	_, err := c.CopyTree(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir())
	if err == nil {
		t.Error("expected error for missing source")
	}
}

func TestCopyTree_Canceled(t *testing.T) {
	c := newTestCopier(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "one.cab"), "one",
		time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CopyTree(ctx, src, filepath.Join(dir, "dst"))
	if err == nil {
		t.Error("expected error for canceled context")
	}
}
