package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"usm-go/internal/usm"
)

// MemoryTransport keeps all objects in memory. Useful for tests.
// Safe for concurrent use.
type MemoryTransport struct {
	name    string
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryTransport creates an empty in-memory transport.
func NewMemoryTransport(name string) *MemoryTransport {
	return &MemoryTransport{name: name, objects: make(map[string][]byte)}
}

var _ usm.Transport = (*MemoryTransport)(nil)

func (m *MemoryTransport) Name() string { return m.name }

func (m *MemoryTransport) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading object: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemoryTransport) Get(ctx context.Context, key string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("object not found: %s", key)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	return nil
}

func (m *MemoryTransport) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Validate always succeeds for the in-memory transport.
func (m *MemoryTransport) Validate(context.Context) error { return nil }
