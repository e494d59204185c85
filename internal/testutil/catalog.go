package testutil

import (
	"context"
	"sync"

	"usm-go/internal/usm"
)

// FakeCatalog is an in-memory usm.Catalog with injectable failures.
// Safe for concurrent use.
type FakeCatalog struct {
	mu sync.Mutex

	Updates []usm.Update

	// ListErr, when set, is returned by ListUpdates.
	ListErr error

	// DeclineErrs and ApproveErrs inject per-update failures.
	DeclineErrs map[string]error
	ApproveErrs map[string]error

	Declined []string
	Approved map[string][]string // update ID -> target groups
}

var _ usm.Catalog = (*FakeCatalog)(nil)

// NewFakeCatalog creates a FakeCatalog holding the given updates.
func NewFakeCatalog(updates ...usm.Update) *FakeCatalog {
	return &FakeCatalog{
		Updates:     updates,
		DeclineErrs: make(map[string]error),
		ApproveErrs: make(map[string]error),
		Approved:    make(map[string][]string),
	}
}

func (c *FakeCatalog) ListUpdates(ctx context.Context) ([]usm.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	out := make([]usm.Update, len(c.Updates))
	copy(out, c.Updates)
	return out, nil
}

func (c *FakeCatalog) Decline(ctx context.Context, updateID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.DeclineErrs[updateID]; err != nil {
		return err
	}
	c.Declined = append(c.Declined, updateID)
	return nil
}

func (c *FakeCatalog) Approve(ctx context.Context, updateID string, targetGroup string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ApproveErrs[updateID]; err != nil {
		return err
	}
	c.Approved[updateID] = append(c.Approved[updateID], targetGroup)
	return nil
}

// DeclinedCount returns how many declines were recorded.
func (c *FakeCatalog) DeclinedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Declined)
}

// ApprovedCount returns how many approvals were recorded.
func (c *FakeCatalog) ApprovedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, groups := range c.Approved {
		n += len(groups)
	}
	return n
}
