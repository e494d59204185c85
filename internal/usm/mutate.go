package usm

import (
	"context"
	"fmt"
	"time"
)

// BatchParams bounds destructive store operations. Small batches with pauses
// cap the duration any single delete holds a lock, trading wall-clock time
// for contention safety.
type BatchParams struct {
	BatchSize     int
	Pause         time.Duration
	ProgressEvery int64 // log progress at this row granularity
	PurgeGroup    int   // purge progress is reported per this many items
}

// DefaultBatchParams returns the repository defaults.
func DefaultBatchParams() BatchParams {
	return BatchParams{
		BatchSize:     10_000,
		Pause:         time.Second,
		ProgressEvery: 50_000,
		PurgeGroup:    100,
	}
}

// ItemError records a single failed catalog or store call within a batch.
type ItemError struct {
	UpdateID string
	Err      error
}

// ItemOutcome accumulates per-item results for a continue-on-error loop.
type ItemOutcome struct {
	Succeeded int
	Failed    []ItemError
}

// Mutator executes the destructive maintenance operations: supersession-edge
// pruning, aged status pruning, metadata purge, and the per-item decline and
// approve calls. Individual item failures are collected and skipped;
// connectivity loss aborts the current operation.
type Mutator struct {
	store   Store
	catalog Catalog
	logger  Logger
}

// NewMutator creates a Mutator over the given store and catalog.
func NewMutator(store Store, catalog Catalog, logger Logger) *Mutator {
	return &Mutator{store: store, catalog: catalog, logger: logger}
}

// pause sleeps for d or until ctx is cancelled, whichever comes first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PruneSupersession deletes all supersession edges whose owning revision is
// in the given state, batchSize rows at a time, pausing between batches.
// Returns total rows removed. Cancellation is checked between batches, so a
// cancel takes effect within one batch.
func (m *Mutator) PruneSupersession(ctx context.Context, state RevisionState, p BatchParams) (int64, error) {
	var total int64
	var lastReported int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := m.store.DeleteSupersessionBatch(ctx, state, p.BatchSize)
		if err != nil {
			return total, fmt.Errorf("deleting supersession batch (state=%s): %w", state, err)
		}
		total += n
		if n == 0 {
			break
		}

		if p.ProgressEvery > 0 && total-lastReported >= p.ProgressEvery {
			m.logger.Info("supersession pruning progress", "state", state.String(), "rows", total)
			lastReported = total
		}

		if err := pause(ctx, p.Pause); err != nil {
			return total, err
		}
	}

	m.logger.Info("supersession pruning complete", "state", state.String(), "rows", total)
	return total, nil
}

// PruneAgedStatus deletes per-computer status rows for revisions in the given
// state whose update was released before cutoff, with the same batching and
// pacing as supersession pruning.
func (m *Mutator) PruneAgedStatus(ctx context.Context, state RevisionState, cutoff time.Time, p BatchParams) (int64, error) {
	var total int64
	var lastReported int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := m.store.DeleteAgedStatusBatch(ctx, state, cutoff, p.BatchSize)
		if err != nil {
			return total, fmt.Errorf("deleting aged status batch (state=%s): %w", state, err)
		}
		total += n
		if n == 0 {
			break
		}

		if p.ProgressEvery > 0 && total-lastReported >= p.ProgressEvery {
			m.logger.Info("status pruning progress", "state", state.String(), "rows", total)
			lastReported = total
		}

		if err := pause(ctx, p.Pause); err != nil {
			return total, err
		}
	}

	m.logger.Info("status pruning complete", "state", state.String(), "rows", total)
	return total, nil
}

// PurgeUpdates permanently removes metadata for each update. Items are
// processed independently: a failed resolve or purge is recorded and the loop
// continues. Connectivity loss aborts immediately, since every later item
// would fail the same way. Progress is logged per group of p.PurgeGroup items.
func (m *Mutator) PurgeUpdates(ctx context.Context, updates []Update, p BatchParams) (*ItemOutcome, error) {
	out := &ItemOutcome{}
	group := p.PurgeGroup
	if group <= 0 {
		group = 100
	}

	for i, u := range updates {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		if err := m.purgeOne(ctx, u.ID); err != nil {
			if IsConnectivityErr(err) {
				return out, fmt.Errorf("purging update %s: %w", u.ID, err)
			}
			m.logger.Warn("purge failed", "update", u.ID, "error", err)
			out.Failed = append(out.Failed, ItemError{UpdateID: u.ID, Err: err})
			continue
		}
		out.Succeeded++

		if (i+1)%group == 0 {
			m.logger.Info("purge progress", "processed", i+1, "total", len(updates))
		}
	}

	m.logger.Info("purge complete", "succeeded", out.Succeeded, "failed", len(out.Failed))
	return out, nil
}

func (m *Mutator) purgeOne(ctx context.Context, updateID string) error {
	localID, err := m.store.ResolveLocalUpdateID(ctx, updateID)
	if err != nil {
		return fmt.Errorf("resolving local id: %w", err)
	}
	if err := m.store.PurgeUpdate(ctx, localID); err != nil {
		return fmt.Errorf("purging local id %d: %w", localID, err)
	}
	return nil
}

// DeclineAll declines each update, logging and skipping individual failures.
func (m *Mutator) DeclineAll(ctx context.Context, updates []Update) (*ItemOutcome, error) {
	out := &ItemOutcome{}
	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := m.catalog.Decline(ctx, u.ID); err != nil {
			m.logger.Warn("decline failed", "update", u.ID, "error", err)
			out.Failed = append(out.Failed, ItemError{UpdateID: u.ID, Err: err})
			continue
		}
		out.Succeeded++
	}
	return out, nil
}

// ApproveAll approves each update for the target group, logging and skipping
// individual failures. The caller is responsible for honoring the safety
// valve: an oversized candidate set must never reach this method.
func (m *Mutator) ApproveAll(ctx context.Context, updates []Update, targetGroup string) (*ItemOutcome, error) {
	out := &ItemOutcome{}
	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := m.catalog.Approve(ctx, u.ID, targetGroup); err != nil {
			m.logger.Warn("approve failed", "update", u.ID, "error", err)
			out.Failed = append(out.Failed, ItemError{UpdateID: u.ID, Err: err})
			continue
		}
		out.Succeeded++
	}
	return out, nil
}
