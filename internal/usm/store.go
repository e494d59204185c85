package usm

import (
	"context"
	"errors"
	"time"
)

// RevisionState is the lifecycle state of an update revision. The numeric
// values are the join keys used by the supersession and status tables.
type RevisionState int

const (
	StateActive     RevisionState = 1
	StateDeclined   RevisionState = 2
	StateSuperseded RevisionState = 3
)

func (s RevisionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDeclined:
		return "declined"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// IndexStat describes the physical health of one index, as reported by the
// store's fragmentation inspection.
type IndexStat struct {
	Table                string
	Index                string
	FragmentationPercent float64
	PageCount            int64
}

// ErrConnectivity marks store errors caused by a lost or unreachable
// connection. Batch operations abort the current phase when they see it;
// per-item errors without it are logged and skipped.
var ErrConnectivity = errors.New("store connectivity lost")

// IsConnectivityErr reports whether err is (or wraps) a connectivity failure.
func IsConnectivityErr(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

// Store is the relational store holding revisions, supersession edges and
// per-computer status. All destructive operations are single statements; the
// engine supplies batching, pacing and cancellation around them.
//
// A timeout of zero on long-running operations means no statement deadline.
type Store interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// SizeBytes returns the current on-disk size of the store.
	SizeBytes(ctx context.Context) (int64, error)

	// DeleteSupersessionBatch deletes up to batchSize supersession edges whose
	// owning revision is in the given state. Returns rows affected.
	DeleteSupersessionBatch(ctx context.Context, state RevisionState, batchSize int) (int64, error)

	// DeleteAgedStatusBatch deletes up to batchSize per-computer status rows
	// joined to revisions in the given state whose update was released before
	// cutoff. Returns rows affected.
	DeleteAgedStatusBatch(ctx context.Context, state RevisionState, cutoff time.Time, batchSize int) (int64, error)

	// ResolveLocalUpdateID maps a catalog update ID to the store's local
	// numeric identifier.
	ResolveLocalUpdateID(ctx context.Context, updateID string) (int64, error)

	// PurgeUpdate removes one update's metadata and all dependent rows.
	// Purge is terminal.
	PurgeUpdate(ctx context.Context, localID int64) error

	// IndexStats returns fragmentation and size for every index.
	IndexStats(ctx context.Context) ([]IndexStat, error)

	// RebuildIndex rebuilds one index from scratch.
	RebuildIndex(ctx context.Context, table, index string) error

	// ReorganizeIndex compacts one index in place.
	ReorganizeIndex(ctx context.Context, table, index string) error

	// UpdateStatistics refreshes the store's query-planner statistics.
	UpdateStatistics(ctx context.Context) error

	// BackupTo writes a point-in-time snapshot of the store to path.
	BackupTo(ctx context.Context, path string) error

	// RestoreFrom replaces the store contents with the snapshot at path.
	// The store must not be serving other writers during a restore.
	RestoreFrom(ctx context.Context, path string) error

	// Close releases the store connection.
	Close() error
}
