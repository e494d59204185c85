package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"usm-go/internal/usm"
)

// FakeStore is an in-memory usm.Store. Rows are modeled as per-state
// counters: a delete batch drains min(batchSize, remaining) rows, which is
// enough to exercise batching, pacing and termination without real SQL.
// Safe for concurrent use.
type FakeStore struct {
	mu sync.Mutex

	Size int64

	SupersessionRows map[usm.RevisionState]int64
	StatusRows       map[usm.RevisionState]int64
	Stats            []usm.IndexStat
	LocalIDs         map[string]int64

	PingErr     error
	DeleteErr   error
	ResolveErrs map[string]error
	PurgeErrs   map[int64]error
	StatsErr    error

	// DeleteErrAfter makes the Nth delete batch fail with DeleteErr.
	// Zero means DeleteErr (when set) fails every batch.
	DeleteErrAfter int

	RebuildErrs    map[string]error
	ReorganizeErrs map[string]error
	UpdateStatsErr error
	BackupErr      error

	Purged         []int64
	Rebuilt        []string
	Reorganized    []string
	StatsRefreshed int
	DeleteCalls    int
	RestoredFrom   string
}

var _ usm.Store = (*FakeStore)(nil)

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		SupersessionRows: make(map[usm.RevisionState]int64),
		StatusRows:       make(map[usm.RevisionState]int64),
		LocalIDs:         make(map[string]int64),
		ResolveErrs:      make(map[string]error),
		PurgeErrs:        make(map[int64]error),
		RebuildErrs:      make(map[string]error),
		ReorganizeErrs:   make(map[string]error),
	}
}

func (s *FakeStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

func (s *FakeStore) SizeBytes(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Size, nil
}

func (s *FakeStore) DeleteSupersessionBatch(ctx context.Context, state usm.RevisionState, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErr(); err != nil {
		return 0, err
	}
	return drain(s.SupersessionRows, state, batchSize), nil
}

func (s *FakeStore) DeleteAgedStatusBatch(ctx context.Context, state usm.RevisionState, cutoff time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErr(); err != nil {
		return 0, err
	}
	return drain(s.StatusRows, state, batchSize), nil
}

// deleteErr applies the DeleteErr/DeleteErrAfter injection. Caller holds mu.
func (s *FakeStore) deleteErr() error {
	s.DeleteCalls++
	if s.DeleteErr == nil {
		return nil
	}
	if s.DeleteErrAfter == 0 || s.DeleteCalls >= s.DeleteErrAfter {
		return s.DeleteErr
	}
	return nil
}

func drain(rows map[usm.RevisionState]int64, state usm.RevisionState, batchSize int) int64 {
	n := rows[state]
	if n > int64(batchSize) {
		n = int64(batchSize)
	}
	rows[state] -= n
	return n
}

func (s *FakeStore) ResolveLocalUpdateID(ctx context.Context, updateID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ResolveErrs[updateID]; err != nil {
		return 0, err
	}
	id, ok := s.LocalIDs[updateID]
	if !ok {
		return 0, fmt.Errorf("update %s not found", updateID)
	}
	return id, nil
}

func (s *FakeStore) PurgeUpdate(ctx context.Context, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.PurgeErrs[localID]; err != nil {
		return err
	}
	s.Purged = append(s.Purged, localID)
	return nil
}

func (s *FakeStore) IndexStats(ctx context.Context) ([]usm.IndexStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatsErr != nil {
		return nil, s.StatsErr
	}
	out := make([]usm.IndexStat, len(s.Stats))
	copy(out, s.Stats)
	return out, nil
}

func (s *FakeStore) RebuildIndex(ctx context.Context, table, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := table + "." + index
	if err := s.RebuildErrs[key]; err != nil {
		return err
	}
	s.Rebuilt = append(s.Rebuilt, key)
	return nil
}

func (s *FakeStore) ReorganizeIndex(ctx context.Context, table, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := table + "." + index
	if err := s.ReorganizeErrs[key]; err != nil {
		return err
	}
	s.Reorganized = append(s.Reorganized, key)
	return nil
}

func (s *FakeStore) UpdateStatistics(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateStatsErr != nil {
		return s.UpdateStatsErr
	}
	s.StatsRefreshed++
	return nil
}

// BackupTo writes a small placeholder artifact so retention and export code
// can stat real files.
func (s *FakeStore) BackupTo(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BackupErr != nil {
		return s.BackupErr
	}
	return os.WriteFile(path, []byte("fake store snapshot\n"), 0644)
}

func (s *FakeStore) RestoreFrom(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RestoredFrom = path
	return nil
}

func (s *FakeStore) Close() error { return nil }
