// Package sqlstore implements the relational store client over database/sql.
// The embedded deployment (and all tests) back it with SQLite; every
// destructive operation is a single parameterized statement, leaving
// batching, pacing and cancellation to the engine.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"usm-go/internal/usm"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLStore implements usm.Store.
type SQLStore struct {
	db      *sql.DB
	path    string
	timeout time.Duration // statement timeout; zero means none
}

// Open opens (and if needed initializes) the embedded store at path.
// path can be a file path or ":memory:".
// timeout is the per-statement deadline; zero disables it, which is what the
// long-running maintenance statements require.
func Open(path string, timeout time.Duration) (*SQLStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying store schema: %w", err)
	}
	return &SQLStore{db: db, path: path, timeout: timeout}, nil
}

// FromDB wraps an existing connection. The caller keeps ownership of db's
// configuration but the store closes it.
func FromDB(db *sql.DB, path string) *SQLStore {
	return &SQLStore{db: db, path: path}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the store relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection to :memory: is its own database; pin the
		// pool to one connection so the schema stays visible.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// DB exposes the underlying handle for clients that share the store's
// database, such as the embedded catalog.
func (s *SQLStore) DB() *sql.DB { return s.db }

// stmtCtx applies the statement timeout, if any.
func (s *SQLStore) stmtCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// wrapConn tags connectivity failures so the engine can distinguish them
// from per-item errors.
func wrapConn(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", usm.ErrConnectivity, err)
	}
	return err
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", usm.ErrConnectivity, err)
	}
	return nil
}

func (s *SQLStore) SizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, wrapConn(err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, wrapConn(err)
	}
	return pageCount * pageSize, nil
}

func (s *SQLStore) DeleteSupersessionBatch(ctx context.Context, state usm.RevisionState, batchSize int) (int64, error) {
	ctx, cancel := s.stmtCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM supersession_edges
		WHERE rowid IN (
			SELECT se.rowid
			FROM supersession_edges se
			JOIN revisions r ON r.id = se.revision_id
			WHERE r.state = ?
			LIMIT ?
		)`, int(state), batchSize)
	if err != nil {
		return 0, wrapConn(err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) DeleteAgedStatusBatch(ctx context.Context, state usm.RevisionState, cutoff time.Time, batchSize int) (int64, error) {
	ctx, cancel := s.stmtCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM status_records
		WHERE rowid IN (
			SELECT sr.rowid
			FROM status_records sr
			JOIN revisions r ON r.id = sr.revision_id
			JOIN updates u ON u.local_id = r.local_update_id
			WHERE r.state = ? AND u.released_at < ?
			LIMIT ?
		)`, int(state), cutoff, batchSize)
	if err != nil {
		return 0, wrapConn(err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) ResolveLocalUpdateID(ctx context.Context, updateID string) (int64, error) {
	var localID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT local_id FROM updates WHERE id = ?", updateID).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("update not found: %s", updateID)
	}
	if err != nil {
		return 0, wrapConn(err)
	}
	return localID, nil
}

// PurgeUpdate removes one update and everything hanging off it, inside a
// single transaction. Edges go first, then status rows, then revisions,
// then approvals and the update row itself: an edge must never outlive the
// revision it references.
func (s *SQLStore) PurgeUpdate(ctx context.Context, localID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapConn(err)
	}
	defer tx.Rollback()

	steps := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM supersession_edges WHERE revision_id IN
			(SELECT id FROM revisions WHERE local_update_id = ?)`, []any{localID}},
		{`DELETE FROM status_records WHERE revision_id IN
			(SELECT id FROM revisions WHERE local_update_id = ?)`, []any{localID}},
		{`DELETE FROM revisions WHERE local_update_id = ?`, []any{localID}},
		{`DELETE FROM approvals WHERE local_update_id = ?`, []any{localID}},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return wrapConn(err)
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM updates WHERE local_id = ?", localID)
	if err != nil {
		return wrapConn(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update local id %d not found", localID)
	}

	if err := tx.Commit(); err != nil {
		return wrapConn(err)
	}
	return nil
}

func (s *SQLStore) IndexStats(ctx context.Context) ([]usm.IndexStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, index_name, fragmentation_percent, page_count
		FROM index_physical_stats`)
	if err != nil {
		return nil, wrapConn(err)
	}
	defer rows.Close()

	var stats []usm.IndexStat
	for rows.Next() {
		var st usm.IndexStat
		if err := rows.Scan(&st.Table, &st.Index, &st.FragmentationPercent, &st.PageCount); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RebuildIndex rebuilds the index from scratch. On SQLite this is REINDEX;
// the stats row is zeroed so the next inspection reflects the rebuild.
func (s *SQLStore) RebuildIndex(ctx context.Context, table, index string) error {
	return s.reindex(ctx, table, index)
}

// ReorganizeIndex compacts the index. SQLite has no in-place reorganize, so
// this also maps to REINDEX; the distinction matters only on servers that
// have both.
func (s *SQLStore) ReorganizeIndex(ctx context.Context, table, index string) error {
	return s.reindex(ctx, table, index)
}

func (s *SQLStore) reindex(ctx context.Context, table, index string) error {
	ctx, cancel := s.stmtCtx(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("REINDEX %q", index)); err != nil {
		return wrapConn(fmt.Errorf("reindexing %s.%s: %w", table, index, err))
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE index_physical_stats SET fragmentation_percent = 0 WHERE index_name = ?", index)
	return wrapConn(err)
}

func (s *SQLStore) UpdateStatistics(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return wrapConn(fmt.Errorf("refreshing statistics: %w", err))
	}
	return nil
}

// BackupTo writes a complete snapshot of the store to path via VACUUM INTO.
func (s *SQLStore) BackupTo(ctx context.Context, path string) error {
	ctx, cancel := s.stmtCtx(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return wrapConn(fmt.Errorf("backing up store: %w", err))
	}
	return nil
}

// RestoreFrom replaces the store file with the snapshot at path. Only valid
// for file-backed stores with no other writers; the connection pool is
// drained, the file swapped, and the pool reopened.
func (s *SQLStore) RestoreFrom(ctx context.Context, path string) error {
	if s.path == "" || s.path == ":memory:" {
		return fmt.Errorf("restore requires a file-backed store")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup artifact not accessible: %w", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("draining connections: %w", err)
	}
	if err := copyFile(path, s.path); err != nil {
		return fmt.Errorf("replacing store file: %w", err)
	}

	db, err := OpenConnection(s.path)
	if err != nil {
		return fmt.Errorf("reopening store: %w", err)
	}
	s.db = db
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Compile-time check that SQLStore implements usm.Store
var _ usm.Store = (*SQLStore)(nil)
