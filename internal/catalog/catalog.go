// Package catalog implements the update catalog client for the embedded
// deployment, where the catalog and the relational store share one database.
// External responses are converted into typed engine values at this boundary:
// flags become plain booleans and classifications a typed enum.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"usm-go/internal/usm"
)

// SQLCatalog implements usm.Catalog over the store's database.
type SQLCatalog struct {
	db *sql.DB
}

// New creates a catalog client sharing the store's database handle.
func New(db *sql.DB) *SQLCatalog {
	return &SQLCatalog{db: db}
}

var _ usm.Catalog = (*SQLCatalog)(nil)

// ListUpdates returns the full current update set with approval groups
// attached. A query failure yields no data, never a partial set.
func (c *SQLCatalog) ListUpdates(ctx context.Context) ([]usm.Update, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, title, classification, released_at,
		       is_declined, is_superseded, is_expired, local_id
		FROM updates ORDER BY released_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing updates: %w", err)
	}
	defer rows.Close()

	var updates []usm.Update
	byLocal := map[int64]int{}
	for rows.Next() {
		var u usm.Update
		var classification string
		var released time.Time
		var localID int64
		if err := rows.Scan(&u.ID, &u.Title, &classification, &released,
			&u.IsDeclined, &u.IsSuperseded, &u.IsExpired, &localID); err != nil {
			return nil, fmt.Errorf("scanning update: %w", err)
		}
		u.Classification = usm.ParseClassification(classification)
		u.ReleasedAt = released
		byLocal[localID] = len(updates)
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing updates: %w", err)
	}

	approvals, err := c.db.QueryContext(ctx, "SELECT local_update_id, target_group FROM approvals")
	if err != nil {
		return nil, fmt.Errorf("listing approvals: %w", err)
	}
	defer approvals.Close()
	for approvals.Next() {
		var localID int64
		var group string
		if err := approvals.Scan(&localID, &group); err != nil {
			return nil, fmt.Errorf("scanning approval: %w", err)
		}
		if i, ok := byLocal[localID]; ok {
			updates[i].ApprovedGroups = append(updates[i].ApprovedGroups, group)
		}
	}
	if err := approvals.Err(); err != nil {
		return nil, fmt.Errorf("listing approvals: %w", err)
	}

	if updates == nil {
		updates = []usm.Update{}
	}
	return updates, nil
}

// Decline marks the update declined and retires its revisions to the
// declined state.
func (c *SQLCatalog) Decline(ctx context.Context, updateID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE updates SET is_declined = 1 WHERE id = ?", updateID)
	if err != nil {
		return fmt.Errorf("declining update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update not found: %s", updateID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE revisions SET state = ?
		WHERE local_update_id = (SELECT local_id FROM updates WHERE id = ?)`,
		int(usm.StateDeclined), updateID)
	if err != nil {
		return fmt.Errorf("retiring revisions: %w", err)
	}

	return tx.Commit()
}

// Approve records an install approval for the target group. Approving an
// already-approved update is a no-op.
func (c *SQLCatalog) Approve(ctx context.Context, updateID string, targetGroup string) error {
	var localID int64
	err := c.db.QueryRowContext(ctx,
		"SELECT local_id FROM updates WHERE id = ?", updateID).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update not found: %s", updateID)
	}
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO approvals (local_update_id, target_group) VALUES (?, ?)
		ON CONFLICT(local_update_id, target_group) DO NOTHING`,
		localID, targetGroup)
	if err != nil {
		return fmt.Errorf("recording approval: %w", err)
	}
	return nil
}
