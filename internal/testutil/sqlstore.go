package testutil

import (
	"testing"

	"usm-go/internal/sqlstore"
)

// NewTestStore creates a new in-memory SQLite update store with schema
// applied. The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *sqlstore.SQLStore {
	t.Helper()

	db, err := sqlstore.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if _, err := db.Exec(sqlstore.Schema); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	s := sqlstore.FromDB(db, ":memory:")

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
