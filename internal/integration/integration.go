package integration

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/outreach-backend/internal/config"
	"github.com/unclebandit/outreach-backend/internal/db"
)

// TestCase is a freshly migrated sqlite database owned by one test.
type TestCase struct {
	DB   *sqlx.DB
	Conf config.DatabaseConfig
}

// NewTestCase ...
func NewTestCase(t testing.TB) *TestCase {
	t.Helper()

	conf := config.DatabaseConfig{
		Driver:       "sqlite3",
		Path:         filepath.Join(t.TempDir(), "outreach.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 8,
	}
	if _, err := db.MigrateUp(conf); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(conf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &TestCase{DB: conn, Conf: conf}
}

// Truncate ...
func (tc *TestCase) Truncate(table string) {
	tc.DB.MustExec(fmt.Sprintf("DELETE FROM %s", table))
}
