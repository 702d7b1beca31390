// Package testutil provides shared helpers for tests that need the agent's
// remote Postgres backend. Everything here gates on TEST_REMOTE_DATABASE_URL
// and skips when it is absent, so the default test run needs no services: the
// local-store and engine suites run purely on the embedded database.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver for database/sql
)

// DSNEnv names the environment variable holding the remote test database DSN.
// It deliberately mirrors the agent's REMOTE_DATABASE_URL config variable.
const DSNEnv = "TEST_REMOTE_DATABASE_URL"

// RemoteDSN returns the remote test DSN, skipping the test when unset so the
// remote-store suites are opt-in.
func RemoteDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skip(DSNEnv + " not set; skipping remote store test")
	}
	return dsn
}

// NewPool opens a *pgxpool.Pool against the remote test database, verifies it
// answers a ping, and closes it when the test (and all its subtests) finish.
// This is the handle the remotestore adapters are constructed with in tests.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool, err := pgxpool.New(context.Background(), RemoteDSN(t))
	if err != nil {
		t.Fatalf("testutil.NewPool: open pool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("testutil.NewPool: ping: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

// NewSQLDB opens a *sql.DB against the remote test database via the pgx
// database/sql driver. Goose only speaks database/sql, so migration tests
// need this instead of a pool. Closed when the test finishes.
func NewSQLDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("pgx", RemoteDSN(t))
	if err != nil {
		t.Fatalf("testutil.NewSQLDB: open: %v", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		t.Fatalf("testutil.NewSQLDB: ping: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// MustOpenSQLDB opens a *sql.DB for the given DSN and panics on any error.
// For TestMain, where no *testing.T exists yet; the caller closes it.
func MustOpenSQLDB(dsn string) *sql.DB {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		panic("testutil.MustOpenSQLDB: open: " + err.Error())
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		panic("testutil.MustOpenSQLDB: ping: " + err.Error())
	}
	return db
}
