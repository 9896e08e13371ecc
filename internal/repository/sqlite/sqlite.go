// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of the SQLite C code, so the binary builds
// without CGo and cross-compiles like any other Go program.
//
// SCHEMA:
// The schema lives in migrations/*.sql and is applied with goose. The files
// are embedded into the binary, so a deployed server never needs the source
// tree next to it.
//
// Token expiries are INTEGER unix milliseconds. Comparing them in a WHERE
// clause is then a plain integer comparison, which is what the single-use
// token updates rely on.
//
// There are no FOREIGN KEY constraints. Account deletion removes the user,
// its accounts and its snippets as separate statements (see
// service.AccountService.DeleteAccount).
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB wraps a sql.DB connection pool and implements the repository interfaces.
type DB struct {
	conn       *sql.DB
	migrations *goose.Provider
}

// New opens the database at dsn and applies every pending migration.
//
// dsn examples:
//   - "data/snippets.db"                        → file-based database
//   - "file:test?mode=memory&cache=shared"      → shared in-memory database
func New(ctx context.Context, dsn string) (*DB, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.MigrateUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Open connects to dsn without touching the schema. The migrate command
// uses it so that "status" and "down" don't first apply everything.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Ping verifies the connection actually works. A bad path or permissions
	// issue would otherwise only surface on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress. It is
	// meaningless for in-memory databases.
	if !isMemory(dsn) {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
		}
	}

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: loading migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrations)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: creating migration provider: %w", err)
	}

	return &DB{conn: conn, migrations: provider}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// MigrateUp applies all pending migrations and returns what ran.
func (db *DB) MigrateUp(ctx context.Context) ([]*goose.MigrationResult, error) {
	return db.migrations.Up(ctx)
}

// MigrateDown rolls back the most recently applied migration.
func (db *DB) MigrateDown(ctx context.Context) (*goose.MigrationResult, error) {
	return db.migrations.Down(ctx)
}

// MigrationStatus lists every known migration with its applied state.
func (db *DB) MigrationStatus(ctx context.Context) ([]*goose.MigrationStatus, error) {
	return db.migrations.Status(ctx)
}

// withPragmas appends connection-level pragmas to dsn. modernc applies
// _pragma parameters to every connection the pool opens, unlike a one-off
// Exec which only reaches the connection it happens to run on.
func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// Expiry columns hold unix milliseconds, NULL for "no token".

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
