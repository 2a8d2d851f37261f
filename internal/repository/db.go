package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrLocked means another process holds the database.
var ErrLocked = errors.New("database is in use by another process")

const defaultBusyTimeout = 5 * time.Second

type openOptions struct {
	busyTimeout time.Duration
}

// OpenOption tunes Open.
type OpenOption func(*openOptions)

// WithBusyTimeout sets how long Open waits for another process to release the
// database before failing with ErrLocked.
func WithBusyTimeout(d time.Duration) OpenOption {
	return func(o *openOptions) { o.busyTimeout = d }
}

// Open opens the sqlite database at filename. Every commit is synced to disk
// before it returns. A file database is locked exclusively until the returned
// db is closed, so a second process fails with ErrLocked.
func Open(filename string, opts ...OpenOption) (*sql.DB, error) {
	o := openOptions{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=synchronous(FULL)&_pragma=foreign_keys(1)&_pragma=locking_mode(EXCLUSIVE)",
		filename, o.busyTimeout.Milliseconds())
	if filename == ":memory:" {
		dsn = filename
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("while opening database '%s': %w", filename, err)
	}
	// a single connection keeps in-memory databases shared, serializes writers
	// and holds the exclusive file lock
	db.SetMaxOpenConns(1)
	if filename != ":memory:" {
		if err := acquireLock(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("while locking database '%s': %w", filename, err)
		}
	}
	return db, nil
}

// acquireLock takes the exclusive lock right away. In exclusive locking mode
// sqlite keeps it after the transaction ends.
func acquireLock(db *sql.DB) error {
	ctx := context.Background()
	conn, err := db.Conn(ctx)
	if err != nil {
		return lockError(err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return lockError(err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return lockError(err)
	}
	return nil
}

func lockError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", ErrLocked, err)
		}
	}
	return err
}

// Migrate applies every pending schema migration.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("while loading migrations: %w", err)
	}
	defer src.Close()

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("while preparing migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("while preparing migrations: %w", err)
	}
	// m.Close would close db as well, so it is deliberately not called
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("while applying migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the currently applied migration version.
func SchemaVersion(db *sql.DB) (uint, bool, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, false, err
	}
	defer src.Close()
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, false, err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
