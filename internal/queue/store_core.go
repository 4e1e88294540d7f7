package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"callpipe/internal/config"
)

// Store manages call persistence for one of the supported dialects.
type Store struct {
	db      *sql.DB
	dialect dialect
	target  string
}

const (
	contentionInitialBackoff = 10 * time.Millisecond
	contentionMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func retryOnContention(ctx context.Context, op func() error) error {
	delay := contentionInitialBackoff
	var lastErr error
	for attempt := 0; attempt < contentionRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isContention(lastErr) || attempt == contentionRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= contentionMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	query = s.dialect.rebind(query)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnContention(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ensureContext(ctx), s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ensureContext(ctx), s.dialect.rebind(query), args...)
}

// Open initializes or connects to the queue database selected by cfg.Database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	d, err := newDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	target := cfg.Database.DSN
	if d.name == DialectSQLite {
		target = cfg.SQLitePath()
	}

	dsn := target
	if d.name == DialectSQLite {
		// Connection-scoped pragmas go in the DSN so every pooled connection gets them.
		dsn = "file:" + target + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.name, err)
	}

	if d.name == DialectSQLite {
		if _, execErr := db.Exec("PRAGMA journal_mode=WAL"); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma journal_mode: %w", execErr)
		}
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}

	store, err := newStore(db, d, target)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenDB wraps an existing connection pool. The caller keeps ownership of
// driver registration; dialectName must be one of the Dialect constants.
func OpenDB(db *sql.DB, dialectName string) (*Store, error) {
	d, err := newDialect(dialectName)
	if err != nil {
		return nil, err
	}
	return newStore(db, d, dialectName)
}

func newStore(db *sql.DB, d dialect, target string) (*Store, error) {
	store := &Store{db: db, dialect: d, target: target}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s db: %w", d.name, err)
	}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Dialect reports the active database dialect.
func (s *Store) Dialect() string {
	return s.dialect.name
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
