// ABOUTME: Transactional SQLite store shared by every fragment
// ABOUTME: Serialises transactions with a reentrant lock and nests them as savepoints

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/2389/coven-familiar/internal/arlock"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrTxClosed is returned when a Tx is used after its transaction ended
var ErrTxClosed = errors.New("transaction already closed")

// Store is the SQLite-backed persistence layer. All statements run on a single
// pinned connection inside Transaction, so at most one call chain talks to the
// database at a time while the same chain may nest transactions freely.
type Store struct {
	db     *sql.DB
	conn   *sql.Conn
	lock   *arlock.Lock
	logger *slog.Logger

	// depth is the current savepoint nesting level, guarded by lock.
	depth int

	tablesMu sync.Mutex
	tables   map[string]string
}

// Open creates a store at the given path. Parent directories are created if
// needed; ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Savepoints belong to a connection, so everything goes through one.
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	logger.Info("SQLite store initialized", "path", path)
	return &Store{
		db:     db,
		conn:   conn,
		lock:   arlock.New(),
		logger: logger,
		tables: make(map[string]string),
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.logger.Info("closing SQLite store")
	if err := s.conn.Close(); err != nil {
		s.db.Close()
		return fmt.Errorf("closing connection: %w", err)
	}
	return s.db.Close()
}

// Transaction runs fn inside a savepoint. The savepoint is released when fn
// returns nil. If fn returns an error or panics, everything fn did is rolled
// back to the savepoint, the savepoint is released, and the error (or panic)
// reaches the caller unchanged.
//
// The context handed to fn carries lock ownership: calling Transaction again
// with it nests a savepoint instead of deadlocking.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	ctx, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring store lock: %w", err)
	}
	defer func() { _ = s.lock.Release(ctx) }()

	s.depth++
	defer func() { s.depth-- }()
	name := fmt.Sprintf("sp%d", s.depth)

	if _, err := s.conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("opening savepoint: %w", err)
	}
	s.logger.Debug("entered savepoint", "savepoint", name)

	tx := &Tx{store: s, savepoint: name}
	released := false
	defer func() {
		tx.closed = true
		if released {
			return
		}
		// Runs for errors and panics alike; the panic keeps unwinding afterwards.
		cleanup := context.WithoutCancel(ctx)
		if _, err := s.conn.ExecContext(cleanup, "ROLLBACK TO "+name); err != nil {
			s.logger.Error("rolling back savepoint", "savepoint", name, "error", err)
		}
		if _, err := s.conn.ExecContext(cleanup, "RELEASE "+name); err != nil {
			s.logger.Error("releasing savepoint after rollback", "savepoint", name, "error", err)
		}
		s.logger.Debug("rolled back savepoint", "savepoint", name)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if _, err := s.conn.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	released = true
	s.logger.Debug("released savepoint", "savepoint", name)
	return nil
}

// Exec runs a single statement in its own transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		result, err = tx.Exec(ctx, query, args...)
		return err
	})
	return result, err
}

// Query runs a single query in its own transaction and calls each for every
// result row. Rows are closed before Query returns.
func (s *Store) Query(ctx context.Context, query string, each func(rows *sql.Rows) error, args ...any) error {
	return s.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := each(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// RequireTable creates the named table if it does not exist yet. It is safe
// to call on every start. columns is the column list between the parentheses
// of CREATE TABLE and must be static code, never user input.
func (s *Store) RequireTable(ctx context.Context, name, columns string) error {
	stmt := "CREATE TABLE IF NOT EXISTS " + quoteIdent(name) + " (" + columns + ")"
	if _, err := s.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %s: %w", name, err)
	}

	s.tablesMu.Lock()
	prev, seen := s.tables[name]
	s.tables[name] = columns
	s.tablesMu.Unlock()

	if seen && normalizeSchema(prev) != normalizeSchema(columns) {
		s.logger.Warn("table required twice with different schemas", "table", name)
	}
	s.logger.Info("required table", "table", name)
	return nil
}

// Tables returns the names of all tables required so far, sorted.
func (s *Store) Tables() []string {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dump is a rendered copy of a table's contents.
type Dump struct {
	Columns []string
	Rows    [][]string
}

// DumpTable reads every row of the named table. Returns ErrNotFound if no
// such table exists.
func (s *Store) DumpTable(ctx context.Context, name string) (*Dump, error) {
	var dump Dump
	err := s.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		var exists int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("looking up table: %w", err)
		}

		rows, err := tx.Query(ctx, "SELECT * FROM "+quoteIdent(name))
		if err != nil {
			return fmt.Errorf("querying table: %w", err)
		}
		defer rows.Close()

		dump.Columns, err = rows.Columns()
		if err != nil {
			return fmt.Errorf("reading columns: %w", err)
		}

		for rows.Next() {
			values := make([]any, len(dump.Columns))
			ptrs := make([]any, len(values))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}
			rendered := make([]string, len(values))
			for i, v := range values {
				rendered[i] = renderValue(v)
			}
			dump.Rows = append(dump.Rows, rendered)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return &dump, nil
}

// Tx is the handle passed to a Transaction callback. It is only valid until
// the callback returns.
type Tx struct {
	store     *Store
	savepoint string
	closed    bool
}

// Exec executes a statement with bound parameters.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	tx.store.logger.Debug("exec", "savepoint", tx.savepoint, "query", compact(query))
	return tx.store.conn.ExecContext(ctx, query, args...)
}

// Query runs a query with bound parameters. The caller must close the rows
// before the transaction callback returns.
func (tx *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	tx.store.logger.Debug("query", "savepoint", tx.savepoint, "query", compact(query))
	return tx.store.conn.QueryContext(ctx, query, args...)
}

// QueryRow runs a query expected to return at most one row.
func (tx *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if tx.closed {
		// A cancelled context makes the returned Row report an error on Scan.
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		return tx.store.conn.QueryRowContext(cancelled, query, args...)
	}
	tx.store.logger.Debug("query row", "savepoint", tx.savepoint, "query", compact(query))
	return tx.store.conn.QueryRowContext(ctx, query, args...)
}
