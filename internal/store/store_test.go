package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(context.Background(), dbPath, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	require.NoError(t, store.RequireTable(context.Background(), "kv", `
		k TEXT PRIMARY KEY,
		v INTEGER NOT NULL
	`))
	return store
}

func readValue(t *testing.T, s *Store, key string) (int, bool) {
	t.Helper()
	var v int
	found := true
	err := s.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		err := tx.QueryRow(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
		if err != nil {
			found = false
		}
		return nil
	})
	require.NoError(t, err)
	return v, found
}

func TestOpen_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := Open(context.Background(), dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestOpen_InMemory(t *testing.T) {
	store, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RequireTable(context.Background(), "kv", "k TEXT PRIMARY KEY, v INTEGER"))
	_, err = store.Exec(context.Background(), `INSERT INTO kv (k, v) VALUES (?, ?)`, "a", 1)
	require.NoError(t, err)
}

func TestTransaction_Commit(t *testing.T) {
	store := setupTestStore(t)

	err := store.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "a", 1)
		return err
	})
	require.NoError(t, err)

	v, ok := readValue(t, store, "a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestTransaction_RollbackOnError(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Exec(context.Background(), `INSERT INTO kv (k, v) VALUES (?, ?)`, "a", 1)
	require.NoError(t, err)

	before, _ := readValue(t, store, "a")

	sentinel := errors.New("abort")
	err = store.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE kv SET v = ? WHERE k = ?`, 99, "a"); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "b", 2); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	after, _ := readValue(t, store, "a")
	assert.Equal(t, before, after)
	_, found := readValue(t, store, "b")
	assert.False(t, found)
}

func TestTransaction_RollbackOnPanic(t *testing.T) {
	store := setupTestStore(t)

	func() {
		defer func() {
			assert.Equal(t, "boom", recover())
		}()
		_ = store.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
			if _, err := tx.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "p", 1); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	_, found := readValue(t, store, "p")
	assert.False(t, found)

	// The lock must have been released by the panicking chain.
	_, err := store.Exec(context.Background(), `INSERT INTO kv (k, v) VALUES (?, ?)`, "q", 1)
	require.NoError(t, err)
}

func TestTransaction_NestedRollbackKeepsOuter(t *testing.T) {
	store := setupTestStore(t)
	sentinel := errors.New("inner failure")

	err := store.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "outer", 1); err != nil {
			return err
		}
		innerErr := store.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
			if _, err := tx.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "inner", 2); err != nil {
				return err
			}
			return sentinel
		})
		assert.ErrorIs(t, innerErr, sentinel)
		return nil
	})
	require.NoError(t, err)

	_, found := readValue(t, store, "outer")
	assert.True(t, found)
	_, found = readValue(t, store, "inner")
	assert.False(t, found)
}

func TestTransaction_NestedFailureRollsBackBoth(t *testing.T) {
	store := setupTestStore(t)
	sentinel := errors.New("outer failure")

	err := store.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		err := store.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
			_, err := tx.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "inner", 2)
			return err
		})
		require.NoError(t, err)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, found := readValue(t, store, "inner")
	assert.False(t, found)
}

func TestTx_UseAfterClose(t *testing.T) {
	store := setupTestStore(t)

	var leaked *Tx
	require.NoError(t, store.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		leaked = tx
		return nil
	}))

	_, err := leaked.Exec(context.Background(), `INSERT INTO kv (k, v) VALUES (?, ?)`, "late", 1)
	assert.ErrorIs(t, err, ErrTxClosed)
}

func TestQuery_VisitsRowsInOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for k, v := range map[string]int{"a": 1, "b": 2, "c": 3} {
		_, err := s.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, k, v)
		require.NoError(t, err)
	}

	var keys []string
	err := s.Query(ctx, `SELECT k FROM kv WHERE v > ? ORDER BY k`, func(rows *sql.Rows) error {
		var k string
		if err := rows.Scan(&k); err != nil {
			return err
		}
		keys = append(keys, k)
		return nil
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, keys)

	stop := errors.New("stop")
	err = s.Query(ctx, `SELECT k FROM kv`, func(rows *sql.Rows) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestRequireTable_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RequireTable(ctx, "karma", `
			giver INTEGER NOT NULL,
			message INTEGER NOT NULL,
			PRIMARY KEY(giver, message)
		`))
	}
	assert.Equal(t, []string{"karma", "kv"}, store.Tables())
}

func TestRequireTable_QuotesName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	name := `odd "name"; DROP TABLE kv; --`
	require.NoError(t, store.RequireTable(ctx, name, "x INTEGER"))

	dump, err := store.DumpTable(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, dump.Columns)

	// kv must still exist.
	_, err = store.DumpTable(ctx, "kv")
	require.NoError(t, err)
}

func TestDumpTable(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "a", 7)
	require.NoError(t, err)

	dump, err := store.DumpTable(ctx, "kv")
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "v"}, dump.Columns)
	require.Len(t, dump.Rows, 1)
	assert.Equal(t, []string{`"a"`, "7"}, dump.Rows[0])

	_, err = store.DumpTable(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"settings", `"settings"`},
		{`a"b`, `"a""b"`},
		{`""`, `""""""`},
		{"", `""`},
	}
	for _, tt := range tests {
		if got := quoteIdent(tt.in); got != tt.want {
			t.Errorf("quoteIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
