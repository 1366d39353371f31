// ABOUTME: Stable numeric ids for Matrix user, room and event identifiers
// ABOUTME: Backed by the matrix_ids table with an in-memory cache both ways

package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/2389/coven-familiar/internal/cache"
	"github.com/2389/coven-familiar/internal/resolver"
	"github.com/2389/coven-familiar/internal/store"
)

// Kind separates the id namespaces.
type Kind int

const (
	KindUser Kind = iota + 1
	KindRoom
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindRoom:
		return "room"
	case KindEvent:
		return "event"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

type mxKey struct {
	kind Kind
	mxid string
}

// IDMap assigns every Matrix identifier a positive int64 the first time it is
// seen and keeps the assignment forever.
type IDMap struct {
	store    *store.Store
	forward  *cache.Cache[mxKey, int64]
	backward *cache.Cache[int64, mxKey]
}

// NewIDMap creates the matrix_ids table if needed.
func NewIDMap(ctx context.Context, st *store.Store) (*IDMap, error) {
	err := st.RequireTable(ctx, "matrix_ids", `
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind INTEGER NOT NULL,
		mxid TEXT NOT NULL,
		UNIQUE(kind, mxid)
	`)
	if err != nil {
		return nil, fmt.Errorf("requiring id table: %w", err)
	}
	return &IDMap{
		store:    st,
		forward:  cache.New[mxKey, int64](time.Hour, 10000),
		backward: cache.New[int64, mxKey](time.Hour, 10000),
	}, nil
}

// Close stops the cache sweepers.
func (m *IDMap) Close() {
	m.forward.Close()
	m.backward.Close()
}

// Number returns the id for mxid, assigning one if needed.
func (m *IDMap) Number(ctx context.Context, kind Kind, mxid string) (int64, error) {
	key := mxKey{kind: kind, mxid: mxid}
	if n, ok := m.forward.Get(key); ok {
		return n, nil
	}

	var n int64
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT OR IGNORE INTO matrix_ids (kind, mxid) VALUES (?, ?)`, int(kind), mxid,
		); err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`SELECT id FROM matrix_ids WHERE kind = ? AND mxid = ?`, int(kind), mxid,
		).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("mapping %s %s: %w", kind, mxid, err)
	}

	m.forward.Set(key, n)
	m.backward.Set(n, key)
	return n, nil
}

// Lookup returns the Matrix identifier for n. A number that was never
// assigned, or was assigned to another kind, is resolver.ErrNotFound.
func (m *IDMap) Lookup(ctx context.Context, kind Kind, n int64) (string, error) {
	if key, ok := m.backward.Get(n); ok {
		if key.kind != kind {
			return "", fmt.Errorf("%s #%d: %w", kind, n, resolver.ErrNotFound)
		}
		return key.mxid, nil
	}

	var storedKind int
	var mxid string
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT kind, mxid FROM matrix_ids WHERE id = ?`, n,
		).Scan(&storedKind, &mxid)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s #%d: %w", kind, n, resolver.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("looking up %s #%d: %w", kind, n, err)
	}

	key := mxKey{kind: Kind(storedKind), mxid: mxid}
	m.backward.Set(n, key)
	m.forward.Set(key, n)
	if key.kind != kind {
		return "", fmt.Errorf("%s #%d: %w", kind, n, resolver.ErrNotFound)
	}
	return mxid, nil
}

// Ref resolves a user-typed reference: a plain number, or a Matrix
// identifier of the given kind.
func (m *IDMap) Ref(ctx context.Context, kind Kind, ref string) (int64, error) {
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if _, err := m.Lookup(ctx, kind, n); err != nil {
			return 0, err
		}
		return n, nil
	}
	if !validMXID(kind, ref) {
		return 0, fmt.Errorf("%q is not a %s: %w", ref, kind, resolver.ErrNotFound)
	}
	return m.Number(ctx, kind, ref)
}

func validMXID(kind Kind, s string) bool {
	if len(s) < 3 {
		return false
	}
	var sigil byte
	switch kind {
	case KindUser:
		sigil = '@'
	case KindRoom:
		sigil = '!'
	case KindEvent:
		sigil = '$'
	}
	if s[0] != sigil {
		return false
	}
	// Event ids from room v3 onwards carry no server part.
	if kind == KindEvent {
		return true
	}
	for i := 1; i < len(s); i++ {
		if s[i] == ':' {
			return i > 1 && i < len(s)-1
		}
	}
	return false
}
