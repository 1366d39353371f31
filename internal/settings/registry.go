// ABOUTME: Registry of named settings backed by the settings table
// ABOUTME: Owns the duplicate-name policy and the row-level storage helpers

package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/store"
)

// DuplicatePolicy decides what happens when a name is registered twice.
type DuplicatePolicy int

const (
	// RejectDuplicates returns ErrDuplicateSetting and keeps the first setting.
	RejectDuplicates DuplicatePolicy = iota

	// OverwriteDuplicates logs a warning and dispatches to the newest
	// registration. Rows written through the old one stay in storage under the
	// shared name and are read by the new one.
	OverwriteDuplicates
)

// ChannelLookup resolves channel ids for display. Absent channels return nil.
type ChannelLookup interface {
	FetchChannelMaybe(ctx context.Context, id int64) (*chat.Channel, error)
}

// Options configures a Registry.
type Options struct {
	Policy   DuplicatePolicy
	Channels ChannelLookup
	Logger   *slog.Logger
}

// Registry holds every registered setting, keyed by name.
type Registry struct {
	store    *store.Store
	channels ChannelLookup
	policy   DuplicatePolicy
	logger   *slog.Logger

	mu       sync.RWMutex
	settings map[string]Setting
}

// NewRegistry creates the settings table if needed and returns an empty
// registry.
func NewRegistry(ctx context.Context, st *store.Store, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	err := st.RequireTable(ctx, "settings", `
		server INTEGER NOT NULL,
		channel INTEGER NOT NULL,
		user INTEGER NOT NULL,
		option TEXT NOT NULL,
		value BLOB,
		PRIMARY KEY(server, channel, user, option)
	`)
	if err != nil {
		return nil, fmt.Errorf("requiring settings table: %w", err)
	}

	return &Registry{
		store:    st,
		channels: opts.Channels,
		policy:   opts.Policy,
		logger:   logger.With("component", "settings"),
		settings: make(map[string]Setting),
	}, nil
}

// Register adds s under its name, applying the duplicate policy.
func (r *Registry) Register(s Setting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if prev, exists := r.settings[name]; exists {
		if r.policy == RejectDuplicates {
			return fmt.Errorf("%w: %s", ErrDuplicateSetting, name)
		}
		r.logger.Warn("overwriting setting registration",
			"name", name,
			"previous", fmt.Sprintf("%T", prev),
			"replacement", fmt.Sprintf("%T", s),
		)
	}

	r.settings[name] = s
	r.logger.Info("registered setting", "name", name, "kind", fmt.Sprintf("%T", s))
	return nil
}

// Lookup returns the setting registered under name.
func (r *Registry) Lookup(name string) (Setting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[name]
	return s, ok
}

// List returns every registered setting sorted by name.
func (r *Registry) List() []Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Setting, 0, len(r.settings))
	for _, s := range r.settings {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}

type coords struct {
	server, channel, user int64
}

func (r *Registry) load(ctx context.Context, option string, c coords) ([]byte, bool, error) {
	var value []byte
	found := true
	err := r.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT value FROM settings
			WHERE server = ? AND channel = ? AND user = ? AND option = ?
		`, c.server, c.channel, c.user, option).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("loading setting %s: %w", option, err)
	}
	return value, found, nil
}

// save upserts value at c; a nil value deletes the row.
func (r *Registry) save(ctx context.Context, option string, c coords, value []byte) error {
	err := r.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if value == nil {
			_, err := tx.Exec(ctx, `
				DELETE FROM settings
				WHERE server = ? AND channel = ? AND user = ? AND option = ?
			`, c.server, c.channel, c.user, option)
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT OR REPLACE INTO settings (server, channel, user, option, value)
			VALUES (?, ?, ?, ?, ?)
		`, c.server, c.channel, c.user, option, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", option, err)
	}
	r.logger.Debug("saved setting",
		"option", option,
		"server", c.server,
		"channel", c.channel,
		"cleared", value == nil,
	)
	return nil
}

type storedRow struct {
	channel int64
	value   []byte
}

// serverRows returns every row for option in server, ordered by channel.
func (r *Registry) serverRows(ctx context.Context, option string, server int64) ([]storedRow, error) {
	var out []storedRow
	err := r.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT channel, value FROM settings
			WHERE server = ? AND option = ?
			ORDER BY channel ASC
		`, server, option)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var row storedRow
			if err := rows.Scan(&row.channel, &row.value); err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing setting %s: %w", option, err)
	}
	return out, nil
}
