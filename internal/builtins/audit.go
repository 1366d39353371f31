// ABOUTME: Audit log of settings changes made through the settings command
// ABOUTME: Records who set which option where, listed with `settings log`

package builtins

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-familiar/internal/store"
)

const auditColumns = `audit_id TEXT PRIMARY KEY,
	actor INTEGER NOT NULL,
	server INTEGER NOT NULL,
	channel INTEGER NOT NULL,
	option TEXT NOT NULL,
	value TEXT NOT NULL,
	ts TEXT NOT NULL`

// AuditEntry is one recorded settings change.
type AuditEntry struct {
	ID        string
	Actor     int64
	Server    int64
	Channel   int64  // channel the command was sent from
	Option    string // option spec as typed, e.g. "pin_channel/server"
	Value     string
	Timestamp time.Time
}

// auditTimeFormat has fixed-width fractions so timestamps sort as text.
const auditTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type auditLog struct {
	st *store.Store
}

func newAuditLog(ctx context.Context, st *store.Store) (*auditLog, error) {
	if err := st.RequireTable(ctx, "settings_audit", auditColumns); err != nil {
		return nil, err
	}
	return &auditLog{st: st}, nil
}

// Append records e, generating its ID and timestamp if unset.
func (a *auditLog) Append(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := a.st.Exec(ctx,
		`INSERT INTO settings_audit (audit_id, actor, server, channel, option, value, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Actor, e.Server, e.Channel, e.Option, e.Value, e.Timestamp.UTC().Format(auditTimeFormat))
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// normalizeAuditLimit applies default (10) and cap (50) to a listing limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 10
	case limit > 50:
		return 50
	default:
		return limit
	}
}

// List returns the newest entries for a server, newest first.
func (a *auditLog) List(ctx context.Context, server int64, limit int) ([]AuditEntry, error) {
	var out []AuditEntry
	err := a.st.Query(ctx,
		`SELECT audit_id, actor, server, channel, option, value, ts FROM settings_audit
		WHERE server = ? ORDER BY ts DESC, rowid DESC LIMIT ?`,
		func(rows *sql.Rows) error {
			var e AuditEntry
			var ts string
			if err := rows.Scan(&e.ID, &e.Actor, &e.Server, &e.Channel, &e.Option, &e.Value, &ts); err != nil {
				return fmt.Errorf("scanning audit entry: %w", err)
			}
			var err error
			if e.Timestamp, err = time.Parse(auditTimeFormat, ts); err != nil {
				return fmt.Errorf("parsing timestamp: %w", err)
			}
			out = append(out, e)
			return nil
		},
		server, normalizeAuditLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return out, nil
}

func formatAudit(entries []AuditEntry, name func(int64) string) string {
	if len(entries) == 0 {
		return "No settings changes recorded."
	}
	var b strings.Builder
	b.WriteString("**Recent settings changes**\n")
	for _, e := range entries {
		value := e.Value
		if value == "" {
			value = "none"
		}
		fmt.Fprintf(&b, "- %s %s set `%s` to `%s`\n", e.Timestamp.Format("2006-01-02 15:04"), name(e.Actor), e.Option, value)
	}
	return b.String()
}
