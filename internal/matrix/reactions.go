// ABOUTME: Persistent record of m.reaction events and their redactions
// ABOUTME: Converts tracked reactions into chat events and aggregates counts per message

package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/store"
)

// trackedReaction is one m.reaction event as recorded.
type trackedReaction struct {
	Event  id.EventID
	Room   id.RoomID
	Target id.EventID
	Sender id.UserID
	Key    string
}

// reactionLog remembers reactions so that a later redaction, which only
// names the reaction event, can be reported as a removal.
type reactionLog struct {
	store *store.Store
	ids   *IDMap
	self  id.UserID

	// channelFor maps a room to the channel reported in events.
	channelFor func(ctx context.Context, room id.RoomID) (*chat.Channel, error)
}

func newReactionLog(ctx context.Context, st *store.Store, ids *IDMap, self id.UserID,
	channelFor func(ctx context.Context, room id.RoomID) (*chat.Channel, error)) (*reactionLog, error) {
	err := st.RequireTable(ctx, "matrix_reactions", `
		reaction TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		target TEXT NOT NULL,
		sender TEXT NOT NULL,
		key TEXT NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("requiring reaction table: %w", err)
	}
	return &reactionLog{store: st, ids: ids, self: self, channelFor: channelFor}, nil
}

// Add records r and returns its reaction_add event. emit is false for the
// bot's own reactions, which only count towards Me.
func (l *reactionLog) Add(ctx context.Context, r trackedReaction) (ev chat.Event, emit bool, err error) {
	_, err = l.store.Exec(ctx, `
		INSERT OR IGNORE INTO matrix_reactions (reaction, room, target, sender, key)
		VALUES (?, ?, ?, ?, ?)
	`, r.Event.String(), r.Room.String(), r.Target.String(), r.Sender.String(), r.Key)
	if err != nil {
		return chat.Event{}, false, fmt.Errorf("recording reaction: %w", err)
	}
	re, err := l.convert(ctx, r)
	if err != nil {
		return chat.Event{}, false, err
	}
	return chat.ReactionAdded(re), r.Sender != l.self, nil
}

// Redact forgets the reaction named by redacts and returns its
// reaction_remove event. found is false for redactions of anything else.
func (l *reactionLog) Redact(ctx context.Context, redacts id.EventID) (ev chat.Event, found bool, err error) {
	r := trackedReaction{Event: redacts}
	err = l.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		var room, target, sender string
		err := tx.QueryRow(ctx, `
			SELECT room, target, sender, key FROM matrix_reactions WHERE reaction = ?
		`, redacts.String()).Scan(&room, &target, &sender, &r.Key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		r.Room, r.Target, r.Sender = id.RoomID(room), id.EventID(target), id.UserID(sender)
		_, err = tx.Exec(ctx, `DELETE FROM matrix_reactions WHERE reaction = ?`, redacts.String())
		return err
	})
	if err != nil {
		return chat.Event{}, false, fmt.Errorf("forgetting reaction: %w", err)
	}
	if !found {
		return chat.Event{}, false, nil
	}
	re, err := l.convert(ctx, r)
	if err != nil {
		return chat.Event{}, false, err
	}
	return chat.ReactionRemoved(re), true, nil
}

// On aggregates the reactions recorded against target in first-seen order.
func (l *reactionLog) On(ctx context.Context, target id.EventID) ([]chat.Reaction, error) {
	var out []chat.Reaction
	err := l.store.Query(ctx, `
		SELECT key, COUNT(*), SUM(sender = ?) FROM matrix_reactions
		WHERE target = ?
		GROUP BY key
		ORDER BY MIN(rowid)
	`, func(rows *sql.Rows) error {
		var r chat.Reaction
		var mine int
		if err := rows.Scan(&r.Key, &r.Count, &mine); err != nil {
			return err
		}
		r.Me = mine > 0
		out = append(out, r)
		return nil
	}, l.self.String(), target.String())
	if err != nil {
		return nil, fmt.Errorf("counting reactions: %w", err)
	}
	return out, nil
}

func (l *reactionLog) convert(ctx context.Context, r trackedReaction) (*chat.ReactionEvent, error) {
	ch, err := l.channelFor(ctx, r.Room)
	if err != nil {
		return nil, err
	}
	msgID, err := l.ids.Number(ctx, KindEvent, r.Target.String())
	if err != nil {
		return nil, err
	}
	userID, err := l.ids.Number(ctx, KindUser, r.Sender.String())
	if err != nil {
		return nil, err
	}
	return &chat.ReactionEvent{
		UserID:    userID,
		ChannelID: ch.ID,
		ServerID:  ch.ServerID,
		MessageID: msgID,
		Key:       r.Key,
	}, nil
}
