// ABOUTME: Karma: reactions on a message award points to its author
// ABOUTME: Votes are keyed by giver, message and kind so removing a reaction undoes it

package builtins

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/fragment"
	"github.com/2389/coven-familiar/internal/settings"
	"github.com/2389/coven-familiar/internal/store"
)

// Upvote is the reaction counted as a full upvote.
const Upvote = "🔺"

const (
	voteUpvote int64 = 1
	voteOther  int64 = 2
)

const karmaColumns = `giver INTEGER NOT NULL,
	message INTEGER NOT NULL,
	kind INTEGER NOT NULL,
	delta INTEGER NOT NULL,
	receiver INTEGER NOT NULL,
	PRIMARY KEY (giver, message, kind)`

type vote struct {
	giver    int64
	message  int64
	kind     int64
	receiver int64
}

type karma struct {
	deps    Deps
	enabled *settings.ServerOrChannel[bool]
	logger  *slog.Logger
}

// Karma builds the karma fragment and registers its table and setting.
func Karma(ctx context.Context, d Deps) (*fragment.Fragment, error) {
	if err := d.Store.RequireTable(ctx, "karma", karmaColumns); err != nil {
		return nil, err
	}
	enabled, err := settings.NewServerOrChannel(d.Settings, settings.Definition[bool]{
		Name:        "enable_karma",
		Description: "Enable voting on messages",
		Parse:       settings.Bool,
	})
	if err != nil {
		return nil, err
	}
	k := &karma{deps: d, enabled: enabled, logger: d.logger("karma")}

	f := fragment.New("karma")
	f.Listen(chat.EventReactionAdd, k.onReactionAdd)
	f.Listen(chat.EventReactionRemove, k.onReactionRemove)
	f.Command(fragment.Command{
		Name:    "karma",
		Usage:   "[user]",
		Help:    "Show how much karma you or another user has.",
		Handler: k.show,
	})
	f.Command(fragment.Command{
		Name:    "ktop",
		Help:    "Show the users with the most karma.",
		Handler: k.top,
	})
	return f, nil
}

// parse turns a reaction into a vote, or nil when it should not count.
func (k *karma) parse(ctx context.Context, r *chat.ReactionEvent) (*vote, error) {
	on, err := k.enabled.Get(ctx, settings.ReactionTarget(r))
	if err != nil || !on {
		return nil, err
	}
	if r.UserID == k.deps.Gateway.SelfID() {
		return nil, nil
	}

	msg, err := k.deps.Resolver.FetchMessageMaybe(ctx, r.ChannelID, r.MessageID)
	if err != nil || msg == nil {
		return nil, err
	}
	if msg.Author.ID == r.UserID || msg.Author.Bot {
		return nil, nil
	}
	giver, err := k.deps.Resolver.FetchUserMaybe(ctx, r.UserID)
	if err != nil {
		return nil, err
	}
	if giver != nil && giver.Bot {
		return nil, nil
	}

	kind := voteOther
	if r.Key == Upvote {
		kind = voteUpvote
	}
	return &vote{giver: r.UserID, message: r.MessageID, kind: kind, receiver: msg.Author.ID}, nil
}

func (k *karma) onReactionAdd(ctx context.Context, ev chat.Event) error {
	v, err := k.parse(ctx, ev.Reaction)
	if err != nil || v == nil {
		return err
	}
	_, err = k.deps.Store.Exec(ctx,
		`INSERT OR IGNORE INTO karma (giver, message, kind, delta, receiver) VALUES (?, ?, ?, 1, ?)`,
		v.giver, v.message, v.kind, v.receiver)
	if err != nil {
		return fmt.Errorf("recording vote: %w", err)
	}
	k.logger.Debug("vote recorded", "giver", v.giver, "receiver", v.receiver, "kind", v.kind)
	return nil
}

func (k *karma) onReactionRemove(ctx context.Context, ev chat.Event) error {
	v, err := k.parse(ctx, ev.Reaction)
	if err != nil || v == nil {
		return err
	}
	_, err = k.deps.Store.Exec(ctx,
		`DELETE FROM karma WHERE giver = ? AND message = ? AND kind = ?`,
		v.giver, v.message, v.kind)
	if err != nil {
		return fmt.Errorf("removing vote: %w", err)
	}
	return nil
}

func (k *karma) total(ctx context.Context, user int64) (int64, error) {
	var n int64
	err := k.deps.Store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.QueryRow(ctx, `SELECT ifnull(SUM(delta), 0) FROM karma WHERE receiver = ?`, user).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("summing karma: %w", err)
	}
	return n, nil
}

func (k *karma) show(ctx context.Context, inv *fragment.Invocation) error {
	who := inv.Message.Author
	if len(inv.Args) > 0 {
		id, err := k.deps.Gateway.UserRef(ctx, inv.Args[0])
		if err != nil {
			return fragment.Errorf("unknown user %s", inv.Args[0])
		}
		u, err := k.deps.Resolver.FetchUserMaybe(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return fragment.Errorf("unknown user %s", inv.Args[0])
		}
		who = *u
	}

	n, err := k.total(ctx, who.ID)
	if err != nil {
		return err
	}
	return inv.Reply(ctx, fmt.Sprintf("🔶 %s is at %d$", who.Mention(), n))
}

type ranked struct {
	user  int64
	total int64
}

func (k *karma) leaders(ctx context.Context, limit int) ([]ranked, error) {
	var out []ranked
	err := k.deps.Store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT receiver, SUM(delta) AS total FROM karma
			GROUP BY receiver ORDER BY total DESC, receiver ASC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r ranked
			if err := rows.Scan(&r.user, &r.total); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("ranking karma: %w", err)
	}
	return out, nil
}

func (k *karma) top(ctx context.Context, inv *fragment.Invocation) error {
	leaders, err := k.leaders(ctx, 10)
	if err != nil {
		return err
	}
	if len(leaders) == 0 {
		return inv.Reply(ctx, "Nobody has any karma yet.")
	}

	var b strings.Builder
	b.WriteString("**Karma leaderboard**\n")
	for i, r := range leaders {
		name := fmt.Sprintf("<unknown %d>", r.user)
		u, err := k.deps.Resolver.FetchUserMaybe(ctx, r.user)
		if err != nil {
			return err
		}
		if u != nil {
			name = u.Mention()
		}
		fmt.Fprintf(&b, "%d. %s: %d$\n", i+1, name, r.total)
	}
	return inv.Reply(ctx, b.String())
}
