// ABOUTME: Starboard: messages that collect enough ⭐ reactions are copied to a board channel
// ABOUTME: Each message is pinned at most once, recorded in the pins table

package builtins

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/fragment"
	"github.com/2389/coven-familiar/internal/settings"
	"github.com/2389/coven-familiar/internal/store"
)

// Star is the reaction that nominates a message for the board.
const Star = "⭐"

const pinsColumns = `message INTEGER PRIMARY KEY,
	channel INTEGER NOT NULL,
	server INTEGER NOT NULL,
	board INTEGER NOT NULL,
	board_message INTEGER,
	pinned_at INTEGER NOT NULL`

type pin struct {
	deps      Deps
	board     *settings.ServerOrChannel[int64]
	threshold *settings.ServerOrChannel[int64]
	logger    *slog.Logger
	now       func() time.Time
}

// Pin builds the starboard fragment and registers its table and settings.
func Pin(ctx context.Context, d Deps) (*fragment.Fragment, error) {
	if err := d.Store.RequireTable(ctx, "pins", pinsColumns); err != nil {
		return nil, err
	}
	board, err := settings.NewServerOrChannel(d.Settings, settings.Definition[int64]{
		Name:        "pin_channel",
		Description: "Channel to put pinned messages. 0 to disable this feature",
		Parse:       settings.Int64,
	})
	if err != nil {
		return nil, err
	}
	threshold, err := settings.NewServerOrChannel(d.Settings, settings.Definition[int64]{
		Name:        "pin_threshold",
		Description: "Minimum number of " + Star + " to pin message",
		Default:     3,
		Parse:       settings.Int64,
	})
	if err != nil {
		return nil, err
	}
	p := &pin{deps: d, board: board, threshold: threshold, logger: d.logger("pin"), now: time.Now}

	f := fragment.New("pin")
	f.Listen(chat.EventReactionAdd, p.onReactionAdd)
	return f, nil
}

func (p *pin) onReactionAdd(ctx context.Context, ev chat.Event) error {
	r := ev.Reaction
	if r.Key != Star {
		return nil
	}
	msg, err := p.deps.Resolver.FetchMessageMaybe(ctx, r.ChannelID, r.MessageID)
	if err != nil || msg == nil {
		return err
	}
	count := 0
	for _, re := range msg.Reactions {
		if re.Key != Star {
			continue
		}
		if re.Me {
			return nil
		}
		count = re.Count
	}
	if count == 0 {
		return nil
	}
	if strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
		return nil
	}

	t := settings.ReactionTarget(r)
	board, err := p.board.Get(ctx, t)
	if err != nil || board == 0 {
		return err
	}
	threshold, err := p.threshold.Get(ctx, t)
	if err != nil {
		return err
	}
	if int64(count) < threshold {
		return nil
	}

	claimed, err := p.claim(ctx, msg, board)
	if err != nil || !claimed {
		return err
	}
	if err := p.post(ctx, msg, board); err != nil {
		if _, uerr := p.deps.Store.Exec(context.WithoutCancel(ctx), `DELETE FROM pins WHERE message = ?`, msg.ID); uerr != nil {
			p.logger.Warn("failed to release pin claim", "message", msg.ID, "error", uerr)
		}
		return err
	}
	return nil
}

// claim records msg as pinned, reporting false if it already was.
func (p *pin) claim(ctx context.Context, msg *chat.Message, board int64) (bool, error) {
	var claimed bool
	err := p.deps.Store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		res, err := tx.Exec(ctx,
			`INSERT OR IGNORE INTO pins (message, channel, server, board, pinned_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.ChannelID, msg.ServerID, board, p.now().Unix())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("claiming pin: %w", err)
	}
	return claimed, nil
}

func (p *pin) post(ctx context.Context, msg *chat.Message, board int64) error {
	if err := p.deps.Gateway.React(ctx, msg.ChannelID, msg.ID, Star); err != nil {
		return err
	}
	posted, err := p.deps.Gateway.SendMarkdown(ctx, board, p.render(ctx, msg))
	if err != nil {
		return err
	}
	if _, err := p.deps.Store.Exec(ctx, `UPDATE pins SET board_message = ? WHERE message = ?`, posted, msg.ID); err != nil {
		return fmt.Errorf("recording board message: %w", err)
	}
	p.logger.Info("pinned message", "message", msg.ID, "channel", msg.ChannelID, "board", board)
	return nil
}

func (p *pin) render(ctx context.Context, msg *chat.Message) string {
	where := fmt.Sprintf("<invalid #%d>", msg.ChannelID)
	if ch, err := p.deps.Resolver.FetchChannelMaybe(ctx, msg.ChannelID); err == nil && ch != nil {
		where = "#" + ch.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** in %s\n\n", Star, msg.Author.Mention(), where)
	if content := strings.TrimSpace(msg.Content); content != "" {
		for _, line := range strings.Split(content, "\n") {
			b.WriteString("> " + line + "\n")
		}
		b.WriteString("\n")
	}
	for _, a := range msg.Attachments {
		b.WriteString(a + "\n")
	}
	if !msg.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "\n_%s_", msg.CreatedAt.UTC().Format(time.RFC1123))
	}
	return strings.TrimRight(b.String(), "\n")
}
