// ABOUTME: Owner and diagnostic commands: table dumps, deletion, chat logs, id lookups
// ABOUTME: tdump, tables, delete and chatlog are restricted to the bot owner

package builtins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/fragment"
	"github.com/2389/coven-familiar/internal/resolver"
	"github.com/2389/coven-familiar/internal/store"
)

// maxChunk keeps each dump message comfortably below client display limits.
const maxChunk = 1950

// Admin builds the maintenance fragment.
func Admin(d Deps) *fragment.Fragment {
	f := fragment.New("admin")

	f.Command(fragment.Command{
		Name:   "tdump",
		Usage:  "<table>",
		Help:   "Dump the contents of a database table.",
		Hidden: true,
		Checks: []fragment.Predicate{fragment.OwnerOnly},
		Handler: func(ctx context.Context, inv *fragment.Invocation) error {
			if len(inv.Args) != 1 {
				return fragment.ErrUsage
			}
			dump, err := d.Store.DumpTable(ctx, inv.Args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fragment.Errorf("no table named %s", inv.Args[0])
			}
			if err != nil {
				return err
			}
			for _, chunk := range dumpChunks(dump, maxChunk) {
				if err := inv.Reply(ctx, chunk); err != nil {
					return err
				}
			}
			return nil
		},
	})

	f.Command(fragment.Command{
		Name:   "tables",
		Help:   "List the tables registered by fragments.",
		Hidden: true,
		Checks: []fragment.Predicate{fragment.OwnerOnly},
		Handler: func(ctx context.Context, inv *fragment.Invocation) error {
			return inv.Reply(ctx, "```\n"+strings.Join(d.Store.Tables(), "\n")+"\n```")
		},
	})

	f.Command(fragment.Command{
		Name:   "delete",
		Usage:  "<message id...>",
		Help:   "Delete messages in this channel.",
		Hidden: true,
		Checks: []fragment.Predicate{fragment.OwnerOnly},
		Handler: func(ctx context.Context, inv *fragment.Invocation) error {
			if len(inv.Args) == 0 {
				return fragment.ErrUsage
			}
			ids := make([]int64, 0, len(inv.Args))
			for _, arg := range inv.Args {
				n, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fragment.ErrUsage
				}
				ids = append(ids, n)
			}
			for _, n := range ids {
				err := d.Gateway.DeleteMessage(ctx, inv.Message.ChannelID, n)
				if errors.Is(err, resolver.ErrNotFound) {
					return fragment.Errorf("no message %d in this channel", n)
				}
				if err != nil {
					return err
				}
			}
			return inv.React(ctx, "✅")
		},
	})

	f.Command(fragment.Command{
		Name:   "chatlog",
		Usage:  "[channel]",
		Help:   "Export a channel's history as a gzip file.",
		Checks: []fragment.Predicate{fragment.OwnerOnly},
		Handler: func(ctx context.Context, inv *fragment.Invocation) error {
			channelID := inv.Message.ChannelID
			if inv.Raw != "" {
				n, err := d.Gateway.ChannelRef(ctx, inv.Raw)
				if err != nil {
					return fragment.Errorf("unknown channel %s", inv.Raw)
				}
				channelID = n
			}
			ch, err := d.Resolver.FetchChannel(ctx, channelID)
			if err != nil {
				return err
			}
			name := ch.Name + ".gz"
			if ch.ServerID != ch.ID {
				if sc, err := d.Resolver.FetchChannelMaybe(ctx, ch.ServerID); err == nil && sc != nil {
					name = sc.Name + "--" + name
				}
			}

			data, stats, err := exportChatlog(ctx, d.Gateway, channelID)
			if err != nil {
				return err
			}
			return d.Gateway.SendFile(ctx, inv.Message.ChannelID, chat.File{
				Name:     name,
				MimeType: "application/gzip",
				Data:     data,
				Caption: fmt.Sprintf("%s %d characters across %d messages. Log %d kb long, compressed to %d kb",
					inv.Message.Author.Mention(), stats.Characters, stats.Messages, stats.LogBytes/1000, len(data)/1000),
			})
		},
	})

	f.Command(fragment.Command{
		Name:  "whois",
		Usage: "<user id>",
		Help:  "Look up a user by number or platform id.",
		Handler: func(ctx context.Context, inv *fragment.Invocation) error {
			if len(inv.Args) != 1 {
				return fragment.ErrUsage
			}
			uid, err := d.Gateway.UserRef(ctx, inv.Args[0])
			if err != nil {
				return inv.Reply(ctx, fmt.Sprintf("%s = nobody", inv.Args[0]))
			}
			u, err := d.Resolver.FetchUserMaybe(ctx, uid)
			if err != nil {
				return err
			}
			if u == nil {
				return inv.Reply(ctx, fmt.Sprintf("%d = nobody", uid))
			}
			return inv.Reply(ctx, fmt.Sprintf("%d = %s", uid, u.Mention()))
		},
	})

	f.Command(fragment.Command{
		Name: "hello",
		Help: "Check that the bot is alive.",
		Handler: func(ctx context.Context, inv *fragment.Invocation) error {
			return inv.React(ctx, "✅")
		},
	})

	f.Command(fragment.Command{
		Name: "ids",
		Help: "Show the numbers of this channel and its server, for use in settings.",
		Handler: func(ctx context.Context, inv *fragment.Invocation) error {
			m := inv.Message
			return inv.Reply(ctx, fmt.Sprintf("channel `%d`, server `%d`, you `%d`", m.ChannelID, m.ServerID, m.Author.ID))
		},
	})

	return f
}

// dumpChunks renders a table as tab-separated code blocks, each under limit.
func dumpChunks(dump *store.Dump, limit int) []string {
	lines := make([]string, 0, len(dump.Rows)+1)
	lines = append(lines, strings.Join(dump.Columns, "\t"))
	for _, row := range dump.Rows {
		lines = append(lines, strings.Join(row, "\t"))
	}

	const fence = "```\n"
	budget := limit - 2*len(fence)
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, fence+cur.String()+"```")
			cur.Reset()
		}
	}
	for _, line := range lines {
		if len(line) > budget {
			line = truncateUTF8(line, budget-1)
		}
		if cur.Len()+len(line)+1 > budget {
			flush()
		}
		cur.WriteString(line + "\n")
	}
	flush()
	return chunks
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
