// ABOUTME: The settings command: list settings, show one here, and set values
// ABOUTME: Restricted to server admins and the bot owner

package builtins

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/coven-familiar/internal/fragment"
	"github.com/2389/coven-familiar/internal/settings"
	"github.com/2389/coven-familiar/internal/store"
)

// Settings builds the settings fragment and registers its audit table.
func Settings(ctx context.Context, d Deps) (*fragment.Fragment, error) {
	audit, err := newAuditLog(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	f := fragment.New("settings")
	log := d.logger("settings-command")

	f.Command(fragment.Command{
		Name:  "settings",
		Usage: "[here <name> | set <name/args> [value] | log [count]]",
		Help: "List available settings, show one for this channel, or change one.\n\n" +
			"`settings set name/channel value` sets it for this channel, " +
			"`name/channel=<id>` for another channel and `name/server` server-wide. " +
			"Leave the value empty or use `none` to clear it.",
		Checks: []fragment.Predicate{fragment.AdminOrOwner},
		Handler: func(ctx context.Context, inv *fragment.Invocation) error {
			if len(inv.Args) == 0 {
				return listSettings(ctx, d.Settings, inv)
			}
			switch inv.Args[0] {
			case "here":
				if len(inv.Args) != 2 {
					return fragment.ErrUsage
				}
				return showSetting(ctx, d.Settings, inv, inv.Args[1])
			case "set":
				if len(inv.Args) < 2 {
					return fragment.ErrUsage
				}
				option := inv.Args[1]
				value := rest(inv.Raw, 2)
				log.Info("setting option", "option", option, "user", inv.Message.Author.ID)
				if err := setSetting(ctx, d, audit, inv, option, value); err != nil {
					return err
				}
				return inv.React(ctx, "✅")
			case "log":
				limit := 0
				if len(inv.Args) > 1 {
					n, err := strconv.Atoi(inv.Args[1])
					if err != nil {
						return fragment.ErrUsage
					}
					limit = n
				}
				return showAudit(ctx, d, audit, inv, limit)
			}
			return fragment.ErrUsage
		},
	})
	return f, nil
}

func showAudit(ctx context.Context, d Deps, audit *auditLog, inv *fragment.Invocation, limit int) error {
	entries, err := audit.List(ctx, inv.Message.ServerID, limit)
	if err != nil {
		return err
	}
	names := make(map[int64]string)
	for _, e := range entries {
		if _, ok := names[e.Actor]; ok {
			continue
		}
		names[e.Actor] = fmt.Sprintf("<unknown %d>", e.Actor)
		u, err := d.Resolver.FetchUserMaybe(ctx, e.Actor)
		if err != nil {
			return err
		}
		if u != nil {
			names[e.Actor] = u.Mention()
		}
	}
	return inv.Reply(ctx, formatAudit(entries, func(id int64) string { return names[id] }))
}

func listSettings(ctx context.Context, reg *settings.Registry, inv *fragment.Invocation) error {
	all := reg.List()
	var b strings.Builder
	fmt.Fprintf(&b, "**Available settings** (%d)\n", len(all))
	for _, s := range all {
		desc := s.Description()
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(&b, "- `%s`: %s\n", s.Name(), desc)
	}
	return inv.Reply(ctx, b.String())
}

func showSetting(ctx context.Context, reg *settings.Registry, inv *fragment.Invocation, name string) error {
	s, ok := reg.Lookup(name)
	if !ok {
		return fragment.Errorf("`%s` is not a valid name", name)
	}
	t, err := inv.Target(ctx)
	if err != nil {
		return err
	}
	shown, err := s.Show(ctx, t)
	if err != nil {
		return err
	}
	return inv.Reply(ctx, fmt.Sprintf("**%s**\n```\n%s\n```", name, shown))
}

// setSetting stores the value and its audit entry in one transaction.
func setSetting(ctx context.Context, d Deps, audit *auditLog, inv *fragment.Invocation, option, value string) error {
	name, args := settings.ParseOption(option)
	s, ok := d.Settings.Lookup(name)
	if !ok {
		return fragment.Errorf("`%s` is not a valid name", name)
	}
	t, err := inv.Target(ctx)
	if err != nil {
		return err
	}
	m := inv.Message
	return d.Store.Transaction(ctx, func(ctx context.Context, _ *store.Tx) error {
		if err := s.SetRaw(ctx, value, t, args); err != nil {
			return err
		}
		return audit.Append(ctx, &AuditEntry{
			Actor:   m.Author.ID,
			Server:  m.ServerID,
			Channel: m.ChannelID,
			Option:  option,
			Value:   value,
		})
	})
}

// rest returns raw with its first n whitespace-separated fields removed.
func rest(raw string, n int) string {
	s := strings.TrimSpace(raw)
	for i := 0; i < n && s != ""; i++ {
		idx := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' })
		if idx < 0 {
			return ""
		}
		s = strings.TrimSpace(s[idx:])
	}
	return s
}
