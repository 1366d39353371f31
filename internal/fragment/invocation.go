// ABOUTME: Invocation carries one parsed command call and its reply helpers
// ABOUTME: Also defines the stock predicates commands can list in Checks

package fragment

import (
	"context"
	"fmt"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/settings"
)

// Invocation is one call of a command.
type Invocation struct {
	Message *chat.Message
	Command Command

	// Raw is everything after the command name, trimmed.
	Raw  string
	Args []string

	router *Router
	target *settings.Target
}

// Router returns the router that parsed the invocation.
func (inv *Invocation) Router() *Router {
	return inv.router
}

// Target resolves the invocation's settings coordinates, including whether
// the author may administer the server.
func (inv *Invocation) Target(ctx context.Context) (settings.Target, error) {
	if inv.target != nil {
		return *inv.target, nil
	}
	t := settings.MessageTarget(inv.Message)
	if a := inv.router.authorizer; a != nil {
		if a.IsOwner(t.User) {
			t.Admin = true
		} else {
			ok, err := a.IsAdmin(ctx, t.Server, t.Channel, t.User)
			if err != nil {
				return settings.Target{}, fmt.Errorf("checking admin: %w", err)
			}
			t.Admin = ok
		}
	}
	inv.target = &t
	return t, nil
}

// IsOwner reports whether the author is the bot owner.
func (inv *Invocation) IsOwner() bool {
	a := inv.router.authorizer
	return a != nil && a.IsOwner(inv.Message.Author.ID)
}

// Reply posts Markdown text in the invocation's channel.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	_, err := inv.router.sender.SendMarkdown(ctx, inv.Message.ChannelID, text)
	return err
}

// React adds a reaction to the invoking message.
func (inv *Invocation) React(ctx context.Context, key string) error {
	return inv.router.sender.React(ctx, inv.Message.ChannelID, inv.Message.ID, key)
}

// CanRun reports whether c's checks pass for this invocation's author and
// channel. Errors count as failure.
func (inv *Invocation) CanRun(ctx context.Context, c Command) bool {
	return inv.runChecks(ctx, c) == nil
}

func (inv *Invocation) runChecks(ctx context.Context, c Command) error {
	for _, check := range c.Checks {
		ok, err := check(ctx, inv)
		if err != nil {
			return err
		}
		if !ok {
			return &CheckFailure{Command: c.Name}
		}
	}
	return nil
}

// AdminOrOwner passes when the author is the bot owner or a server admin.
func AdminOrOwner(ctx context.Context, inv *Invocation) (bool, error) {
	t, err := inv.Target(ctx)
	if err != nil {
		return false, err
	}
	return t.Admin, nil
}

// OwnerOnly passes only for the bot owner.
func OwnerOnly(_ context.Context, inv *Invocation) (bool, error) {
	return inv.IsOwner(), nil
}

// Gate adapts a setting gate into a command predicate.
func Gate(g settings.Gate) Predicate {
	return func(ctx context.Context, inv *Invocation) (bool, error) {
		return g(ctx, settings.MessageTarget(inv.Message))
	}
}
