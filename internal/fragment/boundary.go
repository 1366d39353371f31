// ABOUTME: Top-level error boundary for commands, listeners and tasks
// ABOUTME: User errors get a short reply; internal errors get an incident report

package fragment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/resolver"
	"github.com/2389/coven-familiar/internal/settings"
)

// Incident describes an internal error for the operator.
type Incident struct {
	ID     string
	Source string
	Err    error
	Stack  string
	Time   time.Time
}

// Reporter notifies an operator about internal errors.
type Reporter interface {
	Report(ctx context.Context, inc Incident) error
}

// ChannelReporter posts incidents to one channel.
type ChannelReporter struct {
	Sender    chat.Sender
	ChannelID int64
}

// Report implements Reporter.
func (c *ChannelReporter) Report(ctx context.Context, inc Incident) error {
	text := fmt.Sprintf("ISE %s at %s in %s\n```\n%v\n%s```",
		inc.ID, inc.Time.Format(time.RFC3339), inc.Source, inc.Err, inc.Stack)
	_, err := c.Sender.SendMarkdown(ctx, c.ChannelID, text)
	return err
}

const (
	replyForbidden = "⛔ This bot is missing permissions"
	replyInternal  = "```diff\n-- 500 Internal Server Error --\n```"
)

// userReply returns the text shown for errors caused by the caller, or false
// for internal errors.
func (r *Router) userReply(inv *Invocation, err error) (string, bool) {
	var argErr *settings.ArgumentError
	var check *CheckFailure
	var userErr *UserError

	switch {
	case errors.As(err, &argErr):
		return "❎ " + argErr.Msg, true
	case errors.As(err, &check):
		return "```fix\n" + check.Error() + "\n```", true
	case errors.As(err, &userErr):
		return "```fix\n" + userErr.Msg + "\n```", true
	case errors.Is(err, settings.ErrNotPermitted):
		return "```fix\n" + settings.ErrNotPermitted.Error() + "\n```", true
	case errors.Is(err, ErrUsage):
		usage := r.prefix + inv.Command.Name
		if inv.Command.Usage != "" {
			usage += " " + inv.Command.Usage
		}
		return "```fix\nusage: " + usage + "\n```", true
	case errors.Is(err, resolver.ErrForbidden):
		return replyForbidden, true
	}
	return "", false
}

func (r *Router) handleCommandError(ctx context.Context, inv *Invocation, err error) {
	if reply, ok := r.userReply(inv, err); ok {
		r.logger.Debug("command rejected", "command", inv.Command.Name, "reason", err)
		if sendErr := inv.Reply(ctx, reply); sendErr != nil {
			r.logger.Error("sending error reply", "command", inv.Command.Name, "error", sendErr)
		}
		return
	}

	inc := r.incident("command "+inv.Command.Name, err)
	r.logger.Error("command failed",
		"command", inv.Command.Name,
		"incident", inc.ID,
		"error", err,
	)
	if sendErr := inv.Reply(ctx, replyInternal); sendErr != nil {
		r.logger.Error("sending error reply", "command", inv.Command.Name, "error", sendErr)
	}
	r.report(ctx, inc)
}

func (r *Router) handleListenerError(ctx context.Context, ev chat.Event, err error) {
	if errors.Is(err, resolver.ErrForbidden) {
		r.logger.Debug("listener forbidden", "event", ev.Name, "error", err)
		return
	}
	inc := r.incident("listener "+ev.Name, err)
	r.logger.Error("listener failed", "event", ev.Name, "incident", inc.ID, "error", err)
	r.report(ctx, inc)
}

func (r *Router) handleTaskError(ctx context.Context, name string, err error) {
	inc := r.incident("task "+name, err)
	r.logger.Error("task failed", "task", name, "incident", inc.ID, "error", err)
	r.report(ctx, inc)
}

func (r *Router) incident(source string, err error) Incident {
	inc := Incident{
		ID:     uuid.New().String(),
		Source: source,
		Err:    err,
		Time:   time.Now(),
	}
	var p *panicError
	if errors.As(err, &p) {
		inc.Stack = string(p.stack)
	}
	return inc
}

func (r *Router) report(ctx context.Context, inc Incident) {
	if r.reporter == nil {
		return
	}
	// Reports go out even after the handler context ends.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.reporter.Report(ctx, inc); err != nil {
		r.logger.Error("reporting incident", "incident", inc.ID, "error", err)
	}
}
