// ABOUTME: Shared dependencies for the built-in fragments and the Load entry point
// ABOUTME: Load builds every fragment; the launcher attaches them to the router

package builtins

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/fragment"
	"github.com/2389/coven-familiar/internal/resolver"
	"github.com/2389/coven-familiar/internal/settings"
	"github.com/2389/coven-familiar/internal/store"
)

// Deps is what the built-in fragments need from the running bot.
type Deps struct {
	Store    *store.Store
	Settings *settings.Registry
	Resolver *resolver.Resolver
	Gateway  chat.Gateway
	Logger   *slog.Logger
}

func (d Deps) logger(component string) *slog.Logger {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", component)
}

// Options tunes the built-in fragments.
type Options struct {
	CoursePrefix     string
	Statuses         []string
	ActivityInterval time.Duration
}

// Load builds every built-in fragment, registering their settings and tables.
func Load(ctx context.Context, d Deps, opts Options) ([]*fragment.Fragment, error) {
	settingsCmd, err := Settings(ctx, d)
	if err != nil {
		return nil, err
	}
	karma, err := Karma(ctx, d)
	if err != nil {
		return nil, err
	}
	pin, err := Pin(ctx, d)
	if err != nil {
		return nil, err
	}
	return []*fragment.Fragment{
		settingsCmd,
		Help(),
		Admin(d),
		karma,
		pin,
		Linker(opts.CoursePrefix),
		Activity(d, opts.Statuses, opts.ActivityInterval),
	}, nil
}
