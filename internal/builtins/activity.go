// ABOUTME: Background task that rotates the bot's status line
// ABOUTME: Picks a random status from the configured list on every tick

package builtins

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/2389/coven-familiar/internal/fragment"
)

// DefaultStatuses are used when none are configured.
var DefaultStatuses = []string{
	"watching you",
	"🔺 to upvote!",
	"playing as a human",
	"playing 'a nice game of chess'",
}

// DefaultActivityInterval is how often the status changes by default.
const DefaultActivityInterval = time.Hour

// Activity builds the status-rotation fragment.
func Activity(d Deps, statuses []string, interval time.Duration) *fragment.Fragment {
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}
	if interval <= 0 {
		interval = DefaultActivityInterval
	}
	log := d.logger("activity")

	f := fragment.New("activity")
	f.Task("rotate", func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			status := statuses[rand.IntN(len(statuses))]
			if err := d.Gateway.SetStatus(ctx, status); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn("failed to set status", "status", status, "error", err)
			} else {
				log.Debug("status changed", "status", status)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	return f
}
