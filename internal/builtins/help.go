// ABOUTME: The help command lists runnable commands or describes one

package builtins

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/coven-familiar/internal/fragment"
)

// Help builds the help fragment.
func Help() *fragment.Fragment {
	f := fragment.New("help")
	f.Command(fragment.Command{
		Name:    "help",
		Usage:   "[command]",
		Help:    "Show help about all commands.",
		Handler: help,
	})
	return f
}

func help(ctx context.Context, inv *fragment.Invocation) error {
	r := inv.Router()
	prefix := r.Prefix()

	if len(inv.Args) > 0 {
		c, ok := r.Command(inv.Args[0])
		if !ok {
			return fragment.Errorf("command not found")
		}
		usage := prefix + c.Name
		if c.Usage != "" {
			usage += " " + c.Usage
		}
		text := c.Help
		if text == "" {
			text = "_No description available_"
		}
		return inv.Reply(ctx, fmt.Sprintf("**Help on %s**\n\nUsage: `%s`\n\n%s", c.Name, usage, text))
	}

	var b strings.Builder
	b.WriteString("**Help**\n")
	for _, c := range r.Commands() {
		if c.Hidden || !inv.CanRun(ctx, c) {
			continue
		}
		summary, _, _ := strings.Cut(c.Help, "\n")
		if summary == "" {
			summary = "_No description available_"
		}
		fmt.Fprintf(&b, "- `%s%s`: %s\n", prefix, c.Name, summary)
	}
	fmt.Fprintf(&b, "\nRun `%shelp <command>` for information on a specific command.", prefix)
	return inv.Reply(ctx, b.String())
}
