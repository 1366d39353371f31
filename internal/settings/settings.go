// ABOUTME: Core types for scoped settings: targets, option args, errors and gates
// ABOUTME: Concrete scope policies live in scoped.go, registration in registry.go

package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/coven-familiar/internal/chat"
)

// Wildcard is stored in a coordinate column that does not apply.
const Wildcard int64 = -1

var (
	// ErrDuplicateSetting is returned when a name is registered twice under
	// RejectDuplicates.
	ErrDuplicateSetting = errors.New("setting already registered")

	// ErrNotPermitted is returned when a non-admin target tries to set a value.
	ErrNotPermitted = errors.New("only server admins may change settings")
)

// ArgumentError reports bad user input. Its message is shown to the user
// verbatim.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return e.Msg
}

func argErrorf(format string, args ...any) *ArgumentError {
	return &ArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// Target is the (server, channel, user) coordinate a message or command
// resolves to. Admin records whether the caller may change settings.
type Target struct {
	Server  int64
	Channel int64
	User    int64
	Admin   bool
}

// MessageTarget returns the coordinates of a message. Admin is left false.
func MessageTarget(m *chat.Message) Target {
	return Target{Server: m.ServerID, Channel: m.ChannelID, User: m.Author.ID}
}

// ReactionTarget returns the coordinates of a reaction event.
func ReactionTarget(r *chat.ReactionEvent) Target {
	return Target{Server: r.ServerID, Channel: r.ChannelID, User: r.UserID}
}

// Arg is one extra argument of an option spec: a bare flag ("server") or a
// key=value pair ("channel=12").
type Arg struct {
	Key      string
	Value    string
	HasValue bool
}

func (a Arg) String() string {
	if a.HasValue {
		return a.Key + "=" + a.Value
	}
	return a.Key
}

// ParseOption splits "name/channel=12/server" into the setting name and its
// ordered args. Empty segments are skipped.
func ParseOption(spec string) (string, []Arg) {
	parts := strings.Split(spec, "/")
	var args []Arg
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key, value, ok := strings.Cut(part, "="); ok {
			args = append(args, Arg{Key: key, Value: value, HasValue: true})
		} else {
			args = append(args, Arg{Key: part})
		}
	}
	return strings.TrimSpace(parts[0]), args
}

// Setting is the behaviour shared by every scope policy.
type Setting interface {
	Name() string
	Description() string

	// Show renders every stored value relevant to the target, or the default.
	Show(ctx context.Context, t Target) (string, error)

	// SetRaw parses raw and stores it at the coordinates selected by args.
	// A value that parses to nothing deletes the stored row.
	SetRaw(ctx context.Context, raw string, t Target, args []Arg) error
}

// Gate is a setting-backed yes/no decision for a target.
type Gate func(ctx context.Context, t Target) (bool, error)
