// ABOUTME: ServerWide and ServerOrChannel scope policies over the settings table
// ABOUTME: Both are generic over the value type and encode values as JSON

package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Definition describes a setting. Only Name and Parse are required.
type Definition[T any] struct {
	Name        string
	Description string
	Default     T
	Parse       Parser[T]

	// Encode and Decode convert values to and from the stored BLOB.
	// Defaults to JSON.
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)

	// Format renders a value for Show. Defaults to fmt.Sprint.
	Format func(T) string
}

type scoped[T any] struct {
	reg *Registry
	def Definition[T]
}

func newScoped[T any](reg *Registry, def Definition[T]) (scoped[T], error) {
	if def.Name == "" {
		return scoped[T]{}, fmt.Errorf("setting name is required")
	}
	if strings.ContainsAny(def.Name, "/ ") {
		return scoped[T]{}, fmt.Errorf("setting name %q may not contain '/' or spaces", def.Name)
	}
	if def.Parse == nil {
		return scoped[T]{}, fmt.Errorf("setting %s: parser is required", def.Name)
	}
	if def.Encode == nil {
		def.Encode = func(v T) ([]byte, error) { return json.Marshal(v) }
	}
	if def.Decode == nil {
		def.Decode = func(b []byte) (T, error) {
			var v T
			err := json.Unmarshal(b, &v)
			return v, err
		}
	}
	if def.Format == nil {
		def.Format = func(v T) string { return fmt.Sprint(v) }
	}
	return scoped[T]{reg: reg, def: def}, nil
}

func (s scoped[T]) Name() string        { return s.def.Name }
func (s scoped[T]) Description() string { return s.def.Description }

// Default returns the value used when nothing is stored.
func (s scoped[T]) Default() T { return s.def.Default }

func (s scoped[T]) lookup(ctx context.Context, c coords) (T, bool, error) {
	var zero T
	raw, found, err := s.reg.load(ctx, s.def.Name, c)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := s.def.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("decoding setting %s: %w", s.def.Name, err)
	}
	return v, true, nil
}

func (s scoped[T]) render(raw []byte) string {
	v, err := s.def.Decode(raw)
	if err != nil {
		return "<undecodable>"
	}
	return s.def.Format(v)
}

// parseAndStore parses raw and writes it at c. The parse happens first so a
// bad value never touches storage.
func (s scoped[T]) parseAndStore(ctx context.Context, raw string, t Target, c coords) error {
	if !t.Admin {
		return ErrNotPermitted
	}
	parsed, err := s.def.Parse(raw)
	if err != nil {
		return err
	}
	if parsed == nil {
		return s.reg.save(ctx, s.def.Name, c, nil)
	}
	encoded, err := s.def.Encode(*parsed)
	if err != nil {
		return fmt.Errorf("encoding setting %s: %w", s.def.Name, err)
	}
	return s.reg.save(ctx, s.def.Name, c, encoded)
}

// ServerWide holds one value per server.
type ServerWide[T any] struct {
	scoped[T]
}

// NewServerWide registers a server-wide setting.
func NewServerWide[T any](reg *Registry, def Definition[T]) (*ServerWide[T], error) {
	base, err := newScoped(reg, def)
	if err != nil {
		return nil, err
	}
	s := &ServerWide[T]{scoped: base}
	if err := reg.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ServerWide[T]) coords(t Target) coords {
	return coords{server: t.Server, channel: Wildcard, user: Wildcard}
}

// Get returns the server's value or the default.
func (s *ServerWide[T]) Get(ctx context.Context, t Target) (T, error) {
	v, found, err := s.lookup(ctx, s.coords(t))
	if err != nil {
		return v, err
	}
	if !found {
		return s.def.Default, nil
	}
	return v, nil
}

// Show renders the server's value or the default.
func (s *ServerWide[T]) Show(ctx context.Context, t Target) (string, error) {
	v, err := s.Get(ctx, t)
	if err != nil {
		return "", err
	}
	return s.def.Format(v), nil
}

// SetRaw stores raw for the target's server. Extra args are ignored.
func (s *ServerWide[T]) SetRaw(ctx context.Context, raw string, t Target, _ []Arg) error {
	return s.parseAndStore(ctx, raw, t, s.coords(t))
}

// Check turns pred into a gate over this setting.
func (s *ServerWide[T]) Check(pred func(T) bool) Gate {
	return func(ctx context.Context, t Target) (bool, error) {
		v, err := s.Get(ctx, t)
		if err != nil {
			return false, err
		}
		return pred(v), nil
	}
}

// ServerOrChannel holds a per-channel value with a server-wide fallback.
type ServerOrChannel[T any] struct {
	scoped[T]
}

// NewServerOrChannel registers a channel-overridable setting.
func NewServerOrChannel[T any](reg *Registry, def Definition[T]) (*ServerOrChannel[T], error) {
	base, err := newScoped(reg, def)
	if err != nil {
		return nil, err
	}
	s := &ServerOrChannel[T]{scoped: base}
	if err := reg.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the channel's value, else the server's, else the default.
func (s *ServerOrChannel[T]) Get(ctx context.Context, t Target) (T, error) {
	v, found, err := s.lookup(ctx, coords{server: t.Server, channel: t.Channel, user: Wildcard})
	if err != nil || found {
		return v, err
	}
	v, found, err = s.lookup(ctx, coords{server: t.Server, channel: Wildcard, user: Wildcard})
	if err != nil || found {
		return v, err
	}
	return s.def.Default, nil
}

// Show lists every row stored for the target's server, one "channel: value"
// line each, ordered by channel id. The server-wide row is labelled
// "default". When no server-wide row exists the registered default is
// appended.
func (s *ServerOrChannel[T]) Show(ctx context.Context, t Target) (string, error) {
	rows, err := s.reg.serverRows(ctx, s.def.Name, t.Server)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	serverWide := false
	for _, row := range rows {
		label := "default"
		if row.channel == Wildcard {
			serverWide = true
		} else {
			label, err = s.channelLabel(ctx, row.channel, t.Server)
			if err != nil {
				return "", err
			}
		}
		fmt.Fprintf(&b, "%s: %s\n", label, s.render(row.value))
	}
	if !serverWide {
		fmt.Fprintf(&b, "default: %s\n", s.def.Format(s.def.Default))
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func (s *ServerOrChannel[T]) channelLabel(ctx context.Context, channel, server int64) (string, error) {
	invalid := fmt.Sprintf("<invalid #%d>", channel)
	if s.reg.channels == nil {
		return invalid, nil
	}
	ch, err := s.reg.channels.FetchChannelMaybe(ctx, channel)
	if err != nil {
		return "", err
	}
	if ch == nil || ch.ServerID != server {
		return invalid, nil
	}
	return "#" + ch.Name, nil
}

// SetRaw stores raw at the channel or server row selected by args.
func (s *ServerOrChannel[T]) SetRaw(ctx context.Context, raw string, t Target, args []Arg) error {
	channel, err := channelOrServer(t, args)
	if err != nil {
		return err
	}
	return s.parseAndStore(ctx, raw, t, coords{server: t.Server, channel: channel, user: Wildcard})
}

// Check turns pred into a gate over this setting.
func (s *ServerOrChannel[T]) Check(pred func(T) bool) Gate {
	return func(ctx context.Context, t Target) (bool, error) {
		v, err := s.Get(ctx, t)
		if err != nil {
			return false, err
		}
		return pred(v), nil
	}
}

// channelOrServer picks the channel coordinate from the first matching arg.
func channelOrServer(t Target, args []Arg) (int64, error) {
	for _, arg := range args {
		switch {
		case arg.Key == "channel" && !arg.HasValue:
			return t.Channel, nil
		case arg.Key == "channel":
			id, err := Int64(arg.Value)
			if err != nil || id == nil {
				return 0, argErrorf("invalid channel id %q", arg.Value)
			}
			return *id, nil
		case arg.Key == "server" && !arg.HasValue:
			return Wildcard, nil
		case arg.Key == "server":
			return 0, argErrorf("cannot specify server value")
		}
	}
	return 0, argErrorf("must specify one of channel/channel=<id>/server")
}
