// ABOUTME: Cache-then-fetch entity lookup with uniform not-found/forbidden errors
// ABOUTME: Maybe variants collapse absence into a nil result

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-familiar/internal/chat"
)

var (
	// ErrNotFound is returned when the entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrForbidden is returned when the entity exists but the bot may not see it.
	ErrForbidden = errors.New("entity forbidden")
)

// TransportError wraps any failure that is neither not-found nor forbidden.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Resolver adds fetch fallback and error normalisation on top of a Source.
// Caching belongs to the Source.
type Resolver struct {
	source chat.Source
}

// New creates a resolver over the given source.
func New(source chat.Source) *Resolver {
	return &Resolver{source: source}
}

// FetchUser returns the user or ErrNotFound, ErrForbidden, *TransportError.
func (r *Resolver) FetchUser(ctx context.Context, id int64) (*chat.User, error) {
	if u, ok := r.source.CachedUser(id); ok {
		return u, nil
	}
	u, err := r.source.FetchUser(ctx, id)
	if err != nil {
		return nil, normalize("fetching user", err)
	}
	return u, nil
}

// FetchChannel returns the channel or ErrNotFound, ErrForbidden, *TransportError.
func (r *Resolver) FetchChannel(ctx context.Context, id int64) (*chat.Channel, error) {
	if c, ok := r.source.CachedChannel(id); ok {
		return c, nil
	}
	c, err := r.source.FetchChannel(ctx, id)
	if err != nil {
		return nil, normalize("fetching channel", err)
	}
	return c, nil
}

// FetchMessage returns the message or ErrNotFound, ErrForbidden, *TransportError.
func (r *Resolver) FetchMessage(ctx context.Context, channelID, id int64) (*chat.Message, error) {
	if m, ok := r.source.CachedMessage(channelID, id); ok {
		return m, nil
	}
	m, err := r.source.FetchMessage(ctx, channelID, id)
	if err != nil {
		return nil, normalize("fetching message", err)
	}
	return m, nil
}

// FetchUserMaybe returns nil for a missing user. Forbidden still fails.
func (r *Resolver) FetchUserMaybe(ctx context.Context, id int64) (*chat.User, error) {
	u, err := r.FetchUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return u, err
}

// FetchChannelMaybe returns nil for a missing or forbidden channel.
func (r *Resolver) FetchChannelMaybe(ctx context.Context, id int64) (*chat.Channel, error) {
	c, err := r.FetchChannel(ctx, id)
	if absent(err) {
		return nil, nil
	}
	return c, err
}

// FetchMessageMaybe returns nil for a missing or forbidden message.
func (r *Resolver) FetchMessageMaybe(ctx context.Context, channelID, id int64) (*chat.Message, error) {
	m, err := r.FetchMessage(ctx, channelID, id)
	if absent(err) {
		return nil, nil
	}
	return m, err
}

func absent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden)
}

// normalize keeps the two sentinels visible to errors.Is and wraps everything
// else in a TransportError.
func normalize(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, ErrForbidden):
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	default:
		var te *TransportError
		if errors.As(err, &te) {
			return err
		}
		return &TransportError{Op: op, Err: err}
	}
}
