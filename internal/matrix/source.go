// ABOUTME: chat.Source and chat.Authorizer over Matrix profiles, room state and events
// ABOUTME: Maps M_NOT_FOUND and M_FORBIDDEN to the resolver's sentinels

package matrix

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/resolver"
)

// adminLevel is the power level that counts as server admin.
const adminLevel = 100

// classify maps homeserver error codes onto resolver sentinels. Anything
// else is returned unchanged for the resolver to wrap.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mautrix.MNotFound):
		return fmt.Errorf("%w: %v", resolver.ErrNotFound, err)
	case errors.Is(err, mautrix.MForbidden):
		return fmt.Errorf("%w: %v", resolver.ErrForbidden, err)
	}
	return err
}

// CachedUser implements chat.Source.
func (c *Client) CachedUser(n int64) (*chat.User, bool) {
	return c.users.Get(n)
}

// FetchUser implements chat.Source.
func (c *Client) FetchUser(ctx context.Context, n int64) (*chat.User, error) {
	mxid, err := c.ids.Lookup(ctx, KindUser, n)
	if err != nil {
		return nil, err
	}
	profile, err := c.cli.GetProfile(ctx, id.UserID(mxid))
	if err != nil {
		return nil, classify(err)
	}
	u := &chat.User{
		ID:          n,
		Name:        mxid,
		DisplayName: profile.DisplayName,
		Bot:         n == c.selfID,
	}
	c.users.Set(n, u)
	return u, nil
}

// CachedChannel implements chat.Source.
func (c *Client) CachedChannel(n int64) (*chat.Channel, bool) {
	return c.channels.Get(n)
}

// FetchChannel implements chat.Source. The channel's server is the first
// m.space.parent of the room, or the room itself.
func (c *Client) FetchChannel(ctx context.Context, n int64) (*chat.Channel, error) {
	mxid, err := c.ids.Lookup(ctx, KindRoom, n)
	if err != nil {
		return nil, err
	}
	room := id.RoomID(mxid)

	state, err := c.cli.State(ctx, room)
	if err != nil {
		return nil, classify(err)
	}

	ch := &chat.Channel{ID: n, ServerID: n, Name: roomName(state, mxid)}
	if parent := spaceParent(state); parent != "" {
		if ch.ServerID, err = c.ids.Number(ctx, KindRoom, parent); err != nil {
			return nil, err
		}
	}
	c.channels.Set(n, ch)
	return ch, nil
}

// roomName returns m.room.name, falling back to the canonical alias and then
// the room id.
func roomName(state mautrix.RoomStateMap, fallback string) string {
	if evt := state[event.StateRoomName][""]; evt != nil {
		if content, ok := evt.Content.Parsed.(*event.RoomNameEventContent); ok && content.Name != "" {
			return content.Name
		}
		if name, ok := evt.Content.Raw["name"].(string); ok && name != "" {
			return name
		}
	}
	if evt := state[event.StateCanonicalAlias][""]; evt != nil {
		if alias, ok := evt.Content.Raw["alias"].(string); ok && alias != "" {
			return alias
		}
	}
	return fallback
}

// spaceParent returns the lexically first parent space with a non-empty
// m.space.parent event, or "".
func spaceParent(state mautrix.RoomStateMap) string {
	var parents []string
	for key, evt := range state[event.StateSpaceParent] {
		if evt == nil || len(evt.Content.Raw) == 0 {
			continue
		}
		parents = append(parents, key)
	}
	if len(parents) == 0 {
		return ""
	}
	sort.Strings(parents)
	return parents[0]
}

// CachedMessage implements chat.Source.
func (c *Client) CachedMessage(channelID, n int64) (*chat.Message, bool) {
	m, ok := c.messages.Get(n)
	if !ok || m.ChannelID != channelID {
		return nil, false
	}
	return m, true
}

// FetchMessage implements chat.Source.
func (c *Client) FetchMessage(ctx context.Context, channelID, n int64) (*chat.Message, error) {
	roomID, err := c.ids.Lookup(ctx, KindRoom, channelID)
	if err != nil {
		return nil, err
	}
	eventID, err := c.ids.Lookup(ctx, KindEvent, n)
	if err != nil {
		return nil, err
	}

	evt, err := c.cli.GetEvent(ctx, id.RoomID(roomID), id.EventID(eventID))
	if err != nil {
		return nil, classify(err)
	}
	msg, err := c.messageFromEvent(ctx, evt)
	if err != nil {
		return nil, err
	}
	c.messages.Set(n, msg)
	return msg, nil
}

// messageFromEvent decrypts evt if needed and converts it. Events that are
// not messages report resolver.ErrNotFound.
func (c *Client) messageFromEvent(ctx context.Context, evt *event.Event) (*chat.Message, error) {
	if err := evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		return nil, fmt.Errorf("parsing event %s: %w", evt.ID, err)
	}
	if evt.Type == event.EventEncrypted && c.cli.Crypto != nil {
		decrypted, err := c.cli.Crypto.Decrypt(ctx, evt)
		if err != nil {
			return nil, fmt.Errorf("decrypting event %s: %w", evt.ID, err)
		}
		evt = decrypted
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return nil, fmt.Errorf("event %s is %s, not a message: %w", evt.ID, evt.Type.Type, resolver.ErrNotFound)
	}
	return c.convertMessage(ctx, evt, content)
}

// IsOwner implements chat.Authorizer.
func (c *Client) IsOwner(userID int64) bool {
	return c.ownerID != chat.NoID && userID == c.ownerID
}

// IsAdmin implements chat.Authorizer: a user with power level 100 in the
// channel's room, or in its parent space, administers the server.
func (c *Client) IsAdmin(ctx context.Context, serverID, channelID, userID int64) (bool, error) {
	user, err := c.ids.Lookup(ctx, KindUser, userID)
	if err != nil {
		return false, err
	}

	rooms := []int64{channelID}
	if serverID != channelID {
		rooms = append(rooms, serverID)
	}
	for _, n := range rooms {
		level, err := c.powerLevel(ctx, n, id.UserID(user))
		if err != nil {
			return false, err
		}
		if level >= adminLevel {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) powerLevel(ctx context.Context, room int64, user id.UserID) (int, error) {
	mxid, err := c.ids.Lookup(ctx, KindRoom, room)
	if err != nil {
		return 0, err
	}
	var levels event.PowerLevelsEventContent
	err = c.cli.StateEvent(ctx, id.RoomID(mxid), event.StatePowerLevels, "", &levels)
	if errors.Is(err, mautrix.MForbidden) || errors.Is(err, mautrix.MNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading power levels: %w", err)
	}
	return levels.GetUserLevel(user), nil
}

// SetStatus implements chat.StatusSetter with a presence status message.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body := map[string]any{
		"presence":   "online",
		"status_msg": status,
	}
	url := c.cli.BuildClientURL("v3", "presence", c.cli.UserID, "status")
	if _, err := c.cli.MakeRequest(ctx, "PUT", url, body, nil); err != nil {
		return fmt.Errorf("setting presence: %w", err)
	}
	return nil
}
