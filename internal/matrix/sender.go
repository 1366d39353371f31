// ABOUTME: chat.Sender for Matrix: Markdown messages and m.annotation reactions
// ABOUTME: Also resolves configured room references for incident reports

package matrix

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// SendMarkdown implements chat.Sender.
func (c *Client) SendMarkdown(ctx context.Context, channelID int64, text string) (int64, error) {
	room, err := c.ids.Lookup(ctx, KindRoom, channelID)
	if err != nil {
		return 0, err
	}
	content, err := markdownContent(text)
	if err != nil {
		return 0, fmt.Errorf("rendering markdown: %w", err)
	}

	resp, err := c.cli.SendMessageEvent(ctx, id.RoomID(room), event.EventMessage, content)
	if err != nil {
		return 0, fmt.Errorf("sending message: %w", classify(err))
	}
	c.logger.Debug("sent message", "room", room, "event", resp.EventID.String(), "length", len(text))
	return c.ids.Number(ctx, KindEvent, resp.EventID.String())
}

// React implements chat.Sender.
func (c *Client) React(ctx context.Context, channelID, messageID int64, key string) error {
	room, err := c.ids.Lookup(ctx, KindRoom, channelID)
	if err != nil {
		return err
	}
	target, err := c.ids.Lookup(ctx, KindEvent, messageID)
	if err != nil {
		return err
	}
	if _, err := c.cli.SendReaction(ctx, id.RoomID(room), id.EventID(target), key); err != nil {
		return fmt.Errorf("sending reaction: %w", classify(err))
	}
	return nil
}

// RoomNumber maps a configured "!room:server" to its channel id.
func (c *Client) RoomNumber(ctx context.Context, room string) (int64, error) {
	if !validMXID(KindRoom, room) {
		return 0, fmt.Errorf("%q is not a room id", room)
	}
	return c.ids.Number(ctx, KindRoom, room)
}
