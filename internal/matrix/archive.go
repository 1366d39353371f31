// ABOUTME: chat.Archiver for Matrix: redactions, room history pagination and file uploads
// ABOUTME: Backs the owner commands that delete messages and export chat logs

package matrix

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/resolver"
)

const historyPage = 100

// DeleteMessage redacts a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	room, err := c.ids.Lookup(ctx, KindRoom, channelID)
	if err != nil {
		return err
	}
	target, err := c.ids.Lookup(ctx, KindEvent, messageID)
	if err != nil {
		return err
	}
	if _, err := c.cli.RedactEvent(ctx, id.RoomID(room), id.EventID(target)); err != nil {
		return fmt.Errorf("redacting message: %w", classify(err))
	}
	c.messages.Delete(messageID)
	c.logger.Info("redacted message", "room", room, "event", target)
	return nil
}

// History pages forward through the room from its creation. Events that are
// not messages, or cannot be decrypted, are skipped.
func (c *Client) History(ctx context.Context, channelID int64, fn func(*chat.Message) error) error {
	room, err := c.ids.Lookup(ctx, KindRoom, channelID)
	if err != nil {
		return err
	}

	from := ""
	for {
		resp, err := c.cli.Messages(ctx, id.RoomID(room), from, "", mautrix.DirectionForward, nil, historyPage)
		if err != nil {
			return fmt.Errorf("reading history: %w", classify(err))
		}
		for _, evt := range resp.Chunk {
			if evt.Type != event.EventMessage && evt.Type != event.EventEncrypted {
				continue
			}
			evt.RoomID = id.RoomID(room)
			msg, err := c.messageFromEvent(ctx, evt)
			if errors.Is(err, resolver.ErrNotFound) {
				continue
			}
			if err != nil {
				c.logger.Warn("skipping history event", "room", room, "event", evt.ID.String(), "error", err)
				continue
			}
			if err := fn(msg); err != nil {
				return err
			}
		}
		if resp.End == "" || len(resp.Chunk) == 0 {
			return nil
		}
		from = resp.End
	}
}

// SendFile uploads the file to the media repository and posts it as m.file.
func (c *Client) SendFile(ctx context.Context, channelID int64, file chat.File) error {
	room, err := c.ids.Lookup(ctx, KindRoom, channelID)
	if err != nil {
		return err
	}
	upload, err := c.cli.UploadBytes(ctx, file.Data, file.MimeType)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", file.Name, classify(err))
	}

	body := file.Caption
	if body == "" {
		body = file.Name
	}
	content := &event.MessageEventContent{
		MsgType:  event.MsgFile,
		Body:     body,
		FileName: file.Name,
		URL:      upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: file.MimeType,
			Size:     len(file.Data),
		},
	}
	if _, err := c.cli.SendMessageEvent(ctx, id.RoomID(room), event.EventMessage, content); err != nil {
		return fmt.Errorf("sending file: %w", classify(err))
	}
	return nil
}
