// ABOUTME: Channel history export for the owner's chatlog command
// ABOUTME: Writes one line per message into a gzip stream and reports sizes

package builtins

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"strings"

	"github.com/2389/coven-familiar/internal/chat"
)

// chatlogStats summarises an export.
type chatlogStats struct {
	Messages   int
	Characters int // message content only
	LogBytes   int // uncompressed log
}

// chatlogLine renders one message, e.g.
// "[24-03-01 12:00:00] @alice:x: hi [attached: mxc://x/1]".
func chatlogLine(m *chat.Message) string {
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.UTC().Format("06-01-02 15:04:05"), m.Author.Name, m.Content)
	if len(m.Attachments) > 0 {
		line += " [attached: " + strings.Join(m.Attachments, ", ") + "]"
	}
	return line
}

// exportChatlog streams the channel history through gzip.
func exportChatlog(ctx context.Context, a chat.Archiver, channelID int64) ([]byte, chatlogStats, error) {
	var stats chatlogStats
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, stats, err
	}
	err = a.History(ctx, channelID, func(m *chat.Message) error {
		line := chatlogLine(m) + "\n"
		if _, err := zw.Write([]byte(line)); err != nil {
			return err
		}
		stats.Messages++
		stats.Characters += len(m.Content)
		stats.LogBytes += len(line)
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("exporting history: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, stats, fmt.Errorf("compressing history: %w", err)
	}
	return buf.Bytes(), stats, nil
}
