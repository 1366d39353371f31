package builtins

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/settings"
	"github.com/2389/coven-familiar/internal/store"
)

func newPinHarness(t *testing.T, board string) *harness {
	t.Helper()
	h := newHarness(t)
	f, err := Pin(context.Background(), h.deps)
	require.NoError(t, err)
	h.attach(t, f)

	ctx := context.Background()
	server := []settings.Arg{{Key: "server"}}
	if board != "" {
		s, _ := h.deps.Settings.Lookup("pin_channel")
		require.NoError(t, s.SetRaw(ctx, board, adminTarget(), server))
	}
	s, _ := h.deps.Settings.Lookup("pin_threshold")
	require.NoError(t, s.SetRaw(ctx, "2", adminTarget(), server))
	return h
}

func starred(id int64, stars int, content string, attachments ...string) *chat.Message {
	return &chat.Message{
		ID:          id,
		ChannelID:   channelID,
		ServerID:    serverID,
		Author:      chat.User{ID: aliceID, Name: "@alice:x", DisplayName: "Alice"},
		Content:     content,
		Attachments: attachments,
		Reactions:   []chat.Reaction{{Key: Star, Count: stars}},
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func pinnedCount(t *testing.T, h *harness) int {
	t.Helper()
	var n int
	err := h.deps.Store.Transaction(context.Background(), func(ctx context.Context, tx *store.Tx) error {
		return tx.QueryRow(ctx, `SELECT COUNT(*) FROM pins`).Scan(&n)
	})
	require.NoError(t, err)
	return n
}

func TestPin_PinsAtThreshold(t *testing.T) {
	h := newPinHarness(t, fmt.Sprint(boardID))
	h.gateway.addMessage(starred(600, 2, "great take\nsecond line"))

	h.dispatch(chat.ReactionAdded(reaction(bobID, 600, Star)))

	require.Len(t, h.gateway.sent, 1)
	post := h.gateway.sent[0]
	assert.Equal(t, boardID, post.channel)
	assert.Contains(t, post.text, "**Alice** in #general")
	assert.Contains(t, post.text, "> great take\n> second line")
	assert.Equal(t, []string{Star}, h.gateway.reactionKeys())
	assert.Equal(t, 1, pinnedCount(t, h))
}

func TestPin_OnlyOnce(t *testing.T) {
	h := newPinHarness(t, fmt.Sprint(boardID))
	h.gateway.addMessage(starred(600, 3, "hello"))

	h.dispatch(chat.ReactionAdded(reaction(bobID, 600, Star)))
	h.dispatch(chat.ReactionAdded(reaction(adminID, 600, Star)))

	assert.Len(t, h.gateway.sent, 1)
	assert.Equal(t, 1, pinnedCount(t, h))
}

func TestPin_Skips(t *testing.T) {
	alreadyMine := starred(603, 5, "old news")
	alreadyMine.Reactions[0].Me = true

	tests := []struct {
		name  string
		board string
		msg   *chat.Message
		key   string
	}{
		{"below threshold", "20", starred(601, 1, "meh"), Star},
		{"other emoji", "20", starred(602, 5, "hello"), Upvote},
		{"already starred by bot", "20", alreadyMine, Star},
		{"empty message", "20", starred(604, 5, "  "), Star},
		{"disabled", "0", starred(605, 5, "hello"), Star},
		{"unset board", "", starred(606, 5, "hello"), Star},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newPinHarness(t, tt.board)
			h.gateway.addMessage(tt.msg)
			h.dispatch(chat.ReactionAdded(reaction(bobID, tt.msg.ID, tt.key)))
			assert.Empty(t, h.gateway.sent)
			assert.Zero(t, pinnedCount(t, h))
		})
	}
}

func TestPin_AttachmentOnly(t *testing.T) {
	h := newPinHarness(t, fmt.Sprint(boardID))
	h.gateway.addMessage(starred(610, 2, "", "https://example.org/cat.png"))

	h.dispatch(chat.ReactionAdded(reaction(bobID, 610, Star)))

	require.Len(t, h.gateway.sent, 1)
	assert.Contains(t, h.gateway.sent[0].text, "https://example.org/cat.png")
}

func TestPin_SendFailureReleasesClaim(t *testing.T) {
	h := newPinHarness(t, fmt.Sprint(boardID))
	h.gateway.addMessage(starred(620, 2, "hello"))
	h.gateway.sendErr = errors.New("homeserver down")

	h.dispatch(chat.ReactionAdded(reaction(bobID, 620, Star)))
	assert.Zero(t, pinnedCount(t, h))

	h.gateway.sendErr = nil
	h.dispatch(chat.ReactionAdded(reaction(bobID, 620, Star)))
	assert.Equal(t, 1, pinnedCount(t, h))
}
