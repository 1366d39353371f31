// ABOUTME: Matrix gateway adapter: sync loop, event conversion and reaction tracking
// ABOUTME: Turns m.room.message, m.reaction and m.room.redaction into chat events

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-familiar/internal/cache"
	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/resolver"
	"github.com/2389/coven-familiar/internal/store"
)

// Options configures the adapter.
type Options struct {
	Homeserver  string
	UserID      string
	AccessToken string
	DeviceID    string

	// Owner is the Matrix user treated as bot owner everywhere.
	Owner string

	// AllowedRooms limits which rooms produce events. Empty allows all.
	AllowedRooms []string

	// AutoJoin accepts room invites.
	AutoJoin bool

	// Encryption enables E2EE with its store under DataDir.
	Encryption  bool
	RecoveryKey string
	DataDir     string

	// CacheTTL bounds how long fetched entities are reused.
	CacheTTL time.Duration

	Logger *slog.Logger
}

// Client implements chat.Gateway on top of a mautrix client.
type Client struct {
	cli    *mautrix.Client
	opts   Options
	ids    *IDMap
	logger *slog.Logger
	crypto *cryptoSession
	reactions *reactionLog

	selfID  int64
	ownerID int64

	events  chan chat.Event
	started atomic.Int64 // unix millis; older events are history

	seen     *cache.Cache[id.EventID, struct{}]
	users    *cache.Cache[int64, *chat.User]
	channels *cache.Cache[int64, *chat.Channel]
	messages *cache.Cache[int64, *chat.Message]
}

var _ chat.Gateway = (*Client)(nil)

// New connects the id map and reaction table and prepares a mautrix client.
// Sync does not start until Run.
func New(ctx context.Context, st *store.Store, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "matrix")
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}

	cli, err := mautrix.NewClient(opts.Homeserver, id.UserID(opts.UserID), opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if opts.DeviceID != "" {
		cli.DeviceID = id.DeviceID(opts.DeviceID)
	}

	ids, err := NewIDMap(ctx, st)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cli:      cli,
		opts:     opts,
		ids:      ids,
		logger:   logger,
		events:   make(chan chat.Event, 64),
		seen:     cache.New[id.EventID, struct{}](time.Hour, 10000),
		users:    cache.New[int64, *chat.User](opts.CacheTTL, 5000),
		channels: cache.New[int64, *chat.Channel](opts.CacheTTL, 1000),
		messages: cache.New[int64, *chat.Message](opts.CacheTTL, 5000),
	}

	if c.reactions, err = newReactionLog(ctx, st, ids, cli.UserID, c.channelFor); err != nil {
		return nil, err
	}
	if c.selfID, err = ids.Number(ctx, KindUser, opts.UserID); err != nil {
		return nil, err
	}
	c.ownerID = chat.NoID
	if opts.Owner != "" {
		if c.ownerID, err = ids.Number(ctx, KindUser, opts.Owner); err != nil {
			return nil, err
		}
	}

	if opts.Encryption {
		if c.crypto, err = enableCrypto(ctx, cli, opts.DataDir, opts.RecoveryKey, logger); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Events delivers converted gateway events. It is never closed.
func (c *Client) Events() <-chan chat.Event {
	return c.events
}

// Run syncs until ctx ends or sync fails.
func (c *Client) Run(ctx context.Context) error {
	syncer, ok := c.cli.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.cli.Syncer)
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.EventReaction, c.handleReaction)
	syncer.OnEventType(event.EventRedaction, c.handleRedaction)
	if c.opts.AutoJoin {
		syncer.OnEventType(event.StateMember, c.handleMember)
	}

	c.started.Store(time.Now().UnixMilli())
	c.logger.Info("starting sync", "homeserver", c.opts.Homeserver, "user_id", c.opts.UserID)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- c.cli.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		c.cli.StopSync()
		c.logger.Info("sync stopped")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// Close releases caches and the crypto store.
func (c *Client) Close() error {
	c.ids.Close()
	c.seen.Close()
	c.users.Close()
	c.channels.Close()
	c.messages.Close()
	if c.crypto != nil {
		return c.crypto.Close()
	}
	return nil
}

// accept filters events the adapter should not forward: our own, history
// from before Run, duplicates and rooms outside the allow list.
func (c *Client) accept(evt *event.Event) bool {
	if evt.Sender == c.cli.UserID {
		return false
	}
	if evt.Timestamp < c.started.Load() {
		return false
	}
	if len(c.opts.AllowedRooms) > 0 && !slices.Contains(c.opts.AllowedRooms, evt.RoomID.String()) {
		return false
	}
	return !c.seen.Seen(evt.ID, struct{}{})
}

func (c *Client) emit(ctx context.Context, ev chat.Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if !c.accept(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType == event.MsgNotice {
		return
	}
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}

	msg, err := c.convertMessage(ctx, evt, content)
	if err != nil {
		c.logger.Error("converting message", "room", evt.RoomID.String(), "event", evt.ID.String(), "error", err)
		return
	}
	c.messages.Set(msg.ID, msg)
	c.emit(ctx, chat.MessageEvent(msg))
}

func (c *Client) handleReaction(ctx context.Context, evt *event.Event) {
	if evt.Sender != c.cli.UserID && !c.accept(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok || content.RelatesTo.EventID == "" {
		return
	}

	ev, emit, err := c.reactions.Add(ctx, trackedReaction{
		Event:  evt.ID,
		Room:   evt.RoomID,
		Target: content.RelatesTo.EventID,
		Sender: evt.Sender,
		Key:    content.RelatesTo.Key,
	})
	if err != nil {
		c.logger.Error("recording reaction", "event", evt.ID.String(), "error", err)
		return
	}
	c.messages.Delete(ev.Reaction.MessageID)
	if emit {
		c.emit(ctx, ev)
	}
}

func (c *Client) handleRedaction(ctx context.Context, evt *event.Event) {
	redacts := evt.Redacts
	if content, ok := evt.Content.Parsed.(*event.RedactionEventContent); ok && content.Redacts != "" {
		redacts = content.Redacts
	}
	if redacts == "" || !c.accept(evt) {
		return
	}

	ev, found, err := c.reactions.Redact(ctx, redacts)
	if err != nil {
		c.logger.Error("forgetting reaction", "event", redacts.String(), "error", err)
		return
	}
	if !found {
		return
	}
	c.messages.Delete(ev.Reaction.MessageID)
	c.emit(ctx, ev)
}

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != c.cli.UserID.String() {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if len(c.opts.AllowedRooms) > 0 && !slices.Contains(c.opts.AllowedRooms, evt.RoomID.String()) {
		c.logger.Info("ignoring invite to room outside allow list", "room", evt.RoomID.String())
		return
	}
	if _, err := c.cli.JoinRoomByID(ctx, evt.RoomID); err != nil {
		c.logger.Error("joining room", "room", evt.RoomID.String(), "error", err)
		return
	}
	c.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// channelFor maps a room to its channel, falling back to the room itself as
// server when room state is unreadable.
func (c *Client) channelFor(ctx context.Context, room id.RoomID) (*chat.Channel, error) {
	n, err := c.ids.Number(ctx, KindRoom, room.String())
	if err != nil {
		return nil, err
	}
	if ch, ok := c.channels.Get(n); ok {
		return ch, nil
	}
	ch, err := c.FetchChannel(ctx, n)
	if errors.Is(err, resolver.ErrForbidden) || errors.Is(err, resolver.ErrNotFound) {
		return &chat.Channel{ID: n, ServerID: n, Name: room.String()}, nil
	}
	return ch, err
}

func (c *Client) convertMessage(ctx context.Context, evt *event.Event, content *event.MessageEventContent) (*chat.Message, error) {
	ch, err := c.channelFor(ctx, evt.RoomID)
	if err != nil {
		return nil, err
	}
	msgID, err := c.ids.Number(ctx, KindEvent, evt.ID.String())
	if err != nil {
		return nil, err
	}
	author, err := c.author(ctx, evt.Sender)
	if err != nil {
		return nil, err
	}
	reactions, err := c.reactions.On(ctx, evt.ID)
	if err != nil {
		return nil, err
	}

	msg := &chat.Message{
		ID:        msgID,
		ChannelID: ch.ID,
		ServerID:  ch.ServerID,
		Author:    *author,
		Content:   content.Body,
		Reactions: reactions,
		CreatedAt: time.UnixMilli(evt.Timestamp),
	}
	switch content.MsgType {
	case event.MsgImage, event.MsgFile, event.MsgVideo, event.MsgAudio:
		if content.URL != "" {
			msg.Attachments = append(msg.Attachments, string(content.URL))
		}
	}
	return msg, nil
}

// author resolves a sender, degrading to a bare user when the profile is
// unavailable.
func (c *Client) author(ctx context.Context, sender id.UserID) (*chat.User, error) {
	n, err := c.ids.Number(ctx, KindUser, sender.String())
	if err != nil {
		return nil, err
	}
	if u, ok := c.users.Get(n); ok {
		return u, nil
	}
	u, err := c.FetchUser(ctx, n)
	if err != nil {
		c.logger.Debug("profile unavailable", "user", sender.String(), "error", err)
		return &chat.User{ID: n, Name: sender.String(), Bot: n == c.selfID}, nil
	}
	return u, nil
}

// SelfID returns the bot's own user number.
func (c *Client) SelfID() int64 {
	return c.selfID
}

// UserRef resolves "@user:server" or a user number.
func (c *Client) UserRef(ctx context.Context, ref string) (int64, error) {
	return c.ids.Ref(ctx, KindUser, ref)
}

// ChannelRef resolves "!room:server" or a room number.
func (c *Client) ChannelRef(ctx context.Context, ref string) (int64, error) {
	return c.ids.Ref(ctx, KindRoom, ref)
}
