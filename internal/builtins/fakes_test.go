package builtins

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/fragment"
	"github.com/2389/coven-familiar/internal/resolver"
	"github.com/2389/coven-familiar/internal/settings"
	"github.com/2389/coven-familiar/internal/store"
)

const (
	ownerID int64 = 1
	adminID int64 = 2
	aliceID int64 = 3
	bobID   int64 = 4
	botID   int64 = 99
	selfID  int64 = 1000

	serverID  int64 = 50
	channelID int64 = 10
	boardID   int64 = 20
)

type sent struct {
	channel int64
	text    string
}

type reacted struct {
	channel, message int64
	key              string
}

// fakeGateway is an in-memory chat.Gateway.
type fakeGateway struct {
	mu        sync.Mutex
	users     map[int64]*chat.User
	channels  map[int64]*chat.Channel
	messages  map[int64]*chat.Message
	sent      []sent
	reactions []reacted
	statuses  []string
	files     []chat.File
	deleted   []int64
	sendErr   error
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{
		users:    make(map[int64]*chat.User),
		channels: make(map[int64]*chat.Channel),
		messages: make(map[int64]*chat.Message),
	}
	for _, u := range []chat.User{
		{ID: ownerID, Name: "@owner:x", DisplayName: "Owner"},
		{ID: adminID, Name: "@admin:x", DisplayName: "Admin"},
		{ID: aliceID, Name: "@alice:x", DisplayName: "Alice"},
		{ID: bobID, Name: "@bob:x", DisplayName: "Bob"},
		{ID: botID, Name: "@bot:x", DisplayName: "Other bot", Bot: true},
		{ID: selfID, Name: "@familiar:x", DisplayName: "Familiar", Bot: true},
	} {
		g.users[u.ID] = &u
	}
	g.channels[channelID] = &chat.Channel{ID: channelID, ServerID: serverID, Name: "general"}
	g.channels[boardID] = &chat.Channel{ID: boardID, ServerID: serverID, Name: "starboard"}
	return g
}

func (g *fakeGateway) addMessage(m *chat.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages[m.ID] = m
}

func (g *fakeGateway) CachedUser(id int64) (*chat.User, bool) { return nil, false }

func (g *fakeGateway) FetchUser(ctx context.Context, id int64) (*chat.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u, ok := g.users[id]; ok {
		return u, nil
	}
	return nil, resolver.ErrNotFound
}

func (g *fakeGateway) CachedChannel(id int64) (*chat.Channel, bool) { return nil, false }

func (g *fakeGateway) FetchChannel(ctx context.Context, id int64) (*chat.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.channels[id]; ok {
		return c, nil
	}
	return nil, resolver.ErrNotFound
}

func (g *fakeGateway) CachedMessage(channelID, id int64) (*chat.Message, bool) { return nil, false }

func (g *fakeGateway) FetchMessage(ctx context.Context, channelID, id int64) (*chat.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.messages[id]; ok && m.ChannelID == channelID {
		return m, nil
	}
	return nil, resolver.ErrNotFound
}

func (g *fakeGateway) SendMarkdown(ctx context.Context, channelID int64, text string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return 0, g.sendErr
	}
	g.sent = append(g.sent, sent{channel: channelID, text: text})
	return int64(5000 + len(g.sent)), nil
}

func (g *fakeGateway) React(ctx context.Context, channelID, messageID int64, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions = append(g.reactions, reacted{channel: channelID, message: messageID, key: key})
	return nil
}

func (g *fakeGateway) IsOwner(userID int64) bool { return userID == ownerID }

func (g *fakeGateway) IsAdmin(ctx context.Context, serverID, channelID, userID int64) (bool, error) {
	return userID == adminID, nil
}

func (g *fakeGateway) SetStatus(ctx context.Context, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses = append(g.statuses, status)
	return nil
}

func (g *fakeGateway) SelfID() int64 { return selfID }

func (g *fakeGateway) UserRef(ctx context.Context, ref string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, u := range g.users {
		if u.Name == ref {
			return id, nil
		}
	}
	n, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", ref, resolver.ErrNotFound)
	}
	return n, nil
}

func (g *fakeGateway) ChannelRef(ctx context.Context, ref string) (int64, error) {
	n, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", ref, resolver.ErrNotFound)
	}
	return n, nil
}

func (g *fakeGateway) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return fmt.Errorf("message %d: %w", messageID, resolver.ErrNotFound)
	}
	delete(g.messages, messageID)
	g.deleted = append(g.deleted, messageID)
	return nil
}

func (g *fakeGateway) History(ctx context.Context, channelID int64, fn func(*chat.Message) error) error {
	g.mu.Lock()
	var history []*chat.Message
	for _, m := range g.messages {
		if m.ChannelID == channelID {
			history = append(history, m)
		}
	}
	g.mu.Unlock()
	sort.Slice(history, func(i, j int) bool { return history[i].ID < history[j].ID })
	for _, m := range history {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (g *fakeGateway) SendFile(ctx context.Context, channelID int64, file chat.File) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files = append(g.files, file)
	return nil
}

func (g *fakeGateway) texts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.sent))
	for _, s := range g.sent {
		out = append(out, s.text)
	}
	return out
}

func (g *fakeGateway) reactionKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.reactions))
	for _, r := range g.reactions {
		out = append(out, r.key)
	}
	return out
}

type harness struct {
	deps    Deps
	gateway *fakeGateway
	router  *fragment.Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "familiar.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	gw := newFakeGateway()
	res := resolver.New(gw)
	reg, err := settings.NewRegistry(ctx, st, settings.Options{Channels: res})
	require.NoError(t, err)

	d := Deps{Store: st, Settings: reg, Resolver: res, Gateway: gw}
	router := fragment.NewRouter(fragment.RouterConfig{Prefix: "!", Sender: gw, Authorizer: gw})
	return &harness{deps: d, gateway: gw, router: router}
}

func (h *harness) attach(t *testing.T, frags ...*fragment.Fragment) {
	t.Helper()
	for _, f := range frags {
		require.NoError(t, f.Attach(h.router))
	}
}

// say dispatches a message from author in the test channel and waits for it.
func (h *harness) say(author int64, content string) {
	h.router.Dispatch(context.Background(), chat.MessageEvent(&chat.Message{
		ID:        777,
		ChannelID: channelID,
		ServerID:  serverID,
		Author:    *h.gateway.users[author],
		Content:   content,
	}))
	h.router.Wait()
}

func (h *harness) dispatch(ev chat.Event) {
	h.router.Dispatch(context.Background(), ev)
	h.router.Wait()
}

func reaction(user, message int64, key string) *chat.ReactionEvent {
	return &chat.ReactionEvent{UserID: user, ChannelID: channelID, ServerID: serverID, MessageID: message, Key: key}
}

func adminTarget() settings.Target {
	return settings.Target{Server: serverID, Channel: channelID, User: adminID, Admin: true}
}
