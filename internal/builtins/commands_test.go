package builtins

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-familiar/internal/chat"
	"github.com/2389/coven-familiar/internal/store"
)

func newLoadedHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	frags, err := Load(context.Background(), h.deps, Options{ActivityInterval: time.Hour})
	require.NoError(t, err)
	h.attach(t, frags...)
	return h
}

func TestSettings_ListAndShow(t *testing.T) {
	h := newLoadedHarness(t)

	h.say(adminID, "!settings")
	h.say(adminID, "!settings here pin_threshold")
	h.say(adminID, "!settings here nope")

	texts := h.gateway.texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "**Available settings** (3)")
	assert.Contains(t, texts[0], "- `enable_karma`: Enable voting on messages")
	assert.Equal(t, "**pin_threshold**\n```\ndefault: 3\n```", texts[1])
	assert.Equal(t, "```fix\n`nope` is not a valid name\n```", texts[2])
}

func TestSettings_Set(t *testing.T) {
	h := newLoadedHarness(t)

	h.say(adminID, "!settings set pin_threshold/channel 5")
	assert.Equal(t, []string{"✅"}, h.gateway.reactionKeys())

	s, ok := h.deps.Settings.Lookup("pin_threshold")
	require.True(t, ok)
	shown, err := s.Show(context.Background(), adminTarget())
	require.NoError(t, err)
	assert.Equal(t, "#general: 5\ndefault: 3", shown)

	h.say(adminID, "!settings set pin_threshold 5")
	h.say(adminID, "!settings set pin_threshold/server many")
	texts := h.gateway.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "❎ must specify one of channel/channel=<id>/server", texts[0])
	assert.Equal(t, `❎ "many" is not a whole number`, texts[1])
}

func TestSettings_Log(t *testing.T) {
	h := newLoadedHarness(t)

	h.say(adminID, "!settings log")
	h.say(adminID, "!settings set pin_threshold/server 4")
	h.say(adminID, "!settings set pin_channel/channel 20")
	h.say(adminID, "!settings set pin_channel/server nope")
	h.say(adminID, "!settings log")

	texts := h.gateway.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "No settings changes recorded.", texts[0])

	log := texts[2]
	assert.Contains(t, log, "Admin set `pin_channel/channel` to `20`")
	assert.Contains(t, log, "Admin set `pin_threshold/server` to `4`")
	assert.NotContains(t, log, "nope", "failed changes are not recorded")
	assert.Less(t, strings.Index(log, "pin_channel"), strings.Index(log, "pin_threshold"), "newest first")
}

func TestSettings_SetRollsBackWhenAuditFails(t *testing.T) {
	h := newLoadedHarness(t)
	ctx := context.Background()

	_, err := h.deps.Store.Exec(ctx, `DROP TABLE settings_audit`)
	require.NoError(t, err)

	h.say(adminID, "!settings set pin_threshold/channel 5")

	assert.Empty(t, h.gateway.reactionKeys())
	texts := h.gateway.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "500 Internal Server Error")

	s, ok := h.deps.Settings.Lookup("pin_threshold")
	require.True(t, ok)
	shown, err := s.Show(ctx, adminTarget())
	require.NoError(t, err)
	assert.Equal(t, "default: 3", shown)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 10, normalizeAuditLimit(0))
	assert.Equal(t, 10, normalizeAuditLimit(-3))
	assert.Equal(t, 7, normalizeAuditLimit(7))
	assert.Equal(t, 50, normalizeAuditLimit(500))
}

func TestSettings_RequiresAdmin(t *testing.T) {
	h := newLoadedHarness(t)

	h.say(aliceID, "!settings set pin_threshold/server 1")
	texts := h.gateway.texts()
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "```fix\n"), texts[0])
	assert.Empty(t, h.gateway.reactionKeys())

	h.say(ownerID, "!settings set pin_threshold/server 1")
	assert.Equal(t, []string{"✅"}, h.gateway.reactionKeys())
}

func TestHelp_HidesUnrunnableCommands(t *testing.T) {
	h := newLoadedHarness(t)

	h.say(aliceID, "!help")
	h.say(adminID, "!help")
	texts := h.gateway.texts()
	require.Len(t, texts, 2)

	assert.Contains(t, texts[0], "`!karma`: Show how much karma")
	assert.NotContains(t, texts[0], "`!settings`")
	assert.NotContains(t, texts[0], "`!tdump`", "hidden commands are never listed")

	assert.Contains(t, texts[1], "`!settings`")
	assert.NotContains(t, texts[1], "`!tdump`")
}

func TestHelp_SingleCommand(t *testing.T) {
	h := newLoadedHarness(t)

	h.say(aliceID, "!help course")
	h.say(aliceID, "!help frobnicate")
	texts := h.gateway.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Usage: `!course <code> [code...]`")
	assert.Equal(t, "```fix\ncommand not found\n```", texts[1])
}

func TestLinker_Course(t *testing.T) {
	h := newHarness(t)
	h.attach(t, Linker(""))

	h.say(aliceID, "!course comp1511 Math1131")
	h.say(aliceID, "!course")
	texts := h.gateway.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "📑 "+DefaultCoursePrefix+"COMP1511\n"+DefaultCoursePrefix+"MATH1131", texts[0])
	assert.Equal(t, "```fix\nusage: !course <code> [code...]\n```", texts[1])
}

func TestAdmin_OwnerCommands(t *testing.T) {
	h := newLoadedHarness(t)

	h.say(aliceID, "!tables")
	h.say(ownerID, "!tables")
	h.say(ownerID, "!tdump pins")
	h.say(ownerID, "!tdump nope")

	texts := h.gateway.texts()
	require.Len(t, texts, 4)
	assert.True(t, strings.HasPrefix(texts[0], "```fix\n"), "non-owners are refused")
	assert.Equal(t, "```\nkarma\npins\nsettings\nsettings_audit\n```", texts[1])
	assert.True(t, strings.HasPrefix(texts[2], "```\nmessage\tchannel\tserver\tboard\tboard_message\tpinned_at\n"), texts[2])
	assert.Equal(t, "```fix\nno table named nope\n```", texts[3])
}

func TestAdmin_WhoisHelloIDs(t *testing.T) {
	h := newLoadedHarness(t)

	h.say(aliceID, "!whois @bob:x")
	h.say(aliceID, "!whois 12345")
	h.say(aliceID, "!hello")
	h.say(aliceID, "!ids")

	texts := h.gateway.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "4 = Bob", texts[0])
	assert.Equal(t, "12345 = nobody", texts[1])
	assert.Equal(t, "channel `10`, server `50`, you `3`", texts[2])
	assert.Equal(t, []string{"✅"}, h.gateway.reactionKeys())
}

func TestDumpChunks(t *testing.T) {
	dump := &store.Dump{Columns: []string{"k", "v"}}
	for i := 0; i < 200; i++ {
		dump.Rows = append(dump.Rows, []string{strings.Repeat("x", 20), "y"})
	}
	chunks := dumpChunks(dump, 500)
	require.Greater(t, len(chunks), 1)

	rows := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 500)
		assert.True(t, strings.HasPrefix(c, "```\n"))
		assert.True(t, strings.HasSuffix(c, "\n```"))
		rows += strings.Count(c, "\n") - 1
	}
	assert.Equal(t, 201, rows)
}

func TestDumpChunks_KeepsRunesWhole(t *testing.T) {
	dump := &store.Dump{Columns: []string{"v"}, Rows: [][]string{{strings.Repeat("é", 400)}}}
	chunks := dumpChunks(dump, 101)
	require.Len(t, chunks, 1)
	assert.True(t, utf8.ValidString(chunks[0]))
	assert.LessOrEqual(t, len(chunks[0]), 101)
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "ab", truncateUTF8("ab", 5))
	assert.Equal(t, "a", truncateUTF8("aé", 2))
	assert.Equal(t, "aé", truncateUTF8("aéz", 3))
	assert.Equal(t, "", truncateUTF8("€", 2))
}

func TestAdmin_Delete(t *testing.T) {
	h := newLoadedHarness(t)
	h.gateway.addMessage(&chat.Message{ID: 301, ChannelID: channelID, ServerID: serverID})
	h.gateway.addMessage(&chat.Message{ID: 302, ChannelID: channelID, ServerID: serverID})
	h.gateway.addMessage(&chat.Message{ID: 303, ChannelID: boardID, ServerID: serverID})

	h.say(aliceID, "!delete 301")
	h.say(ownerID, "!delete 301 302")
	h.say(ownerID, "!delete 303")
	h.say(ownerID, "!delete abc")

	texts := h.gateway.texts()
	require.Len(t, texts, 3)
	assert.True(t, strings.HasPrefix(texts[0], "```fix\n"), "non-owners are refused")
	assert.Equal(t, "```fix\nno message 303 in this channel\n```", texts[1])
	assert.Equal(t, "```fix\nusage: !delete <message id...>\n```", texts[2])
	assert.Equal(t, []int64{301, 302}, h.gateway.deleted)
	assert.Equal(t, []string{"✅"}, h.gateway.reactionKeys())
}

func TestAdmin_Chatlog(t *testing.T) {
	h := newLoadedHarness(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	alice := *h.gateway.users[aliceID]
	bob := *h.gateway.users[bobID]
	h.gateway.addMessage(&chat.Message{ID: 402, ChannelID: channelID, Author: bob, Content: "yo", CreatedAt: at.Add(time.Minute),
		Attachments: []string{"mxc://x/1", "mxc://x/2"}})
	h.gateway.addMessage(&chat.Message{ID: 401, ChannelID: channelID, Author: alice, Content: "hi", CreatedAt: at})
	h.gateway.addMessage(&chat.Message{ID: 403, ChannelID: boardID, Author: alice, Content: "elsewhere", CreatedAt: at})

	h.say(aliceID, "!chatlog")
	h.say(ownerID, "!chatlog")

	require.Len(t, h.gateway.texts(), 1, "only the refusal is sent as text")
	require.Len(t, h.gateway.files, 1)
	file := h.gateway.files[0]
	assert.Equal(t, "general.gz", file.Name)
	assert.Equal(t, "application/gzip", file.MimeType)
	assert.True(t, strings.HasPrefix(file.Caption, "Owner 4 characters across 2 messages."), file.Caption)

	zr, err := gzip.NewReader(bytes.NewReader(file.Data))
	require.NoError(t, err)
	log, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t,
		"[24-03-01 12:00:00] @alice:x: hi\n"+
			"[24-03-01 12:01:00] @bob:x: yo [attached: mxc://x/1, mxc://x/2]\n",
		string(log))
}

func TestAdmin_ChatlogOtherChannel(t *testing.T) {
	h := newLoadedHarness(t)
	h.gateway.channels[serverID] = &chat.Channel{ID: serverID, ServerID: serverID, Name: "unsw"}
	h.gateway.addMessage(&chat.Message{ID: 403, ChannelID: boardID, Author: *h.gateway.users[aliceID], Content: "star"})

	h.say(ownerID, "!chatlog 20")
	h.say(ownerID, "!chatlog nowhere")

	require.Len(t, h.gateway.files, 1)
	assert.Equal(t, "unsw--starboard.gz", h.gateway.files[0].Name)
	assert.Contains(t, h.gateway.files[0].Caption, "across 1 messages")
	assert.Equal(t, []string{"```fix\nunknown channel nowhere\n```"}, h.gateway.texts())
}

func TestActivity_RotatesStatus(t *testing.T) {
	h := newHarness(t)
	h.attach(t, Activity(h.deps, []string{"only"}, 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx, nil) }()

	assert.Eventually(t, func() bool {
		h.gateway.mu.Lock()
		defer h.gateway.mu.Unlock()
		return len(h.gateway.statuses) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("router did not stop")
	}
	h.gateway.mu.Lock()
	defer h.gateway.mu.Unlock()
	for _, s := range h.gateway.statuses {
		assert.Equal(t, "only", s)
	}
}
