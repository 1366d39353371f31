// ABOUTME: Platform-neutral chat entities and the interfaces fragments consume
// ABOUTME: The Matrix adapter implements these; tests substitute fakes

package chat

import (
	"context"
	"time"
)

// NoID marks an absent numeric id, matching the settings wildcard.
const NoID int64 = -1

// User is a chat participant.
type User struct {
	ID          int64
	Name        string
	DisplayName string
	Bot         bool
}

// Mention returns the name used when rendering the user in a reply.
func (u *User) Mention() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

// Channel is a room messages are posted in. ServerID groups channels that
// share settings; a channel with no server uses its own id.
type Channel struct {
	ID       int64
	ServerID int64
	Name     string
}

// Reaction is the aggregated count of one emoji on a message.
type Reaction struct {
	Key   string
	Count int
	Me    bool
}

// Message is a posted chat message.
type Message struct {
	ID          int64
	ChannelID   int64
	ServerID    int64
	Author      User
	Content     string
	Attachments []string
	Reactions   []Reaction
	CreatedAt   time.Time
}

// ReactionCount returns how many times key was used on the message.
func (m *Message) ReactionCount(key string) int {
	for _, r := range m.Reactions {
		if r.Key == key {
			return r.Count
		}
	}
	return 0
}

// Source looks up entities. Cached* consult only local state and report
// whether the entity was present; Fetch* go to the homeserver.
type Source interface {
	CachedUser(id int64) (*User, bool)
	FetchUser(ctx context.Context, id int64) (*User, error)
	CachedChannel(id int64) (*Channel, bool)
	FetchChannel(ctx context.Context, id int64) (*Channel, error)
	CachedMessage(channelID, id int64) (*Message, bool)
	FetchMessage(ctx context.Context, channelID, id int64) (*Message, error)
}

// Sender posts outbound messages and reactions.
type Sender interface {
	// SendMarkdown posts text rendered as Markdown and returns the new message id.
	SendMarkdown(ctx context.Context, channelID int64, text string) (int64, error)
	React(ctx context.Context, channelID, messageID int64, key string) error
}

// Authorizer answers whether a user may administer a server.
type Authorizer interface {
	IsOwner(userID int64) bool
	IsAdmin(ctx context.Context, serverID, channelID, userID int64) (bool, error)
}

// StatusSetter updates the bot's visible status line.
type StatusSetter interface {
	SetStatus(ctx context.Context, status string) error
}

// Self identifies the bot's own account.
type Self interface {
	SelfID() int64
}

// Directory resolves user-typed references (platform ids or numbers).
type Directory interface {
	UserRef(ctx context.Context, ref string) (int64, error)
	ChannelRef(ctx context.Context, ref string) (int64, error)
}

// Archiver deletes messages and exports channel history.
type Archiver interface {
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
	// History calls fn for every message in the channel, oldest first,
	// stopping at the first error.
	History(ctx context.Context, channelID int64, fn func(*Message) error) error
	// SendFile uploads data and posts it to the channel with a caption.
	SendFile(ctx context.Context, channelID int64, file File) error
}

// File is an attachment posted by SendFile.
type File struct {
	Name     string
	MimeType string
	Data     []byte
	Caption  string
}

// Gateway is everything the bot needs from a connected chat platform.
type Gateway interface {
	Source
	Sender
	Authorizer
	StatusSetter
	Self
	Directory
	Archiver
}
