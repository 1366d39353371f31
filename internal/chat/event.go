// ABOUTME: Named gateway events delivered to fragment listeners
// ABOUTME: Payload is either a Message or a ReactionEvent depending on Name

package chat

// Event names delivered by the gateway.
const (
	EventMessage        = "message"
	EventReactionAdd    = "reaction_add"
	EventReactionRemove = "reaction_remove"
)

// ReactionEvent is the payload of reaction_add and reaction_remove.
type ReactionEvent struct {
	UserID    int64
	ChannelID int64
	ServerID  int64
	MessageID int64
	Key       string
}

// Event is one gateway delivery. Exactly one of Message and Reaction is set.
type Event struct {
	Name     string
	Message  *Message
	Reaction *ReactionEvent
}

// MessageEvent wraps a message as an event.
func MessageEvent(msg *Message) Event {
	return Event{Name: EventMessage, Message: msg}
}

// ReactionAdded wraps a reaction as a reaction_add event.
func ReactionAdded(r *ReactionEvent) Event {
	return Event{Name: EventReactionAdd, Reaction: r}
}

// ReactionRemoved wraps a reaction as a reaction_remove event.
func ReactionRemoved(r *ReactionEvent) Event {
	return Event{Name: EventReactionRemove, Reaction: r}
}
