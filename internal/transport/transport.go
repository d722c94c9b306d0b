package transport

import "context"

// Client is the messaging transport the daemon talks to. Live updates are
// delivered on the event bus by the adapter; history fetch and status
// delivery go through this interface so the coordinator and notifier can be
// tested against fakes.
type Client interface {
	// FetchHistory returns up to limit messages of the chat with ids
	// strictly below beforeID, newest first. beforeID <= 0 means "newest".
	FetchHistory(ctx context.Context, chatID int64, beforeID int64, limit int) ([]Message, error)

	// SendStatus delivers a status/progress text to the given chat.
	SendStatus(ctx context.Context, chatID int64, text string) error

	// ChatName resolves the display name of a chat the transport knows
	// about. Returns ErrChatUnavailable if the chat cannot be reached.
	ChatName(ctx context.Context, chatID int64) (string, error)
}

// Message is a normalized transport message.
type Message struct {
	ChatID    int64
	MessageID int64
	SenderID  int64
	Timestamp int64 // unix milliseconds
	Text      string
	Filename  string
	HasFile   bool
}

// EventKind discriminates live update events.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventEdited  EventKind = "edited"
	EventDeleted EventKind = "deleted"
)

// Event is one live update from the transport stream. Deleted events carry
// only ChatID and MessageID; a deleted event with ChatID == 0 is malformed
// and must be dropped by the consumer.
type Event struct {
	Kind    EventKind
	Message Message
}
