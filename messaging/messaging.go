/*
Package messaging implements the in-app inbox: one conversation per pair of
users, messages within it, and an unread counter per participant.

CONTRACTS:
  - CreateOrGetConversation is idempotent: the conversation id is the sorted
    participant pair, so (a, b) and (b, a) resolve to the same record.
  - SendMessage appends the message and increments the receiver's unread
    counter. The increment is a single atomic store operation.
  - MarkConversationAsRead zeroes only the caller's counter.
  - DeleteMessage never removes the record: SoftDelete replaces the text and
    sets the deleted flag, so conversation history keeps its shape.

SEE ALSO:
  - store/sqlite/messaging.go: SQLite implementation of Store
*/
package messaging

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/warp/agency-crm/generic"
)

// Conversation collection names, used in NotFoundError.
const (
	Conversations generic.Collection = "conversations"
	Messages      generic.Collection = "messages"
)

// DeletedText replaces the text of a soft-deleted message.
const DeletedText = "This message was deleted"

type Conversation struct {
	ID            generic.ID         `json:"id"`
	Participants  [2]generic.ID      `json:"participants"`
	LastMessage   string             `json:"lastMessage"`
	LastMessageAt *time.Time         `json:"lastMessageAt,omitempty"`
	Unread        map[generic.ID]int `json:"unread"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID generic.ID) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// UnreadFor returns userID's unread counter.
func (c Conversation) UnreadFor(userID generic.ID) int {
	return c.Unread[userID]
}

type Message struct {
	ID             generic.ID `json:"id"`
	ConversationID generic.ID `json:"conversationId"`
	SenderID       generic.ID `json:"senderId"`
	ReceiverID     generic.ID `json:"receiverId"`
	Text           string     `json:"text"`
	Deleted        bool       `json:"deleted"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// SoftDelete is the only transition a stored message goes through.
func SoftDelete(m Message) Message {
	m.Text = DeletedText
	m.Deleted = true
	return m
}

// ConversationKey is the id of the conversation between a and b.
func ConversationKey(a, b generic.ID) generic.ID {
	pair := []string{string(a), string(b)}
	sort.Strings(pair)
	return generic.ID(strings.Join(pair, "_"))
}

// Store persists conversations and messages.
type Store interface {
	// EnsureConversation inserts c unless a conversation with its id exists,
	// and returns the stored conversation either way.
	EnsureConversation(ctx context.Context, c Conversation) (Conversation, error)

	GetConversation(ctx context.Context, id generic.ID) (Conversation, error)

	// ListConversations returns userID's conversations, most recent activity first.
	ListConversations(ctx context.Context, userID generic.ID) ([]Conversation, error)

	// AppendMessage stores m, updates the conversation preview and atomically
	// increments m.ReceiverID's unread counter.
	AppendMessage(ctx context.Context, m Message) error

	ListMessages(ctx context.Context, conversationID generic.ID) ([]Message, error)
	GetMessage(ctx context.Context, id generic.ID) (Message, error)

	// ReplaceMessage overwrites the text and deleted flag of a stored message.
	ReplaceMessage(ctx context.Context, m Message) error

	ResetUnread(ctx context.Context, conversationID, userID generic.ID) error
}
