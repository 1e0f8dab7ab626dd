package messaging

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store Store
	Log   *zap.Logger
	Now   func() time.Time

	sanitizer *bluemonday.Policy
}

func NewService(store Store, log *zap.Logger) *Service {
	return &Service{
		Store:     store,
		Log:       log,
		Now:       time.Now,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// CreateOrGetConversation returns the conversation between a and b, creating it once.
func (s *Service) CreateOrGetConversation(ctx context.Context, a, b generic.ID) (Conversation, error) {
	if a == "" || b == "" {
		return Conversation{}, &generic.ValidationError{Field: "participants", Message: "both participants are required"}
	}
	if a == b {
		return Conversation{}, &generic.ValidationError{Field: "participants", Message: "cannot start a conversation with yourself"}
	}

	id := ConversationKey(a, b)
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	return s.Store.EnsureConversation(ctx, Conversation{
		ID:           id,
		Participants: [2]generic.ID{first, second},
		CreatedAt:    s.Now().UTC(),
	})
}

// SendMessage appends a message and bumps the receiver's unread counter.
func (s *Service) SendMessage(ctx context.Context, conversationID, sender, receiver generic.ID, text string) (Message, error) {
	clean := s.sanitize(text)
	if clean == "" {
		return Message{}, &generic.ValidationError{Field: "text", Message: "message text is required"}
	}

	conv, err := s.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	if sender == receiver || !conv.HasParticipant(sender) || !conv.HasParticipant(receiver) {
		return Message{}, &generic.ValidationError{Field: "participants", Message: "sender and receiver must be the two participants"}
	}

	msg := Message{
		ID:             generic.ID(uuid.NewString()),
		ConversationID: conversationID,
		SenderID:       sender,
		ReceiverID:     receiver,
		Text:           clean,
		CreatedAt:      s.Now().UTC(),
	}
	if err := s.Store.AppendMessage(ctx, msg); err != nil {
		return Message{}, err
	}
	s.Log.Debug("message sent",
		zap.String("conversation_id", string(conversationID)),
		zap.String("sender_id", string(sender)),
		zap.String("receiver_id", string(receiver)))
	return msg, nil
}

// MarkConversationAsRead zeroes userID's unread counter.
func (s *Service) MarkConversationAsRead(ctx context.Context, conversationID, userID generic.ID) error {
	conv, err := s.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return &generic.ForbiddenError{Role: "non-participant", Action: "read this conversation"}
	}
	return s.Store.ResetUnread(ctx, conversationID, userID)
}

// DeleteMessage soft-deletes a message. Only its sender may delete it.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID generic.ID) (Message, error) {
	msg, err := s.Store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.SenderID != userID {
		return Message{}, &generic.ForbiddenError{Role: "non-sender", Action: "delete this message"}
	}
	if msg.Deleted {
		return msg, nil
	}
	deleted := SoftDelete(msg)
	if err := s.Store.ReplaceMessage(ctx, deleted); err != nil {
		return Message{}, err
	}
	return deleted, nil
}

func (s *Service) ListConversations(ctx context.Context, userID generic.ID) ([]Conversation, error) {
	return s.Store.ListConversations(ctx, userID)
}

// ListMessages returns the messages of a conversation userID takes part in.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID generic.ID) ([]Message, error) {
	conv, err := s.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, &generic.ForbiddenError{Role: "non-participant", Action: "read this conversation"}
	}
	return s.Store.ListMessages(ctx, conversationID)
}

// UnreadTotal sums userID's unread counters across conversations.
func (s *Service) UnreadTotal(ctx context.Context, userID generic.ID) (int, error) {
	convs, err := s.Store.ListConversations(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range convs {
		total += c.UnreadFor(userID)
	}
	return total, nil
}

// BroadcastResult reports one broadcast.
type BroadcastResult struct {
	ID        string       `json:"id"`
	Sent      int          `json:"sent"`
	Receivers []generic.ID `json:"receivers"`
}

// Broadcast sends text from sender to every recipient through their pair conversation.
// The sender is skipped if listed. Role checks belong to the caller.
func (s *Service) Broadcast(ctx context.Context, sender generic.ID, recipients []generic.ID, text string) (BroadcastResult, error) {
	if s.sanitize(text) == "" {
		return BroadcastResult{}, &generic.ValidationError{Field: "text", Message: "message text is required"}
	}

	result := BroadcastResult{ID: uuid.NewString()}
	for _, r := range recipients {
		if r == sender {
			continue
		}
		conv, err := s.CreateOrGetConversation(ctx, sender, r)
		if err != nil {
			return result, err
		}
		if _, err := s.SendMessage(ctx, conv.ID, sender, r, text); err != nil {
			return result, err
		}
		result.Sent++
		result.Receivers = append(result.Receivers, r)
	}
	s.Log.Info("broadcast sent",
		zap.String("broadcast_id", result.ID),
		zap.String("sender_id", string(sender)),
		zap.Int("sent", result.Sent))
	return result, nil
}

func (s *Service) sanitize(text string) string {
	// Tags are stripped; text is stored unescaped.
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(text)))
}
