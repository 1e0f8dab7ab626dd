package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/agency-crm/generic"
	"github.com/warp/agency-crm/messaging"
)

var _ messaging.Store = (*Store)(nil)

// =============================================================================
// CONVERSATIONS (messaging.Store interface)
// =============================================================================

// EnsureConversation inserts the conversation and both unread counters once.
func (s *Store) EnsureConversation(ctx context.Context, c messaging.Conversation) (messaging.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inTx(ctx, func(q dbtx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO conversations (id, participant_a, participant_b, last_message, created_at)
			VALUES (?, ?, ?, '', ?)
			ON CONFLICT(id) DO NOTHING
		`, string(c.ID), string(c.Participants[0]), string(c.Participants[1]),
			formatTime(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		for _, p := range c.Participants {
			_, err := q.ExecContext(ctx, `
				INSERT INTO conversation_unread (conversation_id, user_id, unread)
				VALUES (?, ?, 0)
				ON CONFLICT(conversation_id, user_id) DO NOTHING
			`, string(c.ID), string(p))
			if err != nil {
				return fmt.Errorf("failed to insert unread counter: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return messaging.Conversation{}, err
	}
	return getConversation(ctx, s.db, c.ID)
}

// GetConversation retrieves a conversation with its unread counters.
func (s *Store) GetConversation(ctx context.Context, id generic.ID) (messaging.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getConversation(ctx, s.db, id)
}

// ListConversations returns the user's conversations, latest activity first.
func (s *Store) ListConversations(ctx context.Context, userID generic.ID) ([]messaging.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY COALESCE(last_message_at, created_at) DESC
	`, string(userID), string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	var ids []generic.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, generic.ID(id))
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	out := make([]messaging.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := getConversation(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func getConversation(ctx context.Context, q dbtx, id generic.ID) (messaging.Conversation, error) {
	var (
		c             messaging.Conversation
		a, b, created string
		lastAt        sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT participant_a, participant_b, last_message, last_message_at, created_at
		FROM conversations WHERE id = ?
	`, string(id)).Scan(&a, &b, &c.LastMessage, &lastAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return c, &generic.NotFoundError{Collection: messaging.Conversations, ID: id}
	}
	if err != nil {
		return c, fmt.Errorf("failed to get conversation: %w", err)
	}

	c.ID = id
	c.Participants = [2]generic.ID{generic.ID(a), generic.ID(b)}
	c.CreatedAt = parseTime(created)
	if lastAt.Valid {
		t := parseTime(lastAt.String)
		c.LastMessageAt = &t
	}

	rows, err := q.QueryContext(ctx,
		"SELECT user_id, unread FROM conversation_unread WHERE conversation_id = ?", string(id))
	if err != nil {
		return c, fmt.Errorf("failed to get unread counters: %w", err)
	}
	defer rows.Close()

	c.Unread = make(map[generic.ID]int, 2)
	for rows.Next() {
		var user string
		var n int
		if err := rows.Scan(&user, &n); err != nil {
			return c, err
		}
		c.Unread[generic.ID(user)] = n
	}
	return c, rows.Err()
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage inserts the message, updates the preview and bumps the
// receiver's counter in one transaction.
func (s *Store) AppendMessage(ctx context.Context, m messaging.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q dbtx) error {
		at := formatTime(m.CreatedAt)
		res, err := q.ExecContext(ctx,
			"UPDATE conversations SET last_message = ?, last_message_at = ? WHERE id = ?",
			m.Text, at, string(m.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &generic.NotFoundError{Collection: messaging.Conversations, ID: m.ConversationID}
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, receiver_id, text, deleted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(m.ID), string(m.ConversationID), string(m.SenderID), string(m.ReceiverID),
			m.Text, m.Deleted, at)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO conversation_unread (conversation_id, user_id, unread) VALUES (?, ?, 1)
			ON CONFLICT(conversation_id, user_id) DO UPDATE SET unread = unread + 1
		`, string(m.ConversationID), string(m.ReceiverID))
		if err != nil {
			return fmt.Errorf("failed to increment unread counter: %w", err)
		}
		return nil
	})
}

// ListMessages returns a conversation's messages in send order.
func (s *Store) ListMessages(ctx context.Context, conversationID generic.ID) ([]messaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, text, deleted, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY seq ASC
	`, string(conversationID))
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []messaging.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessage retrieves a single message.
func (s *Store) GetMessage(ctx context.Context, id generic.ID) (messaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, text, deleted, created_at
		FROM messages WHERE id = ?
	`, string(id))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return m, &generic.NotFoundError{Collection: messaging.Messages, ID: id}
	}
	return m, err
}

// ReplaceMessage overwrites text and deleted flag.
func (s *Store) ReplaceMessage(ctx context.Context, m messaging.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET text = ?, deleted = ? WHERE id = ?",
		m.Text, m.Deleted, string(m.ID))
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.NotFoundError{Collection: messaging.Messages, ID: m.ID}
	}
	return nil
}

// ResetUnread zeroes one participant's counter.
func (s *Store) ResetUnread(ctx context.Context, conversationID, userID generic.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE conversation_unread SET unread = 0 WHERE conversation_id = ? AND user_id = ?",
		string(conversationID), string(userID))
	if err != nil {
		return fmt.Errorf("failed to reset unread counter: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (messaging.Message, error) {
	var (
		m                               messaging.Message
		id, conv, sender, receiver, at string
	)
	if err := row.Scan(&id, &conv, &sender, &receiver, &m.Text, &m.Deleted, &at); err != nil {
		return m, err
	}
	m.ID = generic.ID(id)
	m.ConversationID = generic.ID(conv)
	m.SenderID = generic.ID(sender)
	m.ReceiverID = generic.ID(receiver)
	m.CreatedAt = parseTime(at)
	return m, nil
}
