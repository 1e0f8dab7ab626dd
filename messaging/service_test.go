package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/agency-crm/generic"
	"github.com/warp/agency-crm/messaging"
	"github.com/warp/agency-crm/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) *messaging.Service {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := messaging.NewService(store, zap.NewNop())
	clock := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func TestConversationKey_Sorted(t *testing.T) {
	assert.Equal(t, generic.ID("alice_bob"), messaging.ConversationKey("bob", "alice"))
	assert.Equal(t, messaging.ConversationKey("x", "y"), messaging.ConversationKey("y", "x"))
}

func TestCreateOrGetConversation_Idempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateOrGetConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	second, err := svc.CreateOrGetConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, [2]generic.ID{"alice", "bob"}, second.Participants)
	assert.Equal(t, 0, second.UnreadFor("alice"))

	convs, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestCreateOrGetConversation_WithSelf_Rejected(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateOrGetConversation(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestSendMessage_UnreadCounting(t *testing.T) {
	// GIVEN: A conversation between alice and bob
	// WHEN: alice sends bob two messages, then bob reads the conversation
	// THEN: bob's counter goes 0 -> 2 -> 0, alice's stays 0

	svc := newTestService(t)
	ctx := context.Background()
	conv, err := svc.CreateOrGetConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "alice", "bob", "Hello there")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, conv.ID, "alice", "bob", "  Are you free at noon?  ")
	require.NoError(t, err)

	total, err := svc.UnreadTotal(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	total, err = svc.UnreadTotal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	convs, err := svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Are you free at noon?", convs[0].LastMessage)
	assert.NotNil(t, convs[0].LastMessageAt)

	require.NoError(t, svc.MarkConversationAsRead(ctx, conv.ID, "bob"))
	total, err = svc.UnreadTotal(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	msgs, err := svc.ListMessages(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello there", msgs[0].Text)
}

func TestSendMessage_SanitizesMarkup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	conv, err := svc.CreateOrGetConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, conv.ID, "alice", "bob", "<b>Renewal</b> due<script>alert(1)</script>")
	require.NoError(t, err)
	assert.Equal(t, "Renewal due", msg.Text)

	plain := `Tom & Jerry's "quote" is 5 < 6`
	msg, err = svc.SendMessage(ctx, conv.ID, "alice", "bob", plain)
	require.NoError(t, err)
	assert.Equal(t, plain, msg.Text)
	msgs, err := svc.ListMessages(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, plain, msgs[1].Text)

	_, err = svc.SendMessage(ctx, conv.ID, "alice", "bob", "<i></i>   ")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestSendMessage_NonParticipant_Rejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	conv, err := svc.CreateOrGetConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "mallory", "bob", "hi")
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = svc.SendMessage(ctx, "ghost_conv", "alice", "bob", "hi")
	assert.True(t, generic.IsNotFound(err))

	_, err = svc.ListMessages(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestDeleteMessage_SoftDeleteBySenderOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	conv, err := svc.CreateOrGetConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, conv.ID, "alice", "bob", "oops")
	require.NoError(t, err)

	_, err = svc.DeleteMessage(ctx, msg.ID, "bob")
	require.ErrorIs(t, err, generic.ErrForbidden)

	deleted, err := svc.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Equal(t, messaging.DeletedText, deleted.Text)

	again, err := svc.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, deleted.Text, again.Text)

	msgs, err := svc.ListMessages(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
}

func TestSoftDelete(t *testing.T) {
	m := messaging.SoftDelete(messaging.Message{ID: "m1", Text: "secret"})
	assert.Equal(t, generic.ID("m1"), m.ID)
	assert.Equal(t, messaging.DeletedText, m.Text)
	assert.True(t, m.Deleted)
}

// =============================================================================
// BROADCAST
// =============================================================================

func TestBroadcast_SkipsSender(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Broadcast(ctx, "mgr", []generic.ID{"a1", "mgr", "a2"}, "Team meeting at 3pm")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, []generic.ID{"a1", "a2"}, res.Receivers)

	for _, id := range []generic.ID{"a1", "a2"} {
		total, err := svc.UnreadTotal(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	}

	convs, err := svc.ListConversations(ctx, "mgr")
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestBroadcast_EmptyText_Rejected(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Broadcast(context.Background(), "mgr", []generic.ID{"a1"}, "   ")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
