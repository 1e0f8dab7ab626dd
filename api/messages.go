package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/agency-crm/crm"
	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ListConversations returns the caller's conversations, most recent first.
// GET /api/messages/conversations
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Messages.ListConversations(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// StartConversation opens (or reopens) the conversation with another user.
// POST /api/messages/conversations
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.CRM.GetUser(r.Context(), req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	conv, err := h.Messages.CreateOrGetConversation(r.Context(), currentUser(r).ID, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListMessages returns one conversation's messages, oldest first.
// GET /api/messages/conversations/{id}
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Messages.ListMessages(r.Context(), idParam(r, "id"), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage posts to the other participant and leaves them a notification.
// POST /api/messages/conversations/{id}
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := currentUser(r)

	conv, err := h.Messages.Store.GetConversation(r.Context(), idParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !conv.HasParticipant(user.ID) {
		h.writeError(w, r, &generic.ForbiddenError{Role: "non-participant", Action: "post to this conversation"})
		return
	}
	receiver := conv.Participants[0]
	if receiver == user.ID {
		receiver = conv.Participants[1]
	}

	msg, err := h.Messages.SendMessage(r.Context(), conv.ID, user.ID, receiver, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.notifyBestEffort(r.Context(), receiver, crm.NotifyNewMessage,
		fmt.Sprintf("New message from %s", user.Name), "/messages")
	writeJSON(w, http.StatusCreated, msg)
}

// MarkConversationRead zeroes the caller's unread counter.
// POST /api/messages/conversations/{id}/read
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.Messages.MarkConversationAsRead(r.Context(), idParam(r, "id"), currentUser(r).ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessage soft-deletes one of the caller's messages.
// DELETE /api/messages/{id}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Messages.DeleteMessage(r.Context(), idParam(r, "id"), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// UnreadMessages answers the caller's unread total.
// GET /api/messages/unread
func (h *Handler) UnreadMessages(w http.ResponseWriter, r *http.Request) {
	n, err := h.Messages.UnreadTotal(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// =============================================================================
// BROADCAST
// =============================================================================

// Broadcast messages every listed user, or everyone else when none are listed.
// POST /api/broadcast
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := currentUser(r)

	recipients := req.Recipients
	if len(recipients) == 0 {
		users, err := h.CRM.ListUsers(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		for _, u := range users {
			recipients = append(recipients, u.ID)
		}
	}

	result, err := h.Messages.Broadcast(r.Context(), user.ID, recipients, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for _, receiver := range result.Receivers {
		h.notifyBestEffort(r.Context(), receiver, crm.NotifyBroadcast,
			fmt.Sprintf("Announcement from %s", user.Name), "/messages")
	}
	writeJSON(w, http.StatusOK, result)
}

// notifyBestEffort records a notification; the message itself already went
// through, so a failure here is only logged.
func (h *Handler) notifyBestEffort(ctx context.Context, userID generic.ID, kind crm.NotificationType, text, link string) {
	if _, err := h.CRM.Notify(ctx, userID, kind, text, link); err != nil {
		h.Log.Warn("notification not recorded",
			zap.String("user_id", string(userID)),
			zap.String("type", string(kind)),
			zap.Error(err))
	}
}
