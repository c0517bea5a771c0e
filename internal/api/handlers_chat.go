// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/rendezvous/internal/models"
	"github.com/tomtom215/rendezvous/internal/validation"
)

// RegisterUserRequest is the body of POST /users.
type RegisterUserRequest struct {
	Username string `json:"username" validate:"required,username"`
}

// ConversationResponse identifies a conversation and its participants.
type ConversationResponse struct {
	ConversationID string           `json:"conversation_id"`
	Participants   [2]string        `json:"participants"`
	Messages       []models.Message `json:"messages,omitempty"`
}

// MarkReadRequest is the body of POST /read. UserID defaults to the caller.
type MarkReadRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId,omitempty" validate:"omitempty,identity"`
	SenderID       string `json:"senderId" validate:"required,identity"`
}

// MarkReadResponse reports how many messages changed state.
type MarkReadResponse struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

// RegisterUser adds a username to the directory. It is idempotent: a known
// username returns 200 with the existing entry.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req RegisterUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(rw, err)
		return
	}

	user, created, err := h.chat.RegisterUser(r.Context(), req.Username)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	if created {
		rw.Created(user)
		return
	}
	rw.Success(user)
}

// ListUsers returns every registered username.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	names, err := h.chat.ListUsernames(r.Context())
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.SuccessList(names, len(names))
}

// GetOrCreateConversation resolves two usernames and returns the id of
// their conversation, creating it on first contact.
func (h *Handler) GetOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()
	userName, peerName := strings.TrimSpace(q.Get("user")), strings.TrimSpace(q.Get("peer"))
	if userName == "" || peerName == "" {
		rw.ValidationError("user and peer query parameters are required", nil)
		return
	}

	user, err := h.chat.ResolveUser(r.Context(), userName)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	peer, err := h.chat.ResolveUser(r.Context(), peerName)
	if err != nil {
		writeServiceError(rw, err)
		return
	}

	conv, err := h.chat.OpenConversation(r.Context(), user.ID, peer.ID)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(ConversationResponse{ConversationID: conv.ID, Participants: conv.Participants})
}

// ConversationMessages returns the history of a conversation the caller
// belongs to. An optional limit keeps only the most recent messages.
func (h *Handler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	caller, err := callerID(r)
	if err != nil {
		writeServiceError(rw, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			rw.ValidationError("limit must be a positive integer", map[string]interface{}{"field": "limit"})
			return
		}
	}

	conv, err := h.chat.Conversation(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		writeServiceError(rw, err)
		return
	}

	messages := conv.Messages
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []models.Message{}
	}
	rw.SuccessList(ConversationResponse{
		ConversationID: conv.ID,
		Participants:   conv.Participants,
		Messages:       messages,
	}, len(messages))
}

// UnreadCounts returns per-sender unread counts for a username.
func (h *Handler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	counts, err := h.chat.ResolveUnread(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.SuccessList(counts, len(counts))
}

// MarkRead flags a sender's messages in a conversation as read and tells
// live sockets about it.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req MarkReadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(rw, err)
		return
	}
	reader := req.UserID
	if reader == "" {
		var err error
		if reader, err = callerID(r); err != nil {
			writeServiceError(rw, err)
			return
		}
	}

	conv, err := h.chat.Conversation(r.Context(), req.ConversationID, reader)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	if peer, _ := conv.Peer(reader); peer != req.SenderID {
		writeServiceError(rw, validation.NewError("senderId", "senderId must be the other participant"))
		return
	}

	n, err := h.chat.MarkRead(r.Context(), conv.ID, reader, req.SenderID)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	if h.hub != nil {
		h.hub.NotifyRead(r.Context(), conv.ID, reader, req.SenderID, n)
	}
	rw.Success(MarkReadResponse{ConversationID: conv.ID, Count: n})
}
