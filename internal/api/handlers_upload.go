// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/models"
	"github.com/tomtom215/rendezvous/internal/upload"
)

// UploadTokenInfo is what the blob gateway learns from a valid token.
type UploadTokenInfo struct {
	UserID         string             `json:"user_id"`
	ObjectKey      string             `json:"object_key"`
	ContentType    models.ContentType `json:"content_type"`
	ConversationID string             `json:"conversation_id,omitempty"`
	MaxSize        int64              `json:"max_size"`
	ExpiresAt      time.Time          `json:"expires_at"`
}

// CreateUpload issues an upload grant. When a conversation is named, the
// requester must belong to it.
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.uploads == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "uploads are not configured")
		return
	}

	// The body may name the user; otherwise the handshake identity applies.
	req := upload.Request{UserID: logging.UserIDFromContext(r.Context())}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(rw, err)
		return
	}

	if req.ConversationID != "" {
		if _, err := h.chat.Conversation(r.Context(), req.ConversationID, req.UserID); err != nil {
			writeServiceError(rw, err)
			return
		}
	}

	grant, err := h.uploads.Issue(req)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Created(grant)
}

// VerifyUpload validates an upload token for the blob gateway.
func (h *Handler) VerifyUpload(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.uploads == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "uploads are not configured")
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		rw.ValidationError("token query parameter is required", map[string]interface{}{"field": "token"})
		return
	}

	claims, err := h.uploads.Verify(token)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	info := UploadTokenInfo{
		UserID:         claims.Subject,
		ObjectKey:      claims.ObjectKey,
		ContentType:    claims.ContentType,
		ConversationID: claims.ConversationID,
		MaxSize:        claims.MaxSize,
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	rw.Success(info)
}
