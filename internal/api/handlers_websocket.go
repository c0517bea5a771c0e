// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package api

import (
	"errors"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/validation"
	"github.com/tomtom215/rendezvous/internal/websocket"
)

type handshake struct {
	UserID string `json:"userid" validate:"required,identity"`
}

func (h *Handler) upgrader() gorillaws.Upgrader {
	return gorillaws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
}

// checkOrigin admits native clients, which send no Origin, and browsers
// whose origin passes the CORS policy.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.origins(origin) {
		return true
	}
	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// WebSocket upgrades the connection and hands it to the hub under the
// handshake identity.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.hub == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "WebSocket service unavailable")
		return
	}

	hs := handshake{UserID: logging.UserIDFromContext(r.Context())}
	if verr := validation.ValidateStruct(&hs); verr != nil {
		writeServiceError(rw, verr)
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client, err := h.hub.Attach(conn, hs.UserID)
	if err != nil {
		reason := "server error"
		if errors.Is(err, websocket.ErrHubStopped) {
			reason = "server shutting down"
		}
		_ = conn.WriteControl(gorillaws.CloseMessage,
			gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, reason),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	logging.Ctx(r.Context()).Debug().Uint64("conn_id", client.ID()).Msg("socket attached")
}
