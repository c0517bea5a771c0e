// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package api

import (
	"context"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/models"
	"github.com/tomtom215/rendezvous/internal/upload"
	"github.com/tomtom215/rendezvous/internal/websocket"
)

// ChatService is the subset of chat.Service the REST layer calls.
type ChatService interface {
	RegisterUser(ctx context.Context, username string) (*models.User, bool, error)
	ListUsernames(ctx context.Context) ([]string, error)
	ResolveUser(ctx context.Context, username string) (*models.User, error)
	OpenConversation(ctx context.Context, user, peer string) (*models.Conversation, error)
	Conversation(ctx context.Context, conversationID, user string) (*models.Conversation, error)
	ResolveUnread(ctx context.Context, username string) ([]models.UnreadCount, error)
	MarkRead(ctx context.Context, conversationID, reader, sender string) (int, error)
}

// Realtime is the socket hub as seen from HTTP.
type Realtime interface {
	Attach(conn *gorillaws.Conn, userID string) (*websocket.Client, error)
	NotifyRead(ctx context.Context, conversationID, reader, sender string, count int)
	GetClientCount() int
	OnlineUsers() []string
}

// UploadSigner issues and checks upload grants.
type UploadSigner interface {
	Issue(req upload.Request) (*upload.Grant, error)
	Verify(token string) (*upload.Claims, error)
}

// HealthChecker reports whether the conversation store is taking requests.
type HealthChecker interface {
	Healthy() bool
}

// Handler holds the dependencies of every HTTP endpoint.
type Handler struct {
	chat      ChatService
	hub       Realtime
	uploads   UploadSigner
	health    HealthChecker
	origins   func(origin string) bool
	startTime time.Time
}

// NewHandler wires the endpoint dependencies. uploads and health may be nil.
func NewHandler(chat ChatService, hub Realtime, uploads UploadSigner, health HealthChecker) *Handler {
	return &Handler{
		chat:      chat,
		hub:       hub,
		uploads:   uploads,
		health:    health,
		origins:   func(string) bool { return true },
		startTime: time.Now(),
	}
}

// callerID returns the plaintext identity placed in the context by
// middleware.Identity.
func callerID(r *http.Request) (string, error) {
	id := logging.UserIDFromContext(r.Context())
	if id == "" {
		return "", errMissingIdentity
	}
	return id, nil
}
