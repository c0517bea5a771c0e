// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

// Package chat holds the conversation rules shared by the socket hub and the
// REST bootstrap endpoints: find-or-create by participant pair, message
// shaping and validation, persistence, and unread/read reconciliation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/models"
	"github.com/tomtom215/rendezvous/internal/validation"
)

// ConversationStore is the persistence contract the chat core depends on.
type ConversationStore interface {
	FindByParticipants(ctx context.Context, a, b string) (*models.Conversation, error)
	Create(ctx context.Context, a, b string) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	MatchMessage(ctx context.Context, conversationID string, msg *models.Message) (bool, error)
	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error
	MarkRead(ctx context.Context, conversationID, reader, sender string) (int, error)
	EditMessage(ctx context.Context, conversationID, messageID, editor, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID, requester string) error
	ListByParticipant(ctx context.Context, user string) ([]*models.Conversation, error)
}

// UserDirectory resolves usernames to chat identities.
type UserDirectory interface {
	Register(ctx context.Context, username string) (*models.User, bool, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsernames(ctx context.Context) ([]string, error)
}

// DefaultMaxContentChars bounds text content when the caller does not configure a limit.
const DefaultMaxContentChars = 4000

// Service implements the chat operations.
type Service struct {
	store           ConversationStore
	users           UserDirectory
	maxContentChars int
	now             func() time.Time
	newID           func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithMaxContentChars sets the maximum text length in characters.
func WithMaxContentChars(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxContentChars = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service over the given store and directory.
func NewService(store ConversationStore, users UserDirectory, opts ...Option) *Service {
	s := &Service{
		store:           store,
		users:           users,
		maxContentChars: DefaultMaxContentChars,
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type participantPair struct {
	User string `json:"userId" validate:"required,identity"`
	Peer string `json:"peerId" validate:"required,identity,nefield=User"`
}

// OpenConversation returns the conversation between user and peer, creating
// it on first contact. The pair is unordered.
func (s *Service) OpenConversation(ctx context.Context, user, peer string) (*models.Conversation, error) {
	if verr := validation.ValidateStruct(&participantPair{User: user, Peer: peer}); verr != nil {
		return nil, verr
	}

	conv, err := s.store.FindByParticipants(ctx, user, peer)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, models.ErrConversationNotFound) {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	conv, err = s.store.Create(ctx, user, peer)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	logging.Ctx(ctx).Info().Str("conversation_id", conv.ID).Msg("conversation created")
	return conv, nil
}

// Conversation returns the conversation by id, checking that user belongs to it.
func (s *Service) Conversation(ctx context.Context, conversationID, user string) (*models.Conversation, error) {
	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(user) {
		return nil, models.ErrNotParticipant
	}
	return conv, nil
}

// Draft is the client-supplied part of a message.
type Draft struct {
	ID          string             `json:"id,omitempty" validate:"omitempty,uuid"`
	Content     string             `json:"content"`
	ContentType models.ContentType `json:"content_type" validate:"required,oneof=text file image"`
	ContentLink string             `json:"content_link,omitempty" validate:"omitempty,url"`
}

// PrepareMessage validates draft and stamps it with server-side fields. The
// sender and receiver come from the conversation, never from the client. A
// client-supplied id is kept so that a retried send stays idempotent.
func (s *Service) PrepareMessage(sender string, participants [2]string, draft *Draft) (*models.Message, error) {
	if draft == nil {
		return nil, validation.NewError("message", "message is required")
	}
	if verr := validation.ValidateStruct(draft); verr != nil {
		return nil, verr
	}

	conv := models.Conversation{Participants: participants}
	receiver, ok := conv.Peer(sender)
	if !ok {
		return nil, models.ErrNotParticipant
	}

	content := strings.TrimSpace(draft.Content)
	link := strings.TrimSpace(draft.ContentLink)
	switch {
	case draft.ContentType == models.ContentText && content == "" && link == "":
		return nil, validation.NewError("content", "text message needs content or an attachment")
	case draft.ContentType.CarriesFile() && link == "":
		return nil, validation.NewError("content_link", string(draft.ContentType)+" message needs content_link")
	case len([]rune(content)) > s.maxContentChars:
		return nil, validation.NewError("content", fmt.Sprintf("content must be at most %d characters", s.maxContentChars))
	}

	id := draft.ID
	if id == "" {
		id = s.newID()
	}
	return &models.Message{
		ID:            id,
		Sender:        sender,
		Receiver:      receiver,
		Content:       content,
		ContentType:   draft.ContentType,
		ContentLink:   link,
		Timestamp:     s.now().UTC(),
		IsRead:        false,
		IsAppropriate: true,
	}, nil
}

// IsRetry reports whether msg repeats a message already stored in the
// conversation. An id that belongs to a different message fails validation.
func (s *Service) IsRetry(ctx context.Context, conversationID string, msg *models.Message) (bool, error) {
	found, err := s.store.MatchMessage(ctx, conversationID, msg)
	if errors.Is(err, models.ErrMessageConflict) {
		return false, validation.NewError("id", "message id is already in use")
	}
	if err != nil {
		return false, fmt.Errorf("check message %s: %w", msg.ID, err)
	}
	return found, nil
}

// Persist appends a prepared message to its conversation.
func (s *Service) Persist(ctx context.Context, conversationID string, msg *models.Message) error {
	if err := s.store.AppendMessage(ctx, conversationID, msg); err != nil {
		return fmt.Errorf("append message %s: %w", msg.ID, err)
	}
	return nil
}

// EditMessage changes the content of a message its sender wrote.
func (s *Service) EditMessage(ctx context.Context, conversationID, messageID, editor, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validation.NewError("content", "content is required")
	}
	if len([]rune(content)) > s.maxContentChars {
		return nil, validation.NewError("content", fmt.Sprintf("content must be at most %d characters", s.maxContentChars))
	}
	return s.store.EditMessage(ctx, conversationID, messageID, editor, content)
}

// DeleteMessage removes a message its sender wrote.
func (s *Service) DeleteMessage(ctx context.Context, conversationID, messageID, requester string) error {
	return s.store.DeleteMessage(ctx, conversationID, messageID, requester)
}

// RegisterUser adds a username to the directory.
func (s *Service) RegisterUser(ctx context.Context, username string) (*models.User, bool, error) {
	if !validation.ValidUsername(username) {
		return nil, false, validation.NewError("username", "username must be 3-32 letters, digits, '.', '_' or '-'")
	}
	return s.users.Register(ctx, username)
}

// ListUsernames returns every registered username.
func (s *Service) ListUsernames(ctx context.Context) ([]string, error) {
	return s.users.ListUsernames(ctx)
}

// ResolveUser returns the directory entry for username.
func (s *Service) ResolveUser(ctx context.Context, username string) (*models.User, error) {
	return s.users.GetByUsername(ctx, username)
}
