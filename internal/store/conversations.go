// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/rendezvous/internal/models"
)

// ConversationStore keeps conversation documents in badger.
type ConversationStore struct {
	db  *badger.DB
	now func() time.Time
}

// NewConversationStore returns a store over db.
func NewConversationStore(db *badger.DB) *ConversationStore {
	return &ConversationStore{db: db, now: time.Now}
}

func convKey(id string) []byte {
	return []byte(convKeyPrefix + id)
}

func pairKey(a, b string) []byte {
	p := models.SortedPair(a, b)
	return []byte(pairKeyPrefix + p[0] + keySeparator + p[1])
}

func userConvPrefix(user string) []byte {
	return []byte(userConvKeyPrefix + user + keySeparator)
}

func loadConversation(txn *badger.Txn, id string) (*models.Conversation, error) {
	item, err := txn.Get(convKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	var conv models.Conversation
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &conv)
	}); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

func saveConversation(txn *badger.Txn, conv *models.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := txn.Set(convKey(conv.ID), data); err != nil {
		return fmt.Errorf("set conversation: %w", err)
	}
	return nil
}

func lookupPair(txn *badger.Txn, a, b string) (string, error) {
	item, err := txn.Get(pairKey(a, b))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", models.ErrConversationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get pair index: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", fmt.Errorf("read pair index: %w", err)
	}
	return string(val), nil
}

// FindByParticipants returns the conversation for the unordered pair (a, b)
// or models.ErrConversationNotFound.
func (s *ConversationStore) FindByParticipants(ctx context.Context, a, b string) (*models.Conversation, error) {
	var conv *models.Conversation
	err := view(ctx, s.db, func(txn *badger.Txn) error {
		id, err := lookupPair(txn, a, b)
		if err != nil {
			return err
		}
		conv, err = loadConversation(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Create stores a new empty conversation for (a, b). When a conversation for
// the pair already exists, that conversation is returned instead, so two
// racing creators converge on a single id.
func (s *ConversationStore) Create(ctx context.Context, a, b string) (*models.Conversation, error) {
	var conv *models.Conversation
	err := update(ctx, s.db, func(txn *badger.Txn) error {
		id, err := lookupPair(txn, a, b)
		if err == nil {
			conv, err = loadConversation(txn, id)
			return err
		}
		if !errors.Is(err, models.ErrConversationNotFound) {
			return err
		}

		now := s.now().UTC()
		conv = &models.Conversation{
			ID:           uuid.New().String(),
			Participants: models.SortedPair(a, b),
			Messages:     []models.Message{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := saveConversation(txn, conv); err != nil {
			return err
		}
		if err := txn.Set(pairKey(a, b), []byte(conv.ID)); err != nil {
			return fmt.Errorf("set pair index: %w", err)
		}
		for _, user := range conv.Participants {
			key := append(userConvPrefix(user), conv.ID...)
			if err := txn.Set(key, nil); err != nil {
				return fmt.Errorf("set membership index: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Get returns the conversation with the given id.
func (s *ConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var conv *models.Conversation
	err := view(ctx, s.db, func(txn *badger.Txn) error {
		var err error
		conv, err = loadConversation(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// mutate loads, modifies and saves one conversation inside a retried transaction.
func (s *ConversationStore) mutate(ctx context.Context, id string, fn func(conv *models.Conversation) error) error {
	return update(ctx, s.db, func(txn *badger.Txn) error {
		conv, err := loadConversation(txn, id)
		if err != nil {
			return err
		}
		if err := fn(conv); err != nil {
			return err
		}
		return saveConversation(txn, conv)
	})
}

// errNoChange aborts a mutation without writing.
var errNoChange = errors.New("no change")

func messageKey(id string) []byte {
	return []byte(msgKeyPrefix + id)
}

// matchMessage reports whether msg is already stored in conv with the same
// payload. An id held by a different message, here or in another
// conversation, is ErrMessageConflict. Ids of deleted messages stay taken.
func matchMessage(txn *badger.Txn, conv *models.Conversation, msg *models.Message) (bool, error) {
	if idx := conv.MessageIndex(msg.ID); idx >= 0 {
		if conv.Messages[idx].SamePayload(msg) {
			return true, nil
		}
		return false, models.ErrMessageConflict
	}
	_, err := txn.Get(messageKey(msg.ID))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("get message index: %w", err)
	default:
		return false, models.ErrMessageConflict
	}
}

// MatchMessage checks msg against the stored history without writing. It
// returns true for an exact retry of a stored message, false for an unused
// id, and ErrMessageConflict when the id belongs to another message.
func (s *ConversationStore) MatchMessage(ctx context.Context, conversationID string, msg *models.Message) (bool, error) {
	var found bool
	err := view(ctx, s.db, func(txn *badger.Txn) error {
		conv, err := loadConversation(txn, conversationID)
		if err != nil {
			return err
		}
		found, err = matchMessage(txn, conv, msg)
		return err
	})
	return found, err
}

// AppendMessage appends msg to the conversation and claims its id. Appending
// an exact retry of a stored message is a no-op; reusing an id for different
// content is ErrMessageConflict.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	err := update(ctx, s.db, func(txn *badger.Txn) error {
		conv, err := loadConversation(txn, conversationID)
		if err != nil {
			return err
		}
		found, err := matchMessage(txn, conv, msg)
		if err != nil {
			return err
		}
		if found {
			return errNoChange
		}
		if err := txn.Set(messageKey(msg.ID), []byte(conversationID)); err != nil {
			return fmt.Errorf("set message index: %w", err)
		}
		conv.Messages = append(conv.Messages, *msg)
		conv.UpdatedAt = msg.Timestamp
		return saveConversation(txn, conv)
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// MarkRead flags every unread message from sender to reader as read and
// returns how many changed. Repeated calls return 0.
func (s *ConversationStore) MarkRead(ctx context.Context, conversationID, reader, sender string) (int, error) {
	changed := 0
	err := s.mutate(ctx, conversationID, func(conv *models.Conversation) error {
		changed = 0
		for i := range conv.Messages {
			m := &conv.Messages[i]
			if m.Sender == sender && m.Receiver == reader && !m.IsRead {
				m.IsRead = true
				changed++
			}
		}
		if changed == 0 {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// EditMessage replaces the content of a message. Only its sender may edit it.
func (s *ConversationStore) EditMessage(ctx context.Context, conversationID, messageID, editor, content string) (*models.Message, error) {
	var edited models.Message
	err := s.mutate(ctx, conversationID, func(conv *models.Conversation) error {
		idx := conv.MessageIndex(messageID)
		if idx < 0 {
			return models.ErrMessageNotFound
		}
		m := &conv.Messages[idx]
		if m.Sender != editor {
			return models.ErrNotMessageSender
		}
		now := s.now().UTC()
		m.Content = content
		m.EditedAt = &now
		conv.UpdatedAt = now
		edited = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &edited, nil
}

// DeleteMessage removes a message from the sequence. Only its sender may delete it.
func (s *ConversationStore) DeleteMessage(ctx context.Context, conversationID, messageID, requester string) error {
	return s.mutate(ctx, conversationID, func(conv *models.Conversation) error {
		idx := conv.MessageIndex(messageID)
		if idx < 0 {
			return models.ErrMessageNotFound
		}
		if conv.Messages[idx].Sender != requester {
			return models.ErrNotMessageSender
		}
		conv.Messages = append(conv.Messages[:idx], conv.Messages[idx+1:]...)
		conv.UpdatedAt = s.now().UTC()
		return nil
	})
}

// ListByParticipant returns every conversation user belongs to.
func (s *ConversationStore) ListByParticipant(ctx context.Context, user string) ([]*models.Conversation, error) {
	var convs []*models.Conversation
	err := view(ctx, s.db, func(txn *badger.Txn) error {
		prefix := userConvPrefix(user)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		for _, id := range ids {
			conv, err := loadConversation(txn, id)
			if err != nil {
				return err
			}
			convs = append(convs, conv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convs, nil
}
