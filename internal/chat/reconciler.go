// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package chat

import (
	"context"
	"fmt"
	"sort"

	"github.com/tomtom215/rendezvous/internal/models"
)

// ComputeUnread counts, per sender, the unread messages addressed to user
// across every conversation user belongs to. Senders with nothing unread are
// omitted. The result is sorted by sender.
func (s *Service) ComputeUnread(ctx context.Context, user string) ([]models.UnreadCount, error) {
	convs, err := s.store.ListByParticipant(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	counts := make(map[string]int)
	for _, conv := range convs {
		for i := range conv.Messages {
			m := &conv.Messages[i]
			if m.Receiver == user && !m.IsRead {
				counts[m.Sender]++
			}
		}
	}

	out := make([]models.UnreadCount, 0, len(counts))
	for sender, n := range counts {
		out = append(out, models.UnreadCount{Sender: sender, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sender < out[j].Sender })
	return out, nil
}

// ResolveUnread is ComputeUnread keyed by username.
func (s *Service) ResolveUnread(ctx context.Context, username string) ([]models.UnreadCount, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.ComputeUnread(ctx, u.ID)
}

// MarkRead flags every message from sender to reader in the conversation as
// read. It is idempotent and returns the number of messages that changed.
func (s *Service) MarkRead(ctx context.Context, conversationID, reader, sender string) (int, error) {
	n, err := s.store.MarkRead(ctx, conversationID, reader, sender)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}
