// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tomtom215/rendezvous/internal/models"
)

func send(t *testing.T, s *Service, conv *models.Conversation, sender, content string) {
	t.Helper()
	msg, err := s.PrepareMessage(sender, conv.Participants, &Draft{Content: content, ContentType: models.ContentText})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(context.Background(), conv.ID, msg); err != nil {
		t.Fatal(err)
	}
}

func TestComputeUnreadAggregatesBySender(t *testing.T) {
	ctx := context.Background()
	s := setupService(t)

	withA, _ := s.OpenConversation(ctx, "me", "A")
	withB, _ := s.OpenConversation(ctx, "B", "me")
	for i := 0; i < 3; i++ {
		send(t, s, withA, "A", fmt.Sprintf("a%d", i))
	}
	send(t, s, withB, "B", "b0")
	send(t, s, withA, "me", "reply")

	got, err := s.ComputeUnread(ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	want := []models.UnreadCount{{Sender: "A", Count: 3}, {Sender: "B", Count: 1}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("ComputeUnread = %v, want %v", got, want)
	}

	forA, _ := s.ComputeUnread(ctx, "A")
	if fmt.Sprint(forA) != fmt.Sprint([]models.UnreadCount{{Sender: "me", Count: 1}}) {
		t.Errorf("ComputeUnread(A) = %v", forA)
	}
}

func TestMarkReadThenUnreadDrops(t *testing.T) {
	ctx := context.Background()
	s := setupService(t)
	conv, _ := s.OpenConversation(ctx, "me", "A")
	send(t, s, conv, "A", "one")
	send(t, s, conv, "A", "two")

	tests := []struct {
		name        string
		wantChanged int
	}{
		{"first mark", 2},
		{"repeat is a no-op", 0},
	}
	for _, tt := range tests {
		n, err := s.MarkRead(ctx, conv.ID, "me", "A")
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if n != tt.wantChanged {
			t.Errorf("%s: changed %d, want %d", tt.name, n, tt.wantChanged)
		}
		unread, _ := s.ComputeUnread(ctx, "me")
		if len(unread) != 0 {
			t.Errorf("%s: unread = %v, want none", tt.name, unread)
		}
	}
}

func TestMarkReadUnknownConversation(t *testing.T) {
	s := setupService(t)
	_, err := s.MarkRead(context.Background(), "missing", "me", "A")
	if !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestResolveUnreadByUsername(t *testing.T) {
	ctx := context.Background()
	s := setupService(t)
	me, _, _ := s.RegisterUser(ctx, "me_user")
	peer, _, _ := s.RegisterUser(ctx, "peer_user")
	conv, _ := s.OpenConversation(ctx, me.ID, peer.ID)
	send(t, s, conv, peer.ID, "hello")

	got, err := s.ResolveUnread(ctx, "me_user")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Sender != peer.ID || got[0].Count != 1 {
		t.Errorf("ResolveUnread = %v", got)
	}
	if _, err := s.ResolveUnread(ctx, "ghost"); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("unknown user err = %v", err)
	}
}
