// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/models"
)

//nolint:gochecknoinits // Test setup requires init for logger configuration
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func setupTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := OpenDB(Options{InMemory: true})
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func textMessage(id, sender, receiver, content string) *models.Message {
	return &models.Message{
		ID:            id,
		Sender:        sender,
		Receiver:      receiver,
		Content:       content,
		ContentType:   models.ContentText,
		Timestamp:     time.Now().UTC(),
		IsAppropriate: true,
	}
}

func TestFindOrCreateSymmetry(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(setupTestDB(t))

	if _, err := s.FindByParticipants(ctx, "alice", "bob"); !errors.Is(err, models.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	created, err := s.Create(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Participants != [2]string{"alice", "bob"} {
		t.Errorf("participants = %v", created.Participants)
	}

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		found, err := s.FindByParticipants(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("FindByParticipants%v: %v", pair, err)
		}
		if found.ID != created.ID {
			t.Errorf("FindByParticipants%v = %s, want %s", pair, found.ID, created.ID)
		}
	}

	again, err := s.Create(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("Create(bob, alice) made a second conversation %s", again.ID)
	}
}

func TestConcurrentCreateConverges(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(setupTestDB(t))

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := s.Create(ctx, a, b)
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("workers disagree on conversation id: %v", ids)
		}
	}
}

func TestAppendMessageIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(setupTestDB(t))
	conv, _ := s.Create(ctx, "alice", "bob")

	msg := textMessage("m1", "alice", "bob", "hi")
	for i := 0; i < 2; i++ {
		if err := s.AppendMessage(ctx, conv.ID, msg); err != nil {
			t.Fatalf("AppendMessage #%d: %v", i, err)
		}
	}
	if err := s.AppendMessage(ctx, conv.ID, textMessage("m2", "bob", "alice", "hey")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 || got.Messages[0].ID != "m1" || got.Messages[1].ID != "m2" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestAppendMessageRejectsReusedID(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(setupTestDB(t))
	conv, _ := s.Create(ctx, "alice", "bob")
	other, _ := s.Create(ctx, "alice", "carol")

	if err := s.AppendMessage(ctx, conv.ID, textMessage("m1", "bob", "alice", "original")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(ctx, conv.ID, textMessage("gone", "alice", "bob", "oops")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteMessage(ctx, conv.ID, "gone", "alice"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name           string
		conversationID string
		msg            *models.Message
	}{
		{"other sender", conv.ID, textMessage("m1", "alice", "bob", "original")},
		{"other content", conv.ID, textMessage("m1", "bob", "alice", "forged")},
		{"other conversation", other.ID, textMessage("m1", "carol", "alice", "original")},
		{"deleted id", conv.ID, textMessage("gone", "alice", "bob", "oops")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.AppendMessage(ctx, tt.conversationID, tt.msg); !errors.Is(err, models.ErrMessageConflict) {
				t.Errorf("AppendMessage err = %v, want ErrMessageConflict", err)
			}
			if _, err := s.MatchMessage(ctx, tt.conversationID, tt.msg); !errors.Is(err, models.ErrMessageConflict) {
				t.Errorf("MatchMessage err = %v, want ErrMessageConflict", err)
			}
		})
	}

	got, _ := s.Get(ctx, conv.ID)
	if len(got.Messages) != 1 || got.Messages[0].Content != "original" || got.Messages[0].Sender != "bob" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if o, _ := s.Get(ctx, other.ID); len(o.Messages) != 0 {
		t.Errorf("other conversation messages = %+v", o.Messages)
	}
}

func TestMatchMessage(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(setupTestDB(t))
	conv, _ := s.Create(ctx, "alice", "bob")
	if err := s.AppendMessage(ctx, conv.ID, textMessage("m1", "alice", "bob", "hi")); err != nil {
		t.Fatal(err)
	}

	// A retry carries a fresh server timestamp.
	retry := textMessage("m1", "alice", "bob", "hi")
	retry.Timestamp = retry.Timestamp.Add(time.Minute)
	if found, err := s.MatchMessage(ctx, conv.ID, retry); err != nil || !found {
		t.Errorf("retry: found=%v err=%v, want true, nil", found, err)
	}
	if found, err := s.MatchMessage(ctx, conv.ID, textMessage("m2", "alice", "bob", "new")); err != nil || found {
		t.Errorf("fresh id: found=%v err=%v, want false, nil", found, err)
	}
	if _, err := s.MatchMessage(ctx, "missing", retry); !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("missing conversation: err = %v", err)
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	s := NewConversationStore(setupTestDB(t))
	err := s.AppendMessage(context.Background(), "missing", textMessage("m1", "a", "b", "x"))
	if !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(setupTestDB(t))
	conv, _ := s.Create(ctx, "alice", "bob")

	for i := 0; i < 3; i++ {
		_ = s.AppendMessage(ctx, conv.ID, textMessage(fmt.Sprintf("a%d", i), "alice", "bob", "hi"))
	}
	_ = s.AppendMessage(ctx, conv.ID, textMessage("b0", "bob", "alice", "yo"))

	first, err := s.MarkRead(ctx, conv.ID, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first != 3 {
		t.Errorf("first MarkRead changed %d, want 3", first)
	}
	afterFirst, _ := s.Get(ctx, conv.ID)

	second, err := s.MarkRead(ctx, conv.ID, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if second != 0 {
		t.Errorf("second MarkRead changed %d, want 0", second)
	}
	afterSecond, _ := s.Get(ctx, conv.ID)

	for i := range afterFirst.Messages {
		if afterFirst.Messages[i].IsRead != afterSecond.Messages[i].IsRead {
			t.Errorf("message %d changed on repeated MarkRead", i)
		}
	}
	if afterSecond.Messages[3].IsRead {
		t.Error("bob's own message to alice must stay unread")
	}
}

func TestEditAndDeleteMessage(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(setupTestDB(t))
	conv, _ := s.Create(ctx, "alice", "bob")
	_ = s.AppendMessage(ctx, conv.ID, textMessage("m1", "alice", "bob", "helo"))

	tests := []struct {
		name    string
		editor  string
		msgID   string
		wantErr error
	}{
		{"sender edits", "alice", "m1", nil},
		{"peer cannot edit", "bob", "m1", models.ErrNotMessageSender},
		{"unknown message", "alice", "zz", models.ErrMessageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edited, err := s.EditMessage(ctx, conv.ID, tt.msgID, tt.editor, "hello")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("EditMessage err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && (edited.Content != "hello" || edited.EditedAt == nil) {
				t.Errorf("edited = %+v", edited)
			}
		})
	}

	if err := s.DeleteMessage(ctx, conv.ID, "m1", "bob"); !errors.Is(err, models.ErrNotMessageSender) {
		t.Errorf("peer delete err = %v", err)
	}
	if err := s.DeleteMessage(ctx, conv.ID, "m1", "alice"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	got, _ := s.Get(ctx, conv.ID)
	if len(got.Messages) != 0 {
		t.Errorf("messages after delete = %d", len(got.Messages))
	}
}

func TestListByParticipant(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(setupTestDB(t))
	_, _ = s.Create(ctx, "alice", "bob")
	_, _ = s.Create(ctx, "carol", "alice")
	_, _ = s.Create(ctx, "bob", "carol")
	// "alice" must not match a user whose id merely starts with "alice".
	_, _ = s.Create(ctx, "alice2", "dave")

	tests := []struct {
		user string
		want int
	}{
		{"alice", 2},
		{"bob", 2},
		{"dave", 1},
		{"nobody", 0},
	}
	for _, tt := range tests {
		convs, err := s.ListByParticipant(ctx, tt.user)
		if err != nil {
			t.Fatal(err)
		}
		if len(convs) != tt.want {
			t.Errorf("ListByParticipant(%s) = %d conversations, want %d", tt.user, len(convs), tt.want)
		}
		for _, c := range convs {
			if !c.HasParticipant(tt.user) {
				t.Errorf("%s listed conversation %v", tt.user, c.Participants)
			}
		}
	}
}

func TestUserDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewUserDirectory(setupTestDB(t))

	alice, created, err := d.Register(ctx, "alice")
	if err != nil || !created {
		t.Fatalf("Register(alice) = %v, created=%v", err, created)
	}
	again, created, err := d.Register(ctx, "alice")
	if err != nil || created || again.ID != alice.ID {
		t.Fatalf("re-register should return the same user: %+v created=%v err=%v", again, created, err)
	}
	_, _, _ = d.Register(ctx, "carol")
	_, _, _ = d.Register(ctx, "bob")

	names, err := d.ListUsernames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(names) != "[alice bob carol]" {
		t.Errorf("ListUsernames = %v", names)
	}

	byName, err := d.GetByUsername(ctx, "alice")
	if err != nil || byName.ID != alice.ID {
		t.Errorf("GetByUsername = %+v, %v", byName, err)
	}
	byID, err := d.GetByID(ctx, alice.ID)
	if err != nil || byID.Username != "alice" {
		t.Errorf("GetByID = %+v, %v", byID, err)
	}
	if _, err := d.GetByUsername(ctx, "zed"); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("unknown user err = %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	s := NewConversationStore(setupTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Create(ctx, "a", "b"); !errors.Is(err, context.Canceled) {
		t.Errorf("Create with canceled ctx = %v", err)
	}
	if _, err := s.Get(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get with canceled ctx = %v", err)
	}
}

func TestGCServiceStops(t *testing.T) {
	svc := NewGCService(setupTestDB(t), 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve returned %v", err)
	}
	if svc.String() != "badger-gc" {
		t.Errorf("String() = %q", svc.String())
	}
}
