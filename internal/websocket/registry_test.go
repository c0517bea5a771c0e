// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package websocket

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if first := r.Register("alice", 1); !first {
		t.Error("first connection should bring alice online")
	}
	if first := r.Register("alice", 2); first {
		t.Error("second connection is not a first connection")
	}
	if first := r.Register("alice", 2); first {
		t.Error("re-registering is idempotent")
	}
	r.Register("bob", 3)

	if got := fmt.Sprint(r.ListOnline()); got != "[alice bob]" {
		t.Errorf("ListOnline = %s", got)
	}
	if got := fmt.Sprint(r.Connections("alice")); got != "[1 2]" {
		t.Errorf("Connections(alice) = %s", got)
	}

	// Moving a connection id to another user.
	r.Register("bob", 2)
	if got := fmt.Sprint(r.Connections("alice")); got != "[1]" {
		t.Errorf("after move Connections(alice) = %s", got)
	}

	tests := []struct {
		connID      uint64
		wantUser    string
		wantOffline bool
		wantFound   bool
	}{
		{1, "alice", true, true},
		{1, "", false, false},
		{99, "", false, false},
		{2, "bob", false, true},
		{3, "bob", true, true},
	}
	for _, tt := range tests {
		user, offline, found := r.Unregister(tt.connID)
		if user != tt.wantUser || offline != tt.wantOffline || found != tt.wantFound {
			t.Errorf("Unregister(%d) = %q,%v,%v want %q,%v,%v",
				tt.connID, user, offline, found, tt.wantUser, tt.wantOffline, tt.wantFound)
		}
	}
	if r.OnlineCount() != 0 || r.IsOnline("alice") {
		t.Error("registry should be empty")
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := uint64(1); i <= 100; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			r.Register("alice", id)
			if id%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()
	if n := len(r.Connections("alice")); n != 50 {
		t.Errorf("alice has %d connections, want 50", n)
	}
}

func TestRooms(t *testing.T) {
	rooms := NewRooms()
	pair := [2]string{"alice", "bob"}

	rooms.Join("c1", pair, 1)
	rooms.Join("c1", pair, 2)
	rooms.Join("c2", [2]string{"alice", "carol"}, 1)

	if got := fmt.Sprint(rooms.Members("c1")); got != "[1 2]" {
		t.Errorf("Members(c1) = %s", got)
	}
	if p, ok := rooms.Participants("c1"); !ok || p != pair {
		t.Errorf("Participants(c1) = %v, %v", p, ok)
	}
	if rooms.IsMember("c2", 2) {
		t.Error("conn 2 never joined c2")
	}
	if rooms.Leave("c2", 2) {
		t.Error("Leave of a non-member should report false")
	}

	if left := fmt.Sprint(rooms.LeaveAll(1)); left != "[c1 c2]" {
		t.Errorf("LeaveAll(1) = %s", left)
	}
	if rooms.Count() != 1 {
		t.Errorf("Count = %d, want 1 (c2 emptied)", rooms.Count())
	}
	if !rooms.Leave("c1", 2) || rooms.Count() != 0 {
		t.Error("last member leaving should drop the room")
	}
	if _, ok := rooms.Participants("c1"); ok {
		t.Error("dropped room still reports participants")
	}
}

func TestKeyedMutexSerializes(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("c1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d", counter)
	}
	if k.size() != 0 {
		t.Errorf("locks retained: %d", k.size())
	}
}

func TestEventKind(t *testing.T) {
	tests := []struct {
		name    string
		inbound bool
		wantErr bool
	}{
		{"joinRoom", true, false},
		{"sendMessages", true, false},
		{"userTyping", true, false},
		{"disconnect", true, false},
		{"recieveMessage", false, false},
		{"onlineUsers", false, false},
		{"receiveMessage", false, true},
		{"", false, true},
		{"JOINROOM", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseEventKind(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownEvent) {
					t.Fatalf("ParseEventKind(%q) err = %v", tt.name, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if k.String() != tt.name || k.Inbound() != tt.inbound {
				t.Errorf("kind %d: String=%q Inbound=%v", k, k.String(), k.Inbound())
			}
		})
	}
}

func TestOutboundFrameEncoding(t *testing.T) {
	raw, err := json.Marshal(Message{Type: EventReceiveMessage, Data: RoomMessage{ConversationID: "c1"}})
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != "recieveMessage" || decoded.Data["conversationId"] != "c1" {
		t.Errorf("encoded frame = %s", raw)
	}
	if _, ok := decoded.Data["content_type"]; !ok {
		t.Errorf("embedded message fields not flattened: %s", raw)
	}

	if _, err := json.Marshal(Message{Type: EventUnknown}); err == nil {
		t.Error("encoding an unknown kind should fail")
	}
}
