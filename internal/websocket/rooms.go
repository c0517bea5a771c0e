// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package websocket

import (
	"sort"
	"sync"
)

type room struct {
	participants [2]string
	members      map[uint64]struct{}
}

// Rooms tracks which connections are subscribed to which conversation. A
// room exists while it has at least one member.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	joined map[uint64]map[string]struct{}
}

// NewRooms returns an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string]*room),
		joined: make(map[uint64]map[string]struct{}),
	}
}

// Join subscribes connID to the conversation room.
func (r *Rooms) Join(conversationID string, participants [2]string, connID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[conversationID]
	if !ok {
		rm = &room{participants: participants, members: make(map[uint64]struct{})}
		r.rooms[conversationID] = rm
	}
	rm.members[connID] = struct{}{}

	convs, ok := r.joined[connID]
	if !ok {
		convs = make(map[string]struct{})
		r.joined[connID] = convs
	}
	convs[conversationID] = struct{}{}
}

// Leave unsubscribes connID from one room and reports whether it was a member.
func (r *Rooms) Leave(conversationID string, connID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conversationID, connID)
}

func (r *Rooms) leaveLocked(conversationID string, connID uint64) bool {
	rm, ok := r.rooms[conversationID]
	if !ok {
		return false
	}
	if _, member := rm.members[connID]; !member {
		return false
	}
	delete(rm.members, connID)
	if len(rm.members) == 0 {
		delete(r.rooms, conversationID)
	}
	if convs := r.joined[connID]; convs != nil {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(r.joined, connID)
		}
	}
	return true
}

// LeaveAll removes connID from every room and returns the rooms it left,
// sorted.
func (r *Rooms) LeaveAll(connID uint64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := make([]string, 0, len(r.joined[connID]))
	for conv := range r.joined[connID] {
		left = append(left, conv)
	}
	sort.Strings(left)
	for _, conv := range left {
		r.leaveLocked(conv, connID)
	}
	return left
}

// Members returns the connection ids subscribed to a room in ascending order.
func (r *Rooms) Members(conversationID string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[conversationID]; ok {
		return sortedIDs(rm.members)
	}
	return nil
}

// Participants returns the two identities of a live room.
func (r *Rooms) Participants(conversationID string) ([2]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[conversationID]; ok {
		return rm.participants, true
	}
	return [2]string{}, false
}

// IsMember reports whether connID is subscribed to the room.
func (r *Rooms) IsMember(conversationID string, connID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[conversationID]
	if !ok {
		return false
	}
	_, member := rm.members[connID]
	return member
}

// Count returns the number of live rooms.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
