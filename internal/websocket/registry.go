// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package websocket

import (
	"sort"
	"sync"
)

// Registry maps users to their live connection ids. A user is online while
// at least one connection is registered.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[uint64]struct{}
	owner  map[uint64]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[uint64]struct{}),
		owner:  make(map[uint64]string),
	}
}

// Register adds connID to user's set. Registering the same id again is a
// no-op; registering it under a different user moves it. firstConn reports
// whether user just came online.
func (r *Registry) Register(user string, connID uint64) (firstConn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[connID]; ok {
		if prev == user {
			return false
		}
		r.removeLocked(prev, connID)
	}

	conns, ok := r.byUser[user]
	if !ok {
		conns = make(map[uint64]struct{})
		r.byUser[user] = conns
	}
	conns[connID] = struct{}{}
	r.owner[connID] = user
	return len(conns) == 1
}

// Unregister removes connID from whichever user owns it.
func (r *Registry) Unregister(connID uint64) (user string, wentOffline, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, found = r.owner[connID]
	if !found {
		return "", false, false
	}
	wentOffline = r.removeLocked(user, connID)
	return user, wentOffline, true
}

func (r *Registry) removeLocked(user string, connID uint64) (emptied bool) {
	delete(r.owner, connID)
	conns := r.byUser[user]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, user)
		return true
	}
	return false
}

// IsOnline reports whether user has a live connection.
func (r *Registry) IsOnline(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[user]) > 0
}

// ListOnline returns the online users in sorted order.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Connections returns user's connection ids in ascending order.
func (r *Registry) Connections(user string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.byUser[user])
}

// UserOf returns the owner of connID.
func (r *Registry) UserOf(connID uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.owner[connID]
	return u, ok
}

// OnlineCount returns the number of online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func sortedIDs(set map[uint64]struct{}) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
