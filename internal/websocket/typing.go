// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package websocket

import (
	"sync"
	"time"

	"github.com/tomtom215/rendezvous/internal/metrics"
)

// TypingTimeout is the quiet period after which a typing indicator clears.
const TypingTimeout = 2000 * time.Millisecond

// Typing transition causes, used as metric labels.
const (
	typingCauseKeystroke  = "keystroke"
	typingCauseTimeout    = "timeout"
	typingCauseExplicit   = "explicit"
	typingCauseMessage    = "message"
	typingCauseLeave      = "leave"
	typingCauseDisconnect = "disconnect"
)

// TypingEmitFunc delivers a typing transition to the receiver. It is called
// with the debouncer lock held and must not block or call back into the
// debouncer.
type TypingEmitFunc func(conversationID, sender, receiver string, typing bool)

type typingKey struct {
	conversationID string
	receiver       string
}

type typingState struct {
	sender string
	gen    uint64
	timer  *time.Timer
}

// Debouncer runs the idle/typing state machine per (conversation, receiver).
// An absent entry is idle.
type Debouncer struct {
	mu      sync.Mutex
	timeout time.Duration
	emit    TypingEmitFunc
	states  map[typingKey]*typingState
	gen     uint64
}

// NewDebouncer returns a debouncer that clears after timeout of quiet.
func NewDebouncer(timeout time.Duration, emit TypingEmitFunc) *Debouncer {
	if timeout <= 0 {
		timeout = TypingTimeout
	}
	return &Debouncer{
		timeout: timeout,
		emit:    emit,
		states:  make(map[typingKey]*typingState),
	}
}

// Keystroke moves the pair to typing, emitting true on the idle → typing
// edge, and restarts the quiet timer.
func (d *Debouncer) Keystroke(conversationID, sender, receiver string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := typingKey{conversationID: conversationID, receiver: receiver}
	d.gen++
	gen := d.gen

	if st, ok := d.states[key]; ok {
		st.timer.Stop()
		st.gen = gen
		st.timer = time.AfterFunc(d.timeout, func() { d.expire(key, gen) })
		return
	}

	d.states[key] = &typingState{
		sender: sender,
		gen:    gen,
		timer:  time.AfterFunc(d.timeout, func() { d.expire(key, gen) }),
	}
	metrics.RecordTyping(true, typingCauseKeystroke)
	d.emit(conversationID, sender, receiver, true)
}

// Stop clears the indicator immediately. It is a no-op when idle.
func (d *Debouncer) Stop(conversationID, receiver, cause string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked(typingKey{conversationID: conversationID, receiver: receiver}, cause)
}

// ClearSender clears every indicator that sender is driving.
func (d *Debouncer) ClearSender(sender string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, st := range d.states {
		if st.sender == sender {
			d.clearLocked(key, typingCauseDisconnect)
		}
	}
}

// expire runs on the timer goroutine. A stale generation means the timer
// was superseded by a later keystroke or stop.
func (d *Debouncer) expire(key typingKey, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[key]
	if !ok || st.gen != gen {
		return
	}
	d.clearLocked(key, typingCauseTimeout)
}

func (d *Debouncer) clearLocked(key typingKey, cause string) {
	st, ok := d.states[key]
	if !ok {
		return
	}
	st.timer.Stop()
	delete(d.states, key)
	metrics.RecordTyping(false, cause)
	d.emit(key.conversationID, st.sender, key.receiver, false)
}

// IsTyping reports whether the receiver currently sees the peer typing.
func (d *Debouncer) IsTyping(conversationID, receiver string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.states[typingKey{conversationID: conversationID, receiver: receiver}]
	return ok
}

// Close stops all timers without emitting.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, st := range d.states {
		st.timer.Stop()
		delete(d.states, key)
	}
}
