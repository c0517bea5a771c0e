// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package websocket

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/rendezvous/internal/chat"
	"github.com/tomtom215/rendezvous/internal/models"
)

// EventKind is the closed set of socket event names. Names that do not parse
// into a kind are rejected before any handler runs.
type EventKind uint8

const (
	EventUnknown EventKind = iota

	// client → server
	EventJoinRoom
	EventSendMessages
	EventUserTyping
	EventDisconnect
	EventLeaveRoom
	EventEditMessage
	EventDeleteMessage
	EventMarkRead
	EventPing

	// server → client
	EventPreviousMessages
	EventReceiveMessage
	EventTyping
	EventOnlineUsers
	EventUnreadMessages
	EventMessageEdited
	EventMessageDeleted
	EventMessagesRead
	EventAck
	EventPong

	eventKindCount
)

// The misspelled "recieveMessage" is the name existing clients listen for.
var eventNames = [eventKindCount]string{
	EventUnknown:          "",
	EventJoinRoom:         "joinRoom",
	EventSendMessages:     "sendMessages",
	EventUserTyping:       "userTyping",
	EventDisconnect:       "disconnect",
	EventLeaveRoom:        "leaveRoom",
	EventEditMessage:      "editMessage",
	EventDeleteMessage:    "deleteMessage",
	EventMarkRead:         "markRead",
	EventPing:             "ping",
	EventPreviousMessages: "previousMessages",
	EventReceiveMessage:   "recieveMessage",
	EventTyping:           "typing",
	EventOnlineUsers:      "onlineUsers",
	EventUnreadMessages:   "unreadMessages",
	EventMessageEdited:    "messageEdited",
	EventMessageDeleted:   "messageDeleted",
	EventMessagesRead:     "messagesRead",
	EventAck:              "ack",
	EventPong:             "pong",
}

var eventsByName = func() map[string]EventKind {
	m := make(map[string]EventKind, eventKindCount)
	for k := EventJoinRoom; k < eventKindCount; k++ {
		m[eventNames[k]] = k
	}
	return m
}()

// ErrUnknownEvent is returned for event names outside the protocol.
var ErrUnknownEvent = errors.New("unknown event")

// ParseEventKind maps a wire name to its kind.
func ParseEventKind(name string) (EventKind, error) {
	if k, ok := eventsByName[name]; ok {
		return k, nil
	}
	return EventUnknown, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// String returns the wire name.
func (k EventKind) String() string {
	if k < eventKindCount {
		return eventNames[k]
	}
	return ""
}

// Inbound reports whether clients may send this kind.
func (k EventKind) Inbound() bool {
	return k >= EventJoinRoom && k <= EventPing
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	if k == EventUnknown || k >= eventKindCount {
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownEvent, uint8(k))
	}
	return []byte(eventNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	parsed, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Message is an outbound frame.
type Message struct {
	Type EventKind   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// inboundFrame is decoded with a string type so that an unknown name can
// still be acknowledged with its request id.
type inboundFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Ack codes.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeUnknownEvent       = "UNKNOWN_EVENT"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeForbidden          = "FORBIDDEN"
	CodePersistFailed      = "PERSIST_FAILED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Ack answers one inbound event. Failures are always acknowledged; successes
// only when the client supplied a request id.
type Ack struct {
	RequestID string `json:"request_id,omitempty"`
	Event     string `json:"event"`
	OK        bool   `json:"ok"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Inbound payloads

// JoinRoomRequest opens a room either by peer or by a known conversation id.
type JoinRoomRequest struct {
	UserID         string `json:"userId" validate:"omitempty,identity"`
	PeerID         string `json:"peerId" validate:"required_without=ConversationID"`
	ConversationID string `json:"conversationId" validate:"required_without=PeerID"`
}

// SendMessagesRequest carries one message draft for a joined room.
type SendMessagesRequest struct {
	ConversationID string      `json:"conversationId" validate:"required"`
	Message        *chat.Draft `json:"message" validate:"required"`
}

// TypingRequest drives the typing state machine for the peer of the room.
type TypingRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	ReceiverID     string `json:"receiverId" validate:"omitempty,identity"`
	Typing         bool   `json:"typing"`
}

// LeaveRoomRequest unsubscribes the connection from a room.
type LeaveRoomRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

// EditMessageRequest replaces the content of one of the caller's messages.
type EditMessageRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	MessageID      string `json:"messageId" validate:"required"`
	Content        string `json:"content" validate:"required"`
}

// DeleteMessageRequest removes one of the caller's messages.
type DeleteMessageRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	MessageID      string `json:"messageId" validate:"required"`
}

// MarkReadRequest marks the peer's messages to the caller as read.
type MarkReadRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	SenderID       string `json:"senderId" validate:"required,identity"`
}

// Outbound payloads

// PreviousMessagesPayload is the history replayed to a joining connection.
type PreviousMessagesPayload struct {
	ConversationID string           `json:"conversationId"`
	Participants   [2]string        `json:"participants"`
	Messages       []models.Message `json:"messages"`
}

// RoomMessage is a message tagged with its conversation.
type RoomMessage struct {
	ConversationID string `json:"conversationId"`
	models.Message
}

// TypingPayload tells the receiver whether the peer is typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Typing         bool   `json:"typing"`
}

// MessageDeletedPayload names a removed message.
type MessageDeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// MessagesReadPayload is the read receipt sent to the room.
type MessagesReadPayload struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
	SenderID       string `json:"senderId"`
	Count          int    `json:"count"`
}
