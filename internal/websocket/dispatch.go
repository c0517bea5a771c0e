// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/metrics"
	"github.com/tomtom215/rendezvous/internal/models"
	"github.com/tomtom215/rendezvous/internal/validation"
)

var (
	errBadPayload       = errors.New("malformed payload")
	errNotInRoom        = errors.New("connection has not joined this conversation")
	errIdentityMismatch = errors.New("userId does not match the connection identity")
	errRateLimited      = errors.New("too many events")
	errClientGone       = errors.New("connection closed")
)

// persistError marks a message that was broadcast but could not be stored.
type persistError struct {
	err error
}

func (e *persistError) Error() string { return "message delivered but not persisted: " + e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

// handleFrame decodes one inbound frame and runs its handler. Every failure
// is answered with an error ack; none of them closes the connection.
func (h *Hub) handleFrame(c *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		metrics.WSErrors.WithLabelValues("decode").Inc()
		h.ack(c, &frame, "", "", fmt.Errorf("%w: %v", errBadPayload, err))
		return
	}

	kind, err := ParseEventKind(frame.Type)
	if err == nil && !kind.Inbound() {
		err = fmt.Errorf("%w: %q is server-sent", ErrUnknownEvent, frame.Type)
	}
	if err != nil {
		metrics.WSErrors.WithLabelValues("unknown_event").Inc()
		h.ack(c, &frame, frame.Type, "", err)
		return
	}

	if !c.limiter.Allow() {
		metrics.WSErrors.WithLabelValues("rate_limited").Inc()
		h.ack(c, &frame, frame.Type, "", errRateLimited)
		return
	}
	metrics.WSMessagesReceived.WithLabelValues(frame.Type).Inc()

	ctx := logging.ContextWithCorrelationID(context.Background(), c.correlationID)
	ctx = logging.ContextWithUserID(ctx, c.userID)
	if frame.RequestID != "" {
		ctx = logging.ContextWithRequestID(ctx, frame.RequestID)
	}
	ctx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()

	var messageID string
	switch kind {
	case EventJoinRoom:
		err = h.joinRoom(ctx, c, frame.Data)
	case EventSendMessages:
		messageID, err = h.sendMessage(ctx, c, frame.Data)
	case EventUserTyping:
		err = h.userTyping(c, frame.Data)
	case EventLeaveRoom:
		err = h.leaveRoom(c, frame.Data)
	case EventEditMessage:
		messageID, err = h.editMessage(ctx, c, frame.Data)
	case EventDeleteMessage:
		messageID, err = h.deleteMessage(ctx, c, frame.Data)
	case EventMarkRead:
		err = h.markRead(ctx, c, frame.Data)
	case EventPing:
		h.deliverTo(c, Message{Type: EventPong})
		return
	case EventDisconnect:
		h.unregister(c)
		return
	}

	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("event", frame.Type).Msg("socket event rejected")
	}
	h.ack(c, &frame, frame.Type, messageID, err)
}

// ack answers a frame. Successes are only acknowledged when the client asked
// for it with a request id.
func (h *Hub) ack(c *Client, frame *inboundFrame, event, messageID string, err error) {
	if err == nil && frame.RequestID == "" {
		return
	}
	a := Ack{RequestID: frame.RequestID, Event: event, OK: err == nil, MessageID: messageID}
	if err != nil {
		a.Code = errorCode(err)
		a.Message = err.Error()
	}
	h.deliverTo(c, Message{Type: EventAck, Data: a})
}

func errorCode(err error) string {
	var verr *validation.RequestValidationError
	var perr *persistError
	switch {
	case errors.As(err, &perr):
		return CodePersistFailed
	case errors.As(err, &verr):
		return CodeValidationFailed
	case errors.Is(err, ErrUnknownEvent):
		return CodeUnknownEvent
	case errors.Is(err, errBadPayload):
		return CodeBadRequest
	case errors.Is(err, errRateLimited):
		return CodeTooManyRequests
	case errors.Is(err, errNotInRoom),
		errors.Is(err, errIdentityMismatch),
		errors.Is(err, models.ErrNotParticipant),
		errors.Is(err, models.ErrNotMessageSender):
		return CodeForbidden
	case errors.Is(err, models.ErrConversationNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrUserNotFound):
		return CodeNotFound
	case errors.Is(err, models.ErrStoreUnavailable):
		return CodeServiceUnavailable
	default:
		return CodeInternalError
	}
}

// decode unmarshals and validates an event payload.
func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		return verr
	}
	return nil
}

// roomPeer returns the other participant of a room c has joined.
func (h *Hub) roomPeer(c *Client, conversationID string) (participants [2]string, peer string, err error) {
	if !h.rooms.IsMember(conversationID, c.id) {
		return participants, "", errNotInRoom
	}
	participants, ok := h.rooms.Participants(conversationID)
	if !ok {
		return participants, "", errNotInRoom
	}
	conv := models.Conversation{Participants: participants}
	peer, ok = conv.Peer(c.userID)
	if !ok {
		return participants, "", models.ErrNotParticipant
	}
	return participants, peer, nil
}

// joinRoom resolves the conversation, subscribes the connection, replays the
// history to it alone and marks the peer's messages read. Subscription and
// history snapshot happen under the conversation lock, so every message is
// either in the snapshot or broadcast to the joiner afterwards. A store
// failure leaves the connection unsubscribed.
func (h *Hub) joinRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	start := time.Now()
	defer func() { metrics.ChatJoinDuration.Observe(time.Since(start).Seconds()) }()

	var req JoinRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.UserID != "" && req.UserID != c.userID {
		return errIdentityMismatch
	}

	var (
		conv *models.Conversation
		err  error
	)
	if req.ConversationID != "" {
		conv, err = h.svc.Conversation(ctx, req.ConversationID, c.userID)
	} else {
		conv, err = h.svc.OpenConversation(ctx, c.userID, req.PeerID)
	}
	if err != nil {
		return err
	}

	if conv, err = h.subscribe(ctx, c, conv); err != nil {
		return err
	}
	metrics.ChatActiveRooms.Set(float64(h.rooms.Count()))

	peer, _ := conv.Peer(c.userID)
	n, err := h.svc.MarkRead(ctx, conv.ID, c.userID, peer)
	if err != nil {
		// The join itself succeeded; unread counts catch up on the next read.
		logging.Ctx(ctx).Warn().Err(err).Str("conversation_id", conv.ID).Msg("mark read on join failed")
		return nil
	}
	h.NotifyRead(ctx, conv.ID, c.userID, peer, n)

	logging.Ctx(ctx).Debug().Str("conversation_id", conv.ID).Int("history", len(conv.Messages)).Msg("joined room")
	return nil
}

// subscribe joins c to the room of conv and queues the history snapshot,
// re-read after joining, while holding the conversation lock. A connection
// the hub has already dropped is not left behind in the room.
func (h *Hub) subscribe(ctx context.Context, c *Client, conv *models.Conversation) (*models.Conversation, error) {
	unlock := h.locks.Lock(conv.ID)
	defer unlock()

	rejoin := h.rooms.IsMember(conv.ID, c.id)
	h.rooms.Join(conv.ID, conv.Participants, c.id)
	// Unregister removes the client before clearing its rooms, so a join
	// that still sees the client is cleared by that sweep.
	if !h.attached(c) {
		h.rooms.Leave(conv.ID, c.id)
		return nil, errClientGone
	}

	fresh, err := h.svc.Conversation(ctx, conv.ID, c.userID)
	if err != nil {
		if !rejoin {
			h.rooms.Leave(conv.ID, c.id)
		}
		return nil, err
	}
	history := fresh.Messages
	if history == nil {
		history = []models.Message{}
	}
	h.deliverTo(c, Message{
		Type: EventPreviousMessages,
		Data: PreviousMessagesPayload{ConversationID: fresh.ID, Participants: fresh.Participants, Messages: history},
	})
	return fresh, nil
}

// sendMessage broadcasts first and persists second, both under the
// conversation lock, so room members see messages in persist order.
func (h *Hub) sendMessage(ctx context.Context, c *Client, data json.RawMessage) (string, error) {
	var req SendMessagesRequest
	if err := decode(data, &req); err != nil {
		return "", err
	}
	participants, _, err := h.roomPeer(c, req.ConversationID)
	if err != nil {
		return "", err
	}

	unlock := h.locks.Lock(req.ConversationID)
	defer unlock()

	msg, err := h.svc.PrepareMessage(c.userID, participants, req.Message)
	if err != nil {
		return "", err
	}
	if req.Message.ID != "" {
		retry, err := h.svc.IsRetry(ctx, req.ConversationID, msg)
		if err != nil {
			return "", err
		}
		if retry {
			// Already delivered and stored; only the ack was lost.
			return msg.ID, nil
		}
	}

	h.broadcastRoom(ctx, req.ConversationID, Message{
		Type: EventReceiveMessage,
		Data: RoomMessage{ConversationID: req.ConversationID, Message: *msg},
	})
	metrics.ChatMessagesTotal.WithLabelValues(string(msg.ContentType)).Inc()
	h.typing.Stop(req.ConversationID, msg.Receiver, typingCauseMessage)

	if err := h.svc.Persist(ctx, req.ConversationID, msg); err != nil {
		metrics.ChatPersistFailures.WithLabelValues(persistReason(err)).Inc()
		logging.Ctx(ctx).Error().Err(err).
			Str("conversation_id", req.ConversationID).
			Str("message_id", msg.ID).
			Msg("message broadcast but not persisted")
		return msg.ID, &persistError{err: err}
	}
	return msg.ID, nil
}

func persistReason(err error) string {
	switch {
	case errors.Is(err, models.ErrConversationNotFound):
		return "not_found"
	case errors.Is(err, models.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (h *Hub) userTyping(c *Client, data json.RawMessage) error {
	var req TypingRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	_, peer, err := h.roomPeer(c, req.ConversationID)
	if err != nil {
		return err
	}
	if req.ReceiverID != "" && req.ReceiverID != peer {
		return validation.NewError("receiverId", "receiverId must be the other participant")
	}

	if req.Typing {
		h.typing.Keystroke(req.ConversationID, c.userID, peer)
	} else {
		h.typing.Stop(req.ConversationID, peer, typingCauseExplicit)
	}
	return nil
}

func (h *Hub) leaveRoom(c *Client, data json.RawMessage) error {
	var req LeaveRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	_, peer, err := h.roomPeer(c, req.ConversationID)
	if err != nil {
		return err
	}
	h.rooms.Leave(req.ConversationID, c.id)
	metrics.ChatActiveRooms.Set(float64(h.rooms.Count()))

	if len(h.userConnsInRoom(req.ConversationID, c.userID)) == 0 {
		h.typing.Stop(req.ConversationID, peer, typingCauseLeave)
	}
	return nil
}

func (h *Hub) editMessage(ctx context.Context, c *Client, data json.RawMessage) (string, error) {
	var req EditMessageRequest
	if err := decode(data, &req); err != nil {
		return "", err
	}
	if _, _, err := h.roomPeer(c, req.ConversationID); err != nil {
		return "", err
	}

	unlock := h.locks.Lock(req.ConversationID)
	defer unlock()

	msg, err := h.svc.EditMessage(ctx, req.ConversationID, req.MessageID, c.userID, req.Content)
	if err != nil {
		return req.MessageID, err
	}
	h.broadcastRoom(ctx, req.ConversationID, Message{
		Type: EventMessageEdited,
		Data: RoomMessage{ConversationID: req.ConversationID, Message: *msg},
	})
	return msg.ID, nil
}

func (h *Hub) deleteMessage(ctx context.Context, c *Client, data json.RawMessage) (string, error) {
	var req DeleteMessageRequest
	if err := decode(data, &req); err != nil {
		return "", err
	}
	if _, _, err := h.roomPeer(c, req.ConversationID); err != nil {
		return "", err
	}

	unlock := h.locks.Lock(req.ConversationID)
	defer unlock()

	if err := h.svc.DeleteMessage(ctx, req.ConversationID, req.MessageID, c.userID); err != nil {
		return req.MessageID, err
	}
	h.broadcastRoom(ctx, req.ConversationID, Message{
		Type: EventMessageDeleted,
		Data: MessageDeletedPayload{ConversationID: req.ConversationID, MessageID: req.MessageID},
	})
	return req.MessageID, nil
}

// markRead does not require a joined room; a client may clear a badge from
// the conversation list.
func (h *Hub) markRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var req MarkReadRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	conv, err := h.svc.Conversation(ctx, req.ConversationID, c.userID)
	if err != nil {
		return err
	}
	if peer, _ := conv.Peer(c.userID); peer != req.SenderID {
		return validation.NewError("senderId", "senderId must be the other participant")
	}

	n, err := h.svc.MarkRead(ctx, conv.ID, c.userID, req.SenderID)
	if err != nil {
		return err
	}
	h.NotifyRead(ctx, conv.ID, c.userID, req.SenderID, n)
	return nil
}
