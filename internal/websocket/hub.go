// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/rendezvous/internal/chat"
	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/metrics"
	"github.com/tomtom215/rendezvous/internal/models"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// typingRelayBuffer bounds typing events waiting for the relay. Events past
// it are dropped; the next keystroke or timeout supersedes them anyway.
const typingRelayBuffer = 1024

// ErrHubStopped is returned when attaching to a hub that has shut down.
var ErrHubStopped = errors.New("websocket hub stopped")

// ChatService is the conversation logic the hub drives.
type ChatService interface {
	OpenConversation(ctx context.Context, user, peer string) (*models.Conversation, error)
	Conversation(ctx context.Context, conversationID, user string) (*models.Conversation, error)
	PrepareMessage(sender string, participants [2]string, draft *chat.Draft) (*models.Message, error)
	IsRetry(ctx context.Context, conversationID string, msg *models.Message) (bool, error)
	Persist(ctx context.Context, conversationID string, msg *models.Message) error
	EditMessage(ctx context.Context, conversationID, messageID, editor, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID, requester string) error
	ComputeUnread(ctx context.Context, user string) ([]models.UnreadCount, error)
	MarkRead(ctx context.Context, conversationID, reader, sender string) (int, error)
}

// RoomEvent is a room broadcast as seen by other nodes. TargetUser narrows
// delivery to one participant's connections.
type RoomEvent struct {
	ConversationID string          `json:"conversation_id"`
	TargetUser     string          `json:"target_user,omitempty"`
	Type           EventKind       `json:"type"`
	Data           json.RawMessage `json:"data"`
}

// Relay fans room events out to other nodes.
type Relay interface {
	Publish(ctx context.Context, ev *RoomEvent) error
}

// Option customizes a Hub.
type Option func(*Hub)

// WithRelay publishes every room event through r.
func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

// WithTypingTimeout overrides the typing quiet period.
func WithTypingTimeout(d time.Duration) Option {
	return func(h *Hub) { h.typingTimeout = d }
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithMaxMessageSize bounds inbound frames in bytes.
func WithMaxMessageSize(n int64) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxMessageSize = n
		}
	}
}

// WithInboundRate limits inbound events per connection.
func WithInboundRate(perSecond float64, burst int) Option {
	return func(h *Hub) {
		if perSecond > 0 && burst > 0 {
			h.inboundRate = rate.Limit(perSecond)
			h.inboundBurst = burst
		}
	}
}

// WithOperationTimeout bounds the store work done for one inbound event.
func WithOperationTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.opTimeout = d
		}
	}
}

// Hub owns the connection registry, room membership and typing state of one
// node. Connection lifecycle is serialized through RunWithContext so that
// presence snapshots go out in mutation order.
type Hub struct {
	svc      ChatService
	relay    Relay
	registry *Registry
	rooms    *Rooms
	typing   *Debouncer
	locks    *keyedMutex
	log      zerolog.Logger

	// typingRelay feeds forwardTyping when a relay is configured.
	typingRelay chan *RoomEvent

	clients map[uint64]*Client
	mu      sync.RWMutex

	Register   chan *Client
	Unregister chan *Client
	stopped    chan struct{}
	stopOnce   sync.Once

	typingTimeout  time.Duration
	sendBuffer     int
	maxMessageSize int64
	inboundRate    rate.Limit
	inboundBurst   int
	opTimeout      time.Duration
}

// NewHub creates a hub over svc.
func NewHub(svc ChatService, opts ...Option) *Hub {
	h := &Hub{
		svc:            svc,
		registry:       NewRegistry(),
		rooms:          NewRooms(),
		locks:          newKeyedMutex(),
		log:            logging.WithComponent("websocket-hub"),
		clients:        make(map[uint64]*Client),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		stopped:        make(chan struct{}),
		typingTimeout:  TypingTimeout,
		sendBuffer:     256,
		maxMessageSize: 64 * 1024,
		inboundRate:    rate.Limit(20),
		inboundBurst:   40,
		opTimeout:      10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.typing = NewDebouncer(h.typingTimeout, h.emitTyping)
	if h.relay != nil {
		h.typingRelay = make(chan *RoomEvent, typingRelayBuffer)
		go h.forwardTyping()
	}
	return h
}

// RunWithContext processes register and unregister requests until ctx is
// done, then closes every client.
//
// Shutdown is checked first, lifecycle events second.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.handleRegister(client)
		case client := <-h.Unregister:
			h.handleUnregister(client)
		}
	}
}

// Attach registers a freshly upgraded connection and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn, userID string) (*Client, error) {
	c := newClient(h, conn, userID)
	select {
	case h.Register <- c:
	case <-h.stopped:
		return nil, ErrHubStopped
	}
	c.Start()
	return c, nil
}

// unregister hands c to the hub loop. It never blocks after shutdown.
func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.stopped:
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	first := h.registry.Register(c.userID, c.id)
	metrics.WSConnections.Set(float64(total))
	metrics.ChatOnlineUsers.Set(float64(h.registry.OnlineCount()))
	h.log.Info().
		Uint64("conn_id", c.id).
		Str("user_id", c.userID).
		Bool("came_online", first).
		Int("total_clients", total).
		Msg("websocket client connected")

	h.broadcastPresence()
	go h.pushUnread(c.userID, c)
}

func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	total := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}

	left := h.rooms.LeaveAll(c.id)
	user, offline, _ := h.registry.Unregister(c.id)
	if offline {
		h.typing.ClearSender(user)
	}
	c.close()

	metrics.WSConnections.Set(float64(total))
	metrics.ChatOnlineUsers.Set(float64(h.registry.OnlineCount()))
	metrics.ChatActiveRooms.Set(float64(h.rooms.Count()))
	h.log.Info().
		Uint64("conn_id", c.id).
		Str("user_id", user).
		Bool("went_offline", offline).
		Int("rooms_left", len(left)).
		Int("total_clients", total).
		Msg("websocket client disconnected")

	h.broadcastPresence()
}

// broadcastPresence sends the full online snapshot to every connection.
func (h *Hub) broadcastPresence() {
	msg := Message{Type: EventOnlineUsers, Data: h.registry.ListOnline()}
	h.deliver(h.allClientIDs(), msg)
}

// pushUnread sends the current unread counts of user to one connection, or
// to all of the user's connections when only is nil.
func (h *Hub) pushUnread(user string, only *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	defer cancel()

	counts, err := h.svc.ComputeUnread(ctx, user)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", user).Msg("failed to compute unread counts")
		return
	}
	msg := Message{Type: EventUnreadMessages, Data: counts}
	if only != nil {
		h.deliverTo(only, msg)
		return
	}
	h.deliver(h.registry.Connections(user), msg)
}

// deliver queues msg for the given connection ids in id order.
func (h *Hub) deliver(ids []uint64, msg Message) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliverTo(c, msg)
	}
}

func (h *Hub) deliverTo(c *Client, msg Message) {
	if err := c.enqueue(msg); errors.Is(err, errSendFull) {
		metrics.WSErrors.WithLabelValues("slow_consumer").Inc()
		h.log.Warn().Uint64("conn_id", c.id).Str("user_id", c.userID).Msg("send buffer full, dropping client")
		// The caller may be the hub loop itself.
		go h.unregister(c)
	}
}

func (h *Hub) allClientIDs() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uint64, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// broadcastRoom delivers msg to every local member of the room and forwards
// it to the relay.
func (h *Hub) broadcastRoom(ctx context.Context, conversationID string, msg Message) {
	h.deliver(h.rooms.Members(conversationID), msg)
	h.publish(ctx, conversationID, "", msg)
}

func (h *Hub) userConnsInRoom(conversationID, user string) []uint64 {
	conns := h.registry.Connections(user)
	out := conns[:0]
	for _, id := range conns {
		if h.rooms.IsMember(conversationID, id) {
			out = append(out, id)
		}
	}
	return out
}

func (h *Hub) publish(ctx context.Context, conversationID, target string, msg Message) {
	if h.relay == nil {
		return
	}
	ev, ok := h.roomEvent(conversationID, target, msg)
	if !ok {
		return
	}
	if err := h.relay.Publish(ctx, ev); err != nil {
		h.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("relay publish failed")
	}
}

func (h *Hub) roomEvent(conversationID, target string, msg Message) (*RoomEvent, bool) {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		h.log.Error().Err(err).Str("event", msg.Type.String()).Msg("failed to encode relay event")
		return nil, false
	}
	return &RoomEvent{ConversationID: conversationID, TargetUser: target, Type: msg.Type, Data: data}, true
}

// DeliverRemote hands an event published by another node to the local
// members of its room. It is never re-published.
func (h *Hub) DeliverRemote(ev *RoomEvent) {
	msg := Message{Type: ev.Type, Data: ev.Data}
	if ev.TargetUser != "" {
		h.deliver(h.userConnsInRoom(ev.ConversationID, ev.TargetUser), msg)
		return
	}
	h.deliver(h.rooms.Members(ev.ConversationID), msg)
}

// emitTyping is the debouncer callback and runs under the debouncer lock.
// Local frames are queued directly; the relay copy goes through forwardTyping
// so a slow broker never stalls typing state for other rooms.
func (h *Hub) emitTyping(conversationID, sender, receiver string, typing bool) {
	msg := Message{
		Type: EventTyping,
		Data: TypingPayload{ConversationID: conversationID, UserID: sender, Typing: typing},
	}
	h.deliver(h.userConnsInRoom(conversationID, receiver), msg)
	if h.typingRelay == nil {
		return
	}
	ev, ok := h.roomEvent(conversationID, receiver, msg)
	if !ok {
		return
	}
	select {
	case h.typingRelay <- ev:
	default:
		metrics.WSErrors.WithLabelValues("typing_relay_dropped").Inc()
	}
}

// forwardTyping publishes queued typing events until the hub stops.
func (h *Hub) forwardTyping() {
	for {
		select {
		case ev := <-h.typingRelay:
			ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
			if err := h.relay.Publish(ctx, ev); err != nil {
				h.log.Warn().Err(err).Str("conversation_id", ev.ConversationID).Msg("typing relay publish failed")
			}
			cancel()
		case <-h.stopped:
			return
		}
	}
}

// NotifyRead tells the room about a read receipt and refreshes the reader's
// unread counts. REST mark-read calls it so that live sockets stay in sync.
func (h *Hub) NotifyRead(ctx context.Context, conversationID, reader, sender string, count int) {
	if count == 0 {
		return
	}
	h.broadcastRoom(ctx, conversationID, Message{
		Type: EventMessagesRead,
		Data: MessagesReadPayload{ConversationID: conversationID, ReaderID: reader, SenderID: sender, Count: count},
	})
	h.pushUnread(reader, nil)
}

// attached reports whether c is still registered with the hub.
func (h *Hub) attached(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c.id]
	return ok
}

// GetClientCount returns the number of live connections.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnlineUsers returns the current presence snapshot.
func (h *Hub) OnlineUsers() []string {
	return h.registry.ListOnline()
}

// String implements fmt.Stringer for supervisor logs.
func (h *Hub) String() string {
	return "websocket-hub"
}

func (h *Hub) shutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.stopped) })
	h.typing.Close()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[uint64]*Client)
	h.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, c := range clients {
		h.rooms.LeaveAll(c.id)
		h.registry.Unregister(c.id)
		c.close()
	}
	metrics.WSConnections.Set(0)
	metrics.ChatOnlineUsers.Set(0)
	metrics.ChatActiveRooms.Set(0)

	h.log.Info().
		Str("reason", string(shutdownReason(ctx))).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}
