// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

// Package relay carries room events between nodes so that two participants
// connected to different processes still share a room.
//
// Every node publishes its room broadcasts on one subject and subscribes to
// it without a queue group, so each node sees every event. Events are tagged
// with the publishing node id and a node drops its own. Relayed events are
// delivered to local room members only and never re-published.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/metrics"
	"github.com/tomtom215/rendezvous/internal/websocket"
)

// MetadataOrigin names the node that published an event.
const MetadataOrigin = "origin_node"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("relay is closed")

// Config configures a NATS-backed relay.
type Config struct {
	URL           string
	Subject       string
	NodeID        string
	MaxReconnects int
	ReconnectWait time.Duration
	CloseTimeout  time.Duration
}

// Relay publishes local room events and feeds remote ones to a handler.
type Relay struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	subject    string
	nodeID     string
	logger     watermill.LoggerAdapter
	log        zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// New builds a relay over any watermill transport.
func New(pub message.Publisher, sub message.Subscriber, subject, nodeID string, logger watermill.LoggerAdapter) *Relay {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	return &Relay{
		publisher:  pub,
		subscriber: sub,
		subject:    subject,
		nodeID:     nodeID,
		logger:     logger,
		log:        logging.WithComponent("room-relay"),
	}
}

// NewNATS connects a publisher and a subscriber to core NATS.
func NewNATS(cfg Config, logger watermill.LoggerAdapter) (*Relay, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if cfg.Subject == "" {
		return nil, errors.New("relay subject is required")
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	// Core NATS only. A node that is down misses events and its clients
	// re-sync through joinRoom history.
	noJetStream := wmNats.JetStreamConfig{Disabled: true}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   noJetStream,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		SubscribersCount: 1,
		CloseTimeout:     cfg.CloseTimeout,
		AckWaitTimeout:   5 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        noJetStream,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return New(pub, sub, cfg.Subject, cfg.NodeID, logger), nil
}

// NodeID returns the id stamped on published events.
func (r *Relay) NodeID() string {
	return r.nodeID
}

// Publish sends ev to the other nodes.
func (r *Relay) Publish(ctx context.Context, ev *websocket.RoomEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.RelayPublished.WithLabelValues("encode_error").Inc()
		return fmt.Errorf("encode room event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataOrigin, r.nodeID)
	msg.SetContext(ctx)

	if err := r.publisher.Publish(r.subject, msg); err != nil {
		metrics.RelayPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish room event: %w", err)
	}
	metrics.RelayPublished.WithLabelValues("ok").Inc()
	return nil
}

// Run subscribes and hands every remote event to deliver until ctx is done.
func (r *Relay) Run(ctx context.Context, deliver func(*websocket.RoomEvent)) error {
	messages, err := r.subscriber.Subscribe(ctx, r.subject)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	r.log.Info().Str("subject", r.subject).Str("node_id", r.nodeID).Msg("room relay subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("relay subscription closed")
			}
			r.handle(msg, deliver)
		}
	}
}

func (r *Relay) handle(msg *message.Message, deliver func(*websocket.RoomEvent)) {
	// Core NATS does not redeliver, so every branch acks.
	defer msg.Ack()

	if msg.Metadata.Get(MetadataOrigin) == r.nodeID {
		metrics.RelayConsumed.WithLabelValues("own_origin").Inc()
		return
	}

	var ev websocket.RoomEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		metrics.RelayConsumed.WithLabelValues("decode_error").Inc()
		r.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable room event")
		return
	}
	deliver(&ev)
	metrics.RelayConsumed.WithLabelValues("delivered").Inc()
}

// Close shuts down both sides of the transport.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	return errors.Join(r.publisher.Close(), r.subscriber.Close())
}
