// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package services

import (
	"context"
	"fmt"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/websocket"
)

// RelayRunner is satisfied by *relay.Relay.
type RelayRunner interface {
	Run(ctx context.Context, deliver func(*websocket.RoomEvent)) error
}

// RelayService feeds relayed room events into the local hub. A dropped
// subscription returns an error so the supervisor resubscribes.
type RelayService struct {
	relay   RelayRunner
	deliver func(*websocket.RoomEvent)
}

// NewRelayService wraps r. deliver is normally (*websocket.Hub).DeliverRemote.
func NewRelayService(r RelayRunner, deliver func(*websocket.RoomEvent)) *RelayService {
	return &RelayService{relay: r, deliver: deliver}
}

// Serve implements suture.Service.
func (s *RelayService) Serve(ctx context.Context) error {
	err := s.relay.Run(ctx, s.deliver)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logging.Warn().Err(err).Msg("room relay stopped, restarting")
	return fmt.Errorf("room relay: %w", err)
}

func (s *RelayService) String() string {
	return "room-relay"
}
