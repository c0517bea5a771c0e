// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/metrics"
	"github.com/tomtom215/rendezvous/internal/models"
)

// Conversations is the operation set guarded by the circuit breaker.
type Conversations interface {
	FindByParticipants(ctx context.Context, a, b string) (*models.Conversation, error)
	Create(ctx context.Context, a, b string) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	MatchMessage(ctx context.Context, conversationID string, msg *models.Message) (bool, error)
	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error
	MarkRead(ctx context.Context, conversationID, reader, sender string) (int, error)
	EditMessage(ctx context.Context, conversationID, messageID, editor, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID, requester string) error
	ListByParticipant(ctx context.Context, user string) ([]*models.Conversation, error)
}

// BreakerSettings configures the store circuit breaker.
type BreakerSettings struct {
	Name         string
	MaxRequests  uint32        // probes allowed while half-open
	Interval     time.Duration // closed-state count reset period
	Timeout      time.Duration // open duration before probing
	MinRequests  uint32        // requests needed before the ratio is considered
	FailureRatio float64
}

// DefaultBreakerSettings returns the production breaker thresholds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "conversation-store",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// BreakerStore wraps a Conversations implementation with a circuit breaker.
// Domain outcomes (not found, forbidden edits, canceled requests) count as
// successes; only infrastructure failures trip the breaker. While open, every
// call fails fast with models.ErrStoreUnavailable.
type BreakerStore struct {
	inner Conversations
	cb    *gobreaker.CircuitBreaker[any]
	name  string
}

// NewBreakerStore wraps inner.
func NewBreakerStore(inner Conversations, s BreakerSettings) *BreakerStore {
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRatio {
				logging.Warn().Str("breaker", s.Name).Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).Msg("opening store circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("store circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: isSuccessful,
	})

	return &BreakerStore{inner: inner, cb: cb, name: s.Name}
}

func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, models.ErrConversationNotFound) ||
		errors.Is(err, models.ErrMessageNotFound) ||
		errors.Is(err, models.ErrNotMessageSender) ||
		errors.Is(err, models.ErrMessageConflict) ||
		errors.Is(err, context.Canceled)
}

// State returns the current breaker state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

// Healthy reports whether the breaker lets requests through.
func (s *BreakerStore) Healthy() bool {
	return s.cb.State() != gobreaker.StateOpen
}

func (s *BreakerStore) execute(op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	result, err := s.cb.Execute(fn)
	metrics.RecordStoreOperation(op, time.Since(start), err)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(s.name, "rejected").Inc()
		return nil, fmt.Errorf("%w: %s", models.ErrStoreUnavailable, err.Error())
	case err != nil && !isSuccessful(err):
		metrics.CircuitBreakerRequests.WithLabelValues(s.name, "failure").Inc()
		return nil, err
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(s.name, "success").Inc()
		return result, err
	}
}

// castResult type-asserts a breaker result.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// FindByParticipants implements Conversations.
func (s *BreakerStore) FindByParticipants(ctx context.Context, a, b string) (*models.Conversation, error) {
	return castResult[*models.Conversation](s.execute("find_by_participants", func() (any, error) {
		return s.inner.FindByParticipants(ctx, a, b)
	}))
}

// Create implements Conversations.
func (s *BreakerStore) Create(ctx context.Context, a, b string) (*models.Conversation, error) {
	return castResult[*models.Conversation](s.execute("create", func() (any, error) {
		return s.inner.Create(ctx, a, b)
	}))
}

// Get implements Conversations.
func (s *BreakerStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return castResult[*models.Conversation](s.execute("get", func() (any, error) {
		return s.inner.Get(ctx, id)
	}))
}

// MatchMessage implements Conversations.
func (s *BreakerStore) MatchMessage(ctx context.Context, conversationID string, msg *models.Message) (bool, error) {
	return castResult[bool](s.execute("match_message", func() (any, error) {
		return s.inner.MatchMessage(ctx, conversationID, msg)
	}))
}

// AppendMessage implements Conversations.
func (s *BreakerStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	_, err := s.execute("append_message", func() (any, error) {
		return nil, s.inner.AppendMessage(ctx, conversationID, msg)
	})
	return err
}

// MarkRead implements Conversations.
func (s *BreakerStore) MarkRead(ctx context.Context, conversationID, reader, sender string) (int, error) {
	return castResult[int](s.execute("mark_read", func() (any, error) {
		return s.inner.MarkRead(ctx, conversationID, reader, sender)
	}))
}

// EditMessage implements Conversations.
func (s *BreakerStore) EditMessage(ctx context.Context, conversationID, messageID, editor, content string) (*models.Message, error) {
	return castResult[*models.Message](s.execute("edit_message", func() (any, error) {
		return s.inner.EditMessage(ctx, conversationID, messageID, editor, content)
	}))
}

// DeleteMessage implements Conversations.
func (s *BreakerStore) DeleteMessage(ctx context.Context, conversationID, messageID, requester string) error {
	_, err := s.execute("delete_message", func() (any, error) {
		return nil, s.inner.DeleteMessage(ctx, conversationID, messageID, requester)
	})
	return err
}

// ListByParticipant implements Conversations.
func (s *BreakerStore) ListByParticipant(ctx context.Context, user string) ([]*models.Conversation, error) {
	return castResult[[]*models.Conversation](s.execute("list_by_participant", func() (any, error) {
		return s.inner.ListByParticipant(ctx, user)
	}))
}
