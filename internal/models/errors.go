// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package models

import "errors"

var (
	// ErrConversationNotFound is returned when no conversation matches an id or pair.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned when a message id is not part of its conversation.
	ErrMessageNotFound = errors.New("message not found")

	// ErrMessageConflict is returned when a message id is already taken by a
	// different message, in this conversation or any other.
	ErrMessageConflict = errors.New("message id already in use")

	// ErrUserNotFound is returned by the user directory for unknown usernames or ids.
	ErrUserNotFound = errors.New("user not found")

	// ErrNotMessageSender is returned when someone other than the sender edits or deletes a message.
	ErrNotMessageSender = errors.New("only the sender may modify a message")

	// ErrNotParticipant is returned when a user acts on a conversation they do not belong to.
	ErrNotParticipant = errors.New("user is not a participant of the conversation")

	// ErrStoreUnavailable is returned while the store circuit breaker is open.
	ErrStoreUnavailable = errors.New("conversation store unavailable")
)
