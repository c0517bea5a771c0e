// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

// Package models defines the persistent chat types shared by the store, the
// chat service, the socket hub and the REST API, together with the domain
// sentinel errors they exchange.
//
// A Conversation is identified by the unordered pair of its two participants
// and embeds its ordered message sequence. Messages are appended in the order
// the hub broadcast them; edits and deletes mutate the sequence in place.
package models
