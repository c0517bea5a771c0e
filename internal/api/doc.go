// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

/*
Package api exposes the chat core over HTTP.

Routes:

	GET  /api/v1/health/live
	GET  /api/v1/health/ready
	GET  /metrics

	POST /api/v1/chat/users                       register a username
	GET  /api/v1/chat/users                       list usernames
	GET  /api/v1/chat/conversations?user=&peer=   get-or-create by username pair
	GET  /api/v1/chat/conversations/{id}/messages history, caller must be a participant
	GET  /api/v1/chat/unread/{username}           unread counts per sender
	POST /api/v1/chat/read                        mark a sender's messages read
	POST /api/v1/chat/uploads                     issue an upload grant
	GET  /api/v1/chat/uploads/verify?token=       check an upload grant
	GET  /api/v1/chat/ws?userid=                  socket upgrade

The caller's identity is the plaintext userid query parameter or X-User-ID
header. Nothing here verifies it.

Every JSON response uses APIResponse. Errors carry a machine-readable code
that matches the socket ack codes.
*/
package api
