// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

/*
Package websocket is the realtime half of the chat core.

A Hub owns four pieces of per-node state:

  - Registry: user → live connection ids, the source of presence
  - Rooms: conversation id → subscribed connection ids
  - Debouncer: the idle/typing state machine per (conversation, receiver)
  - a keyed mutex serializing sends within one conversation

Each Client runs a readPump that decodes frames and dispatches them in
receipt order, and a writePump that drains a bounded queue. A client whose
queue is full is dropped rather than allowed to stall its room.

Wire format:

	→ {"type":"joinRoom","request_id":"r1","data":{"userId":"alice","peerId":"bob"}}
	← {"type":"previousMessages","data":{"conversationId":"…","participants":["alice","bob"],"messages":[]}}
	→ {"type":"sendMessages","request_id":"r2","data":{"conversationId":"…","message":{"content":"hi","content_type":"text"}}}
	← {"type":"recieveMessage","data":{"conversationId":"…","id":"…","sender":"alice",…}}
	← {"type":"ack","data":{"request_id":"r2","event":"sendMessages","ok":true,"message_id":"…"}}

Event names form a closed set (EventKind). Unknown names, and server-sent
names arriving from a client, are answered with an UNKNOWN_EVENT ack.

Sends broadcast to the room before they are persisted. Both steps run under
the conversation lock, so the order room members observe is the order in
which messages were appended. A failed append is reported to the sender as
PERSIST_FAILED and the broadcast stands.

When a Relay is configured every room event is also published for other
nodes, which deliver it to their local members through DeliverRemote.
*/
package websocket
