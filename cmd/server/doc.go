// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

/*
Package main is the entry point for the Rendezvous chat server.

Rendezvous is the realtime messaging core of a dating app backend. Matched
users exchange one-to-one messages over WebSockets, see who is online, get
typing indicators and unread counts, and bootstrap their conversations over
a small REST surface.

# Application Architecture

The server runs under a Suture v4 supervisor tree:

	RootSupervisor ("rendezvous")
	├── DataSupervisor ("data-layer")
	│   └── Badger value-log GC (disk-backed stores only)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocket Hub
	│   └── Room relay (NATS_ENABLED=true)
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 with defaults, YAML file and environment variables
 2. Logging: zerolog with JSON/console output modes
 3. Store: Badger conversation store behind a gobreaker circuit breaker
 4. Chat service: conversation, message and unread rules
 5. Relay: optional embedded NATS server plus the Watermill NATS relay
 6. WebSocket Hub: presence, rooms, typing and message fan-out
 7. Upload signer: short-lived JWT upload grants
 8. HTTP Server: Chi router with CORS, rate limiting and Prometheus metrics
 9. Supervisor Tree: Suture v4 process supervision

# Configuration

Common environment variables:

	HTTP_PORT=3000
	ENVIRONMENT=production
	CORS_ORIGINS=https://app.example.com
	STORE_PATH=/data/chat
	NATS_ENABLED=true
	NATS_URL=nats://nats:4222
	UPLOAD_BASE_URL=https://blobs.example.com/uploads
	UPLOAD_SECRET=<at least 32 characters>
	LOG_LEVEL=info

See internal/config for the complete list.

# Graceful Shutdown

SIGINT and SIGTERM cancel the root context. The HTTP server drains within
HTTP_SHUTDOWN_TIMEOUT, the hub closes every socket with a going-away frame,
and the relay, embedded NATS server and database are closed last.
*/
package main
