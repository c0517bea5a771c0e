// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

/*
Package supervisor runs the long-lived parts of the server under suture v4.

	root ("rendezvous")
	├── data-layer
	│   └── badger value-log GC
	├── messaging-layer
	│   ├── websocket-hub
	│   └── room-relay (when NATS is enabled)
	└── api-layer
	    └── http-server

Each layer restarts its own services. A relay that loses its subscription
is restarted without touching live sockets, and a failing GC pass never takes
the HTTP listener down with it.

Supervisor events are logged through sutureslog on the zerolog-backed slog
handler from the logging package.
*/
package supervisor
