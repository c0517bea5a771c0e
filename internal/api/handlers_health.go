// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package api

import (
	"net/http"
	"time"
)

// HealthLive answers liveness probes. It does not look at dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady answers readiness probes: 503 while the store breaker is open.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	storeOK := h.health == nil || h.health.Healthy()

	data := map[string]interface{}{
		"store_healthy": storeOK,
		"uptime":        time.Since(h.startTime).Seconds(),
	}
	if h.hub != nil {
		data["connections"] = h.hub.GetClientCount()
		data["online_users"] = len(h.hub.OnlineUsers())
	}

	if !storeOK {
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "conversation store unavailable", data)
		return
	}
	rw.Success(data)
}
