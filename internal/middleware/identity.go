// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package middleware

import (
	"net/http"
	"strings"

	"github.com/tomtom215/rendezvous/internal/logging"
)

// UserIDHeader carries the chat identity for clients that cannot set query parameters.
const UserIDHeader = "X-User-ID"

// UserIDParam is the handshake query parameter carrying the chat identity.
const UserIDParam = "userid"

// Identity copies the plaintext chat identity from the handshake into the
// request context. The identity is not verified here.
func Identity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if id := IdentityFromRequest(r); id != "" {
			r = r.WithContext(logging.ContextWithUserID(r.Context(), id))
		}
		next(w, r)
	}
}

// IdentityFromRequest returns the identity from the query string, falling back
// to the X-User-ID header.
func IdentityFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get(UserIDParam)); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}
