// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/rendezvous/internal/models"
	"github.com/tomtom215/rendezvous/internal/upload"
	"github.com/tomtom215/rendezvous/internal/validation"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

var (
	errMissingIdentity = errors.New("userid query parameter or X-User-ID header is required")
	errBadBody         = errors.New("invalid JSON body")
)

// writeServiceError maps chat and store errors onto HTTP statuses.
func writeServiceError(rw *ResponseWriter, err error) {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
	case errors.Is(err, errBadBody):
		rw.BadRequest(err.Error())
	case errors.Is(err, errMissingIdentity):
		rw.Error(http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, models.ErrNotParticipant), errors.Is(err, models.ErrNotMessageSender):
		rw.Error(http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, models.ErrConversationNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrUserNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, models.ErrStoreUnavailable):
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "conversation store unavailable")
	case errors.Is(err, upload.ErrInvalidRequest):
		rw.BadRequest(err.Error())
	case errors.Is(err, upload.ErrInvalidToken):
		rw.Error(http.StatusUnauthorized, ErrCodeUnauthorized, "invalid upload token")
	default:
		rw.InternalError(err)
	}
}

// decodeJSON reads a bounded JSON body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s", errBadBody, strings.TrimSpace(err.Error()))
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		return verr
	}
	return nil
}
