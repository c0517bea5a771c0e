// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

// Package upload issues short-lived, signed upload-delegation grants.
//
// The chat core never stores file bytes. A client that wants to send a file
// or image asks for a grant, uploads straight to the blob gateway at the
// grant URL, and then sends a message whose content_link points at the
// object. The gateway checks the token against /uploads/verify (or shares
// the secret and calls Verify itself).
package upload

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/rendezvous/internal/config"
	"github.com/tomtom215/rendezvous/internal/metrics"
	"github.com/tomtom215/rendezvous/internal/models"
)

const (
	issuer   = "rendezvous"
	audience = "blob-gateway"
)

var (
	// ErrInvalidRequest is returned for grant requests that cannot be signed.
	ErrInvalidRequest = errors.New("invalid upload request")

	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid upload token")
)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Claims are the signed contents of an upload token.
type Claims struct {
	ObjectKey      string             `json:"object_key"`
	ContentType    models.ContentType `json:"content_type"`
	ConversationID string             `json:"conversation_id,omitempty"`
	MaxSize        int64              `json:"max_size"`
	jwt.RegisteredClaims
}

// Request describes the object a user wants to upload.
type Request struct {
	UserID         string             `json:"userId" validate:"required,identity"`
	ConversationID string             `json:"conversationId,omitempty"`
	ContentType    models.ContentType `json:"content_type" validate:"required,oneof=file image"`
	FileName       string             `json:"file_name,omitempty" validate:"omitempty,max=255"`
}

// Grant is returned to the client.
type Grant struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ObjectKey string    `json:"object_key"`
	MaxSize   int64     `json:"max_size"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Signer signs and verifies grants with HS256.
type Signer struct {
	secret  []byte
	baseURL *url.URL
	ttl     time.Duration
	maxSize int64
	now     func() time.Time
}

// NewSigner builds a signer from the upload configuration.
func NewSigner(cfg config.UploadConfig) (*Signer, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("UPLOAD_SECRET is required but was empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("upload base URL %q is not an http(s) URL", cfg.BaseURL)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("upload TTL must be positive")
	}
	return &Signer{
		secret:  []byte(cfg.Secret),
		baseURL: base,
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     time.Now,
	}, nil
}

// Issue signs a grant for req.
func (s *Signer) Issue(req Request) (*Grant, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if !req.ContentType.CarriesFile() {
		return nil, fmt.Errorf("%w: content_type %q does not carry a file", ErrInvalidRequest, req.ContentType)
	}

	now := s.now().UTC()
	expires := now.Add(s.ttl)
	key := objectKey(req.UserID, req.FileName, now)

	claims := &Claims{
		ObjectKey:      key,
		ContentType:    req.ContentType,
		ConversationID: req.ConversationID,
		MaxSize:        s.maxSize,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   req.UserID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload token: %w", err)
	}

	u := *s.baseURL
	u.Path = path.Join(u.Path, key)
	q := u.Query()
	q.Set("token", signed)
	u.RawQuery = q.Encode()

	metrics.UploadGrantsIssued.Inc()
	return &Grant{
		URL:       u.String(),
		Token:     signed,
		ObjectKey: key,
		MaxSize:   s.maxSize,
		ExpiresAt: expires,
	}, nil
}

// Verify checks signature, algorithm, issuer, audience and lifetime.
func (s *Signer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ObjectKey == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TTL returns the grant lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// objectKey lays objects out as uploads/<user>/<yyyy>/<mm>/<uuid><ext>.
func objectKey(user, fileName string, now time.Time) string {
	ext := strings.ToLower(path.Ext(fileName))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return fmt.Sprintf("uploads/%s/%04d/%02d/%s%s",
		url.PathEscape(user), now.Year(), int(now.Month()), uuid.New().String(), ext)
}
