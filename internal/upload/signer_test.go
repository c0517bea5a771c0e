// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package upload

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/rendezvous/internal/config"
	"github.com/tomtom215/rendezvous/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestSigner(t *testing.T, now time.Time) *Signer {
	t.Helper()
	s, err := NewSigner(config.UploadConfig{
		BaseURL: "https://files.example.com/uploads",
		Secret:  testSecret,
		TTL:     15 * time.Minute,
		MaxSize: 10 << 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestNewSigner(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.UploadConfig
	}{
		{"empty secret", config.UploadConfig{BaseURL: "https://x", TTL: time.Minute}},
		{"bad url", config.UploadConfig{BaseURL: "ftp://x", Secret: "s", TTL: time.Minute}},
		{"zero ttl", config.UploadConfig{BaseURL: "https://x", Secret: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSigner(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s := newTestSigner(t, now)

	g, err := s.Issue(Request{UserID: "alice", ConversationID: "c1", ContentType: models.ContentImage, FileName: "Beach.JPG"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(g.ObjectKey, "uploads/alice/2026/03/") || !strings.HasSuffix(g.ObjectKey, ".jpg") {
		t.Errorf("object key = %s", g.ObjectKey)
	}
	if !g.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("expires_at = %v", g.ExpiresAt)
	}

	u, err := url.Parse(g.URL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "files.example.com" || u.Path != "/uploads/"+g.ObjectKey || u.Query().Get("token") != g.Token {
		t.Errorf("grant url = %s", g.URL)
	}

	claims, err := s.Verify(g.Token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "alice" || claims.ObjectKey != g.ObjectKey || claims.ConversationID != "c1" || claims.MaxSize != 10<<20 {
		t.Errorf("claims = %+v", claims)
	}
}

func TestIssueRejects(t *testing.T) {
	s := newTestSigner(t, time.Now())
	tests := []struct {
		name string
		req  Request
	}{
		{"no user", Request{ContentType: models.ContentFile}},
		{"text content", Request{UserID: "alice", ContentType: models.ContentText}},
		{"unknown content", Request{UserID: "alice", ContentType: "video"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Issue(tt.req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestObjectKeyDropsOddExtensions(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, name := range []string{"", "noext", "x.tar.gz/../../etc", "a.verylongextension", "a.p$p"} {
		key := objectKey("bob", name, now)
		if strings.Count(key, ".") != 0 {
			t.Errorf("objectKey(%q) = %s, want no extension", name, key)
		}
	}
	if key := objectKey("bob", "report.PDF", now); !strings.HasSuffix(key, ".pdf") {
		t.Errorf("objectKey kept wrong extension: %s", key)
	}
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s := newTestSigner(t, now)
	g, err := s.Issue(Request{UserID: "alice", ContentType: models.ContentFile})
	if err != nil {
		t.Fatal(err)
	}

	g2, err := s.Issue(Request{UserID: "bob", ContentType: models.ContentFile})
	if err != nil {
		t.Fatal(err)
	}
	a, b := strings.Split(g.Token, "."), strings.Split(g2.Token, ".")
	tampered := a[0] + "." + b[1] + "." + a[2]

	other := newTestSigner(t, now)
	other.secret = []byte("another-secret-another-secret-xx")

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{ObjectKey: "k"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		s     *Signer
		token string
		at    time.Time
	}{
		{"expired", s, g.Token, now.Add(16 * time.Minute)},
		{"wrong secret", other, g.Token, now},
		{"tampered", s, tampered, now},
		{"alg none", s, noneToken, now},
		{"garbage", s, "not-a-token", now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			tt.s.now = func() time.Time { return at }
			if _, err := tt.s.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v", err)
			}
		})
	}
}
