// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/rendezvous/internal/chat"
	"github.com/tomtom215/rendezvous/internal/config"
	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/models"
	"github.com/tomtom215/rendezvous/internal/store"
	"github.com/tomtom215/rendezvous/internal/upload"
	"github.com/tomtom215/rendezvous/internal/websocket"
)

//nolint:gochecknoinits // Test setup requires init for logger configuration
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type testServer struct {
	srv *httptest.Server
	svc *chat.Service
	hub *websocket.Hub
}

type fixedHealth bool

func (f fixedHealth) Healthy() bool { return bool(f) }

type serverOption func(*ChiMiddlewareConfig, *Handler)

func setupServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	db, err := store.OpenDB(store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	svc := chat.NewService(store.NewConversationStore(db), store.NewUserDirectory(db))

	hub := websocket.NewHub(svc)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	signer, err := upload.NewSigner(config.UploadConfig{
		BaseURL: "https://files.example.com/uploads",
		Secret:  "test_secret_with_at_least_32_characters",
		TTL:     15 * time.Minute,
		MaxSize: 1 << 20,
	})
	if err != nil {
		t.Fatal(err)
	}

	mwCfg := DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = []string{"https://app.example.com"}
	mwCfg.RateLimitDisabled = true
	h := NewHandler(svc, hub, signer, fixedHealth(true))
	for _, opt := range opts {
		opt(mwCfg, h)
	}

	srv := httptest.NewServer(NewRouter(h, NewChiMiddleware(mwCfg)).Setup())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, svc: svc, hub: hub}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func (ts *testServer) do(t *testing.T, method, path, user string, body interface{}) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			rd = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var env envelope
	if resp.Header.Get("Content-Type") == "application/json; charset=utf-8" {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func (ts *testServer) register(t *testing.T, name string) models.User {
	t.Helper()
	status, env := ts.do(t, http.MethodPost, "/api/v1/chat/users", "", map[string]string{"username": name})
	if status != http.StatusCreated && status != http.StatusOK {
		t.Fatalf("register %s: %d %+v", name, status, env.Error)
	}
	var u models.User
	decodeData(t, env, &u)
	return u
}

func (ts *testServer) conversation(t *testing.T, user, peer string) ConversationResponse {
	t.Helper()
	status, env := ts.do(t, http.MethodGet, "/api/v1/chat/conversations?user="+user+"&peer="+peer, "", nil)
	if status != http.StatusOK {
		t.Fatalf("conversation %s/%s: %d %+v", user, peer, status, env.Error)
	}
	var c ConversationResponse
	decodeData(t, env, &c)
	return c
}

func (ts *testServer) persist(t *testing.T, conv ConversationResponse, sender, content string) {
	t.Helper()
	msg, err := ts.svc.PrepareMessage(sender, conv.Participants, &chat.Draft{Content: content, ContentType: models.ContentText})
	if err != nil {
		t.Fatal(err)
	}
	if err := ts.svc.Persist(context.Background(), conv.ConversationID, msg); err != nil {
		t.Fatal(err)
	}
}
