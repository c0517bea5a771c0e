// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package services

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/websocket"
)

//nolint:gochecknoinits // Test setup requires init for logger configuration
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*HubService)(nil)
	_ suture.Service = (*RelayService)(nil)
)

type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	shutdowns   atomic.Int32
	stop        chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{stop: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stop
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stop)
	return m.shutdownErr
}

func TestHTTPServerService(t *testing.T) {
	tests := []struct {
		name          string
		listenErr     error
		shutdownErr   error
		cancel        bool
		wantErr       bool
		wantShutdowns int32
	}{
		{"graceful shutdown", nil, nil, true, false, 1},
		{"listen failure", errors.New("address in use"), nil, false, true, 0},
		{"shutdown failure", nil, errors.New("timeout"), true, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newMockHTTPServer()
			srv.listenErr = tt.listenErr
			srv.shutdownErr = tt.shutdownErr
			svc := NewHTTPServerService(srv, time.Second)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- svc.Serve(ctx) }()
			if tt.cancel {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}
			defer cancel()

			select {
			case err := <-done:
				isFailure := err != nil && !errors.Is(err, context.Canceled)
				if isFailure != tt.wantErr {
					t.Errorf("Serve() = %v, wantErr %v", err, tt.wantErr)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Serve did not return")
			}
			if got := srv.shutdowns.Load(); got != tt.wantShutdowns {
				t.Errorf("Shutdown called %d times, want %d", got, tt.wantShutdowns)
			}
		})
	}
	if NewHTTPServerService(newMockHTTPServer(), 0).shutdownTimeout != 10*time.Second {
		t.Error("zero timeout should default to 10s")
	}
}

func TestHTTPServerServiceRealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := &http.Server{Addr: addr, Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), ReadHeaderTimeout: time.Second}
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get("http://" + addr); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
}

type fakeHub struct{ runs atomic.Int32 }

func (f *fakeHub) RunWithContext(ctx context.Context) error {
	f.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubService(t *testing.T) {
	hub := &fakeHub{}
	svc := NewHubService(hub)
	if svc.String() != "websocket-hub" {
		t.Errorf("String() = %q", svc.String())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() = %v", err)
	}
	if hub.runs.Load() != 1 {
		t.Error("hub loop not run")
	}
}

type fakeRelay struct {
	err    error
	events []*websocket.RoomEvent
}

func (f *fakeRelay) Run(ctx context.Context, deliver func(*websocket.RoomEvent)) error {
	for _, ev := range f.events {
		deliver(ev)
	}
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRelayService(t *testing.T) {
	var delivered atomic.Int32
	deliver := func(*websocket.RoomEvent) { delivered.Add(1) }

	t.Run("delivers until canceled", func(t *testing.T) {
		r := &fakeRelay{events: []*websocket.RoomEvent{{ConversationID: "c1"}, {ConversationID: "c2"}}}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- NewRelayService(r, deliver).Serve(ctx) }()
		time.Sleep(20 * time.Millisecond)
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
		if delivered.Load() != 2 {
			t.Errorf("delivered %d events", delivered.Load())
		}
	})

	t.Run("lost subscription is an error", func(t *testing.T) {
		r := &fakeRelay{err: errors.New("subscription closed")}
		err := NewRelayService(r, deliver).Serve(context.Background())
		if err == nil || errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want restartable error", err)
		}
	})
}
