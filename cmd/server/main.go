// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/rendezvous/internal/api"
	"github.com/tomtom215/rendezvous/internal/chat"
	"github.com/tomtom215/rendezvous/internal/config"
	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/relay"
	"github.com/tomtom215/rendezvous/internal/store"
	"github.com/tomtom215/rendezvous/internal/supervisor"
	"github.com/tomtom215/rendezvous/internal/supervisor/services"
	"github.com/tomtom215/rendezvous/internal/upload"
	"github.com/tomtom215/rendezvous/internal/websocket"
)

//nolint:gocyclo // main wires every component in order
func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Rendezvous...")
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("addr", cfg.Server.Addr()).
		Bool("relay", cfg.NATS.Enabled).
		Msg("Configuration loaded")

	slogLogger := logging.NewSlogLogger()

	db, err := store.OpenDB(store.Options{Path: cfg.Store.Path, InMemory: cfg.Store.InMemory})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()
	if cfg.Store.InMemory {
		logging.Warn().Msg("Store is in-memory: conversations are lost on restart")
	} else {
		logging.Info().Str("path", cfg.Store.Path).Msg("Store opened")
	}

	breaker := store.NewBreakerStore(store.NewConversationStore(db), store.BreakerSettings{
		Name:         "conversation-store",
		MaxRequests:  cfg.Store.BreakerMaxRequests,
		Interval:     cfg.Store.BreakerInterval,
		Timeout:      cfg.Store.BreakerTimeout,
		MinRequests:  cfg.Store.BreakerMinRequests,
		FailureRatio: cfg.Store.BreakerFailureRatio,
	})
	users, err := store.NewCachedDirectory(store.NewUserDirectory(db), 10000, store.DefaultUserCacheTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create user cache")
	}
	defer users.Close()

	chatSvc := chat.NewService(breaker, users, chat.WithMaxContentChars(cfg.Chat.MaxContentChars))

	hubOpts := []websocket.Option{
		websocket.WithSendBuffer(cfg.Chat.SendBuffer),
		websocket.WithMaxMessageSize(cfg.Chat.MaxMessageSize),
		websocket.WithInboundRate(cfg.Chat.InboundRate, cfg.Chat.InboundBurst),
	}

	var (
		roomRelay *relay.Relay
		embedded  *relay.EmbeddedServer
	)
	if cfg.NATS.Enabled {
		natsURL := cfg.NATS.URL
		if cfg.NATS.EmbeddedServer {
			embedded, err = relay.StartEmbedded(cfg.NATS.EmbeddedHost, cfg.NATS.EmbeddedPort)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			natsURL = embedded.ClientURL()
			logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
		}

		roomRelay, err = relay.NewNATS(relay.Config{
			URL:           natsURL,
			Subject:       cfg.NATS.Subject,
			NodeID:        cfg.NATS.NodeID,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			CloseTimeout:  cfg.NATS.CloseTimeout,
		}, watermill.NewSlogLogger(slogLogger))
		if err != nil {
			logging.Fatal().Err(err).Str("url", natsURL).Msg("Failed to connect room relay")
		}
		hubOpts = append(hubOpts, websocket.WithRelay(roomRelay))
		logging.Info().
			Str("subject", cfg.NATS.Subject).
			Str("node_id", roomRelay.NodeID()).
			Msg("Room relay connected")
	} else {
		logging.Info().Msg("Room relay disabled (NATS_ENABLED=false), running as a single node")
	}

	hub := websocket.NewHub(chatSvc, hubOpts...)

	uploadCfg := cfg.Upload
	if uploadCfg.Secret == "" {
		uploadCfg.Secret = devSecret()
		logging.Warn().Msg("UPLOAD_SECRET is empty, using a random per-process secret; grants will not survive a restart")
	}
	signer, err := upload.NewSigner(uploadCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create upload signer")
	}

	mwConfig := api.DefaultChiMiddlewareConfig()
	mwConfig.CORSAllowedOrigins = cfg.Security.CORSOrigins
	mwConfig.RateLimitRequests = cfg.Security.RateLimitReqs
	mwConfig.RateLimitWindow = cfg.Security.RateLimitWindow
	mwConfig.RateLimitDisabled = cfg.Security.RateLimitDisabled

	for _, origin := range cfg.Security.CORSOrigins {
		if origin == "*" {
			logging.Warn().Msg("========================================================")
			logging.Warn().Msg("CORS allows every origin (CORS_ORIGINS=*)")
			logging.Warn().Msg("Any website can open sockets on behalf of your users")
			logging.Warn().Msg("Set CORS_ORIGINS to your app origins in production")
			logging.Warn().Msg("========================================================")
			break
		}
	}
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("========================================================")
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
		logging.Warn().Msg("Only use this for load testing")
		logging.Warn().Msg("========================================================")
	}

	handler := api.NewHandler(chatSvc, hub, signer, breaker)
	router := api.NewRouter(handler, api.NewChiMiddleware(mwConfig))

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(slogLogger, supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if !cfg.Store.InMemory {
		tree.AddDataService(store.NewGCService(db, cfg.Store.GCInterval))
	}
	tree.AddMessagingService(services.NewHubService(hub))
	if roomRelay != nil {
		tree.AddMessagingService(services.NewRelayService(roomRelay, hub.DeliverRemote))
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree...")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	if roomRelay != nil {
		if err := roomRelay.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing room relay")
		}
	}
	if embedded != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := embedded.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("Error stopping embedded NATS server")
		}
		cancel()
	}

	logging.Info().Msg("Rendezvous stopped gracefully")
}

// devSecret returns a random 32-byte hex secret. Production configs are
// rejected without UPLOAD_SECRET, so this only runs in development.
func devSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		logging.Fatal().Err(err).Msg("Failed to generate upload secret")
	}
	return hex.EncodeToString(b)
}
