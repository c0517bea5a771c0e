// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

// Package store persists conversations and the user directory in BadgerDB.
//
// Key layout:
//
//	conv:<id>                     conversation document (JSON, messages embedded)
//	pair:<low>\x00<high>          conversation id for an unordered participant pair
//	userconv:<user>\x00<convID>   membership index used by unread scans
//	user:id:<id>                  user document (JSON)
//	user:name:<username>          user id
//	msg:<messageID>               conversation id owning a message id
//
// Identities never contain control characters, so \x00 is a safe separator.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/tomtom215/rendezvous/internal/logging"
)

const (
	convKeyPrefix     = "conv:"
	pairKeyPrefix     = "pair:"
	userConvKeyPrefix = "userconv:"
	msgKeyPrefix      = "msg:"
	userIDKeyPrefix   = "user:id:"
	userNameKeyPrefix = "user:name:"

	keySeparator = "\x00"

	// maxTxnRetries bounds retries of read-modify-write transactions that
	// lost an optimistic concurrency race.
	maxTxnRetries = 5
)

// Options configures OpenDB.
type Options struct {
	Path     string
	InMemory bool
}

// OpenDB opens the badger database. Badger's own logger is silenced; store
// failures are reported through the returned errors.
func OpenDB(opts Options) (*badger.DB, error) {
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}
	return db, nil
}

// update runs fn in a read-write transaction, retrying on badger.ErrConflict.
func update(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		logging.Ctx(ctx).Debug().Int("attempt", attempt+1).Msg("badger transaction conflict, retrying")
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

// view runs fn in a read-only transaction.
func view(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.View(fn)
}

// GCService periodically reclaims badger value-log space. It implements
// suture.Service.
type GCService struct {
	db       *badger.DB
	interval time.Duration
	log      zerolog.Logger
}

// NewGCService returns a GC service running every interval.
func NewGCService(db *badger.DB, interval time.Duration) *GCService {
	return &GCService{db: db, interval: interval, log: logging.WithComponent("badger-gc")}
}

// Serve runs value-log GC until ctx is canceled.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.collect()
		}
	}
}

// collect rewrites value-log files until badger reports nothing to reclaim.
func (s *GCService) collect() {
	for {
		err := s.db.RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) && !errors.Is(err, badger.ErrGCInMemoryMode) {
			s.log.Warn().Err(err).Msg("badger value log GC failed")
		}
		return
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *GCService) String() string {
	return "badger-gc"
}
