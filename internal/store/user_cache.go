// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/tomtom215/rendezvous/internal/models"
)

// DefaultUserCacheTTL bounds how long a resolved username is served from memory.
const DefaultUserCacheTTL = 10 * time.Minute

// CachedDirectory fronts a UserDirectory with a ristretto cache keyed by
// username. Usernames never change owner, so only misses and registrations
// touch badger. Not-found results are not cached.
type CachedDirectory struct {
	*UserDirectory
	cache *ristretto.Cache[string, *models.User]
	ttl   time.Duration
}

// NewCachedDirectory wraps dir. maxEntries bounds the cache size.
func NewCachedDirectory(dir *UserDirectory, maxEntries int64, ttl time.Duration) (*CachedDirectory, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = DefaultUserCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *models.User]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}
	return &CachedDirectory{UserDirectory: dir, cache: cache, ttl: ttl}, nil
}

// Register registers username and primes the cache with the result.
func (d *CachedDirectory) Register(ctx context.Context, username string) (*models.User, bool, error) {
	user, created, err := d.UserDirectory.Register(ctx, username)
	if err != nil {
		return nil, false, err
	}
	d.cache.SetWithTTL(username, user, 1, d.ttl)
	return user, created, nil
}

// GetByUsername resolves username, consulting the cache first.
func (d *CachedDirectory) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if user, ok := d.cache.Get(username); ok {
		return user, nil
	}
	user, err := d.UserDirectory.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	d.cache.SetWithTTL(username, user, 1, d.ttl)
	return user, nil
}

// Close releases the cache goroutines. The underlying directory is untouched.
func (d *CachedDirectory) Close() {
	d.cache.Close()
}
