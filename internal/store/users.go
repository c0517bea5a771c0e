// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/rendezvous/internal/models"
)

// UserDirectory maps usernames to chat identities.
type UserDirectory struct {
	db  *badger.DB
	now func() time.Time
}

// NewUserDirectory returns a directory over db.
func NewUserDirectory(db *badger.DB) *UserDirectory {
	return &UserDirectory{db: db, now: time.Now}
}

func loadUser(txn *badger.Txn, id string) (*models.User, error) {
	item, err := txn.Get([]byte(userIDKeyPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	var u models.User
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &u)
	}); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return &u, nil
}

func lookupUsername(txn *badger.Txn, username string) (string, error) {
	item, err := txn.Get([]byte(userNameKeyPrefix + username))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", models.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get username index: %w", err)
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return "", fmt.Errorf("read username index: %w", err)
	}
	return string(id), nil
}

// Register adds username to the directory. Registering an existing username
// returns the existing user and created=false.
func (d *UserDirectory) Register(ctx context.Context, username string) (user *models.User, created bool, err error) {
	err = update(ctx, d.db, func(txn *badger.Txn) error {
		created = false
		id, err := lookupUsername(txn, username)
		if err == nil {
			user, err = loadUser(txn, id)
			return err
		}
		if !errors.Is(err, models.ErrUserNotFound) {
			return err
		}

		user = &models.User{ID: uuid.New().String(), Username: username, CreatedAt: d.now().UTC()}
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}
		if err := txn.Set([]byte(userIDKeyPrefix+user.ID), data); err != nil {
			return fmt.Errorf("set user: %w", err)
		}
		if err := txn.Set([]byte(userNameKeyPrefix+username), []byte(user.ID)); err != nil {
			return fmt.Errorf("set username index: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// GetByUsername resolves a username to its user record.
func (d *UserDirectory) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user *models.User
	err := view(ctx, d.db, func(txn *badger.Txn) error {
		id, err := lookupUsername(txn, username)
		if err != nil {
			return err
		}
		user, err = loadUser(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetByID resolves a chat identity to its user record.
func (d *UserDirectory) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user *models.User
	err := view(ctx, d.db, func(txn *badger.Txn) error {
		var err error
		user, err = loadUser(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsernames returns every registered username in ascending order.
func (d *UserDirectory) ListUsernames(ctx context.Context) ([]string, error) {
	names := []string{}
	err := view(ctx, d.db, func(txn *badger.Txn) error {
		prefix := []byte(userNameKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
