// Package redisstore implements backingstore.Store on Redis.
package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/optistore/optistore/backingstore"
)

// Store implements backingstore.Store for Redis. keyPrefix namespaces all
// keys (e.g. "optistore:").
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New creates a Redis store.
func New(client redis.UniversalClient, keyPrefix string) *Store {
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) key(name string) string {
	return s.keyPrefix + name
}

// Get reads the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, backingstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put writes value under key without expiry; lifecycle is owned by the core.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// List scans for keys with the given prefix, returning them with the
// namespace stripped.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, s.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
