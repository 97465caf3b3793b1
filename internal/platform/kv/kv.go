// Package kv defines the key-value contract the master engine projects into
// and two implementations: Redis for deployments and Memory for development
// and tests.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// DefaultListLimit caps a single List page when the caller passes no limit.
const DefaultListLimit = 1000

// ListOptions selects one page of keys under Prefix.
type ListOptions struct {
	Prefix string
	Cursor string
	Limit  int
}

// ListResult is one page of keys. Cursor is empty when Complete is true.
type ListResult struct {
	Keys     []string
	Cursor   string
	Complete bool
}

// Store is the key-value contract. Put with a zero ttl never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Ping(ctx context.Context) error
}

// ListAll walks every page under prefix and calls fn once per key, even when
// the store repeats a key across pages as SCAN may. fn returning an error
// stops the walk.
func ListAll(ctx context.Context, s Store, prefix string, pageSize int, fn func(key string) error) error {
	cursor := ""
	seen := make(map[string]struct{})
	for {
		page, err := s.List(ctx, ListOptions{Prefix: prefix, Cursor: cursor, Limit: pageSize})
		if err != nil {
			return err
		}
		for _, k := range page.Keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			if err := fn(k); err != nil {
				return err
			}
		}
		if page.Complete || page.Cursor == "" {
			return nil
		}
		cursor = page.Cursor
	}
}
