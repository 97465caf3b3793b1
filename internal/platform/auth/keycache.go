package auth

import (
	"container/list"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultKeyCacheSize bounds a KeyCache built with a non-positive size.
const DefaultKeyCacheSize = 16

var errEmptySecret = errors.New("auth: signing secret is empty")

// KeyCache maps signing secrets to decoded key material. It is owned by the
// process, bounded, and evicts the least recently used secret.
type KeyCache struct {
	mu    sync.Mutex
	max   int
	items map[string]*list.Element
	order *list.List
}

type keyEntry struct {
	secret string
	key    []byte
}

func NewKeyCache(size int) *KeyCache {
	if size <= 0 {
		size = DefaultKeyCacheSize
	}
	return &KeyCache{
		max:   size,
		items: make(map[string]*list.Element, size),
		order: list.New(),
	}
}

// Key returns the key material for secret, decoding it on first use.
// Secrets prefixed with "base64:" are decoded; others are used verbatim.
func (c *KeyCache) Key(secret string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[secret]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*keyEntry).key, nil
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return nil, err
	}
	c.items[secret] = c.order.PushFront(&keyEntry{secret: secret, key: key})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*keyEntry).secret)
	}
	return key, nil
}

func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errEmptySecret
	}
	if enc, ok := strings.CutPrefix(secret, "base64:"); ok {
		key, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("auth: decode signing secret: %w", err)
		}
		if len(key) == 0 {
			return nil, errEmptySecret
		}
		return key, nil
	}
	return []byte(secret), nil
}

type keyCacheKey struct{}

// WithKeyCache attaches c to ctx for handlers that sign or verify tokens.
func WithKeyCache(ctx context.Context, c *KeyCache) context.Context {
	return context.WithValue(ctx, keyCacheKey{}, c)
}

func KeyCacheFromContext(ctx context.Context) *KeyCache {
	c, _ := ctx.Value(keyCacheKey{}).(*KeyCache)
	return c
}
