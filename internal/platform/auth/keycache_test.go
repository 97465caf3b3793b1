package auth

import (
	"context"
	"sync"
	"testing"
)

func TestKeyCache_DecodesAndCaches(t *testing.T) {
	c := NewKeyCache(2)

	key, err := c.Key("plain-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(key) != "plain-secret" {
		t.Errorf("expected verbatim key, got %q", key)
	}

	key, err = c.Key("base64:aGVsbG8=")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(key) != "hello" {
		t.Errorf("expected decoded key hello, got %q", key)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 cached keys, got %d", c.Len())
	}
}

func TestKeyCache_Errors(t *testing.T) {
	c := NewKeyCache(2)
	if _, err := c.Key(""); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := c.Key("base64:!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if c.Len() != 0 {
		t.Errorf("expected failed lookups not to be cached, got %d", c.Len())
	}
}

func TestKeyCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewKeyCache(2)
	_, _ = c.Key("a")
	_, _ = c.Key("b")
	_, _ = c.Key("a") // a is now most recent
	_, _ = c.Key("c") // evicts b

	if c.Len() != 2 {
		t.Fatalf("expected bounded size 2, got %d", c.Len())
	}
	if _, ok := c.items["b"]; ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.items["a"]; !ok {
		t.Error("expected a to be retained")
	}
}

func TestKeyCache_Concurrent(t *testing.T) {
	c := NewKeyCache(4)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			secrets := []string{"s1", "s2", "s3", "s4", "s5"}
			if _, err := c.Key(secrets[i%len(secrets)]); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() > 4 {
		t.Errorf("expected at most 4 keys, got %d", c.Len())
	}
}

func TestKeyCacheContext(t *testing.T) {
	c := NewKeyCache(1)
	ctx := WithKeyCache(context.Background(), c)
	if KeyCacheFromContext(ctx) != c {
		t.Error("expected cache from context")
	}
	if KeyCacheFromContext(context.Background()) != nil {
		t.Error("expected nil without cache")
	}
}
