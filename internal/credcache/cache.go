// Package credcache holds short-lived derived credentials (provider access
// tokens, SIP provisioning secrets) behind an explicit TTL cache.
package credcache

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidTTL = errors.New("credcache: ttl must be > 0")

// Cache is a key/value store where every entry expires.
type Cache interface {
	// Get returns ok=false for missing or expired keys.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
