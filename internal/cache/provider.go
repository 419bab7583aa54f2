// Package cache provides the key/value backends used for replay detection.
package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the minimal cache operations needed by the verifier.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// Prefixed namespaces every key of an underlying provider, so several deployments can share
// one Redis database without their replay keys colliding.
type Prefixed struct {
	Provider
	prefix string
}

// WithPrefix wraps p. An empty prefix returns p unchanged.
func WithPrefix(p Provider, prefix string) Provider {
	if prefix == "" {
		return p
	}
	return &Prefixed{Provider: p, prefix: prefix}
}

// Get implements Provider.
func (p *Prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Provider.Get(ctx, p.prefix+key)
}

// Set implements Provider.
func (p *Prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.Provider.Set(ctx, p.prefix+key, value, ttl)
}

// SetNX implements Provider.
func (p *Prefixed) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.Provider.SetNX(ctx, p.prefix+key, value, ttl)
}

// Del implements Provider.
func (p *Prefixed) Del(ctx context.Context, key string) error {
	return p.Provider.Del(ctx, p.prefix+key)
}
