package cachestore

import (
	"context"
)

// Caches arbitrary data (usually JSON-encoded entities) under a namespace name and key.
//
// A missing key is not an error: Get returns the empty string.
type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}
