// ABOUTME: Store interface, key helpers, and the deployment prefix wrapper
// ABOUTME: Defines the get/set/delete/list contract shared by all backends

package kv

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is the minimal key-value contract the entity stores are built on.
// Implementations must be safe for concurrent use. Delete of an absent key
// is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// ListKeys returns every key starting with prefix, in no particular order.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Key joins a namespace and an identifier into the canonical
// "<namespace>:<id>" form used throughout the gateway.
func Key(namespace, id string) string {
	return namespace + ":" + id
}

// prefixed wraps a Store and scopes every key under "<prefix>:".
type prefixed struct {
	inner  Store
	prefix string
}

// Prefixed returns a view of store in which all keys are transparently
// prefixed with "<prefix>:". An empty prefix returns store unchanged.
func Prefixed(store Store, prefix string) Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return store
	}
	return &prefixed{inner: store, prefix: prefix + ":"}
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *prefixed) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.inner.ListKeys(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, p.prefix))
	}
	return out, nil
}

func (p *prefixed) Close() error {
	return p.inner.Close()
}
