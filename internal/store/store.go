// ABOUTME: Shared errors and JSON record helpers for the entity stores
// ABOUTME: Expired and consumed records surface uniformly as ErrNotFound

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openape/idp-gateway/internal/kv"
)

// ErrNotFound is returned when a requested entity does not exist, has
// expired, or has already been consumed. The three cases are deliberately
// indistinguishable.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when creating an entity that already exists.
var ErrConflict = errors.New("already exists")

// getJSON reads and unmarshals the record at <namespace>:<id> into out.
func getJSON(ctx context.Context, store kv.Store, namespace, id string, out any) error {
	data, err := store.Get(ctx, kv.Key(namespace, id))
	if errors.Is(err, kv.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading %s record: %w", namespace, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s record: %w", namespace, err)
	}
	return nil
}

// setJSON marshals v and writes it to <namespace>:<id>.
func setJSON(ctx context.Context, store kv.Store, namespace, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", namespace, err)
	}
	if err := store.Set(ctx, kv.Key(namespace, id), data); err != nil {
		return fmt.Errorf("writing %s record: %w", namespace, err)
	}
	return nil
}
