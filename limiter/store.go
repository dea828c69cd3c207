package limiter

import (
	"context"
)

// Store is the key-value backend that owns bucket state. Implementations
// need no atomicity across keys; Get reports false for an absent key.
type Store interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64) error
}

// NopStore is the null cache: it forgets every write. The controller
// refuses to run with it, since limits would never be enforced.
type NopStore struct{}

func (NopStore) Get(context.Context, string) (int64, bool, error) { return 0, false, nil }

func (NopStore) Set(context.Context, string, int64) error { return nil }

// isNopStore reports whether s cannot hold state.
func isNopStore(s Store) bool {
	switch s.(type) {
	case nil, NopStore, *NopStore:
		return true
	}
	return false
}
