package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	KeySession     = "session"
	KeyCart        = "cart"
	KeyPendingCart = "pendingCart"
)

// Store is the persistent key/value medium every component reads from and
// writes to. Each call is atomic; a missing key is reported through found
// and is never an error. Delete of a missing key is not an error either.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Load decodes the JSON value stored under key into a T.
func Load[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return out, true, nil
}

func Save[T any](ctx context.Context, s Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
