package storage

import (
	"context"
	"errors"
)

// Store is a key-value byte store used to persist node values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the value stored under key.
	// Returns (nil, nil) if the key doesn't exist.
	// Returns (nil, err) on backend errors.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores data under key, overwriting any previous value.
	Save(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the stored keys in sorted order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// BatchSaver is implemented by stores that can save several keys in one
// round trip. Implementations that don't support atomicity may save
// sequentially.
type BatchSaver interface {
	SaveAll(ctx context.Context, values map[string][]byte) error
}

var (
	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("storage: store is closed")

	// ErrEmptyKey is returned for operations on the empty key.
	ErrEmptyKey = errors.New("storage: empty key")
)

// SaveAll saves values with s.SaveAll when s is a BatchSaver and key by key
// otherwise.
func SaveAll(ctx context.Context, s Store, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	if b, ok := s.(BatchSaver); ok {
		return b.SaveAll(ctx, values)
	}
	for key, data := range values {
		if err := s.Save(ctx, key, data); err != nil {
			return err
		}
	}
	return nil
}

// Clear deletes every key of s.
func Clear(ctx context.Context, s Store) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
