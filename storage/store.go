package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// Update is sent to listeners whenever a key is written. Value is the raw
// JSON now stored under Key, or nil when the key was deleted.
type Update struct {
	Key   string
	Value []byte
}

// Store holds one JSON document addressed by gjson/sjson paths.
type Store interface {
	Set(ctx context.Context, path string, value interface{}) error
	SetRaw(ctx context.Context, path string, raw []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error

	Restore(values []byte) error
	Backup() ([]byte, error)

	// ListenToUpdates returns a channel of updates that is closed when ctx
	// ends or the store is closed.
	ListenToUpdates(ctx context.Context) <-chan *Update

	Close() error
}
