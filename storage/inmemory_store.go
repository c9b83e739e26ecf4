package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const UpdateBufferSize = 255

type InmemoryStore struct {
	mu     sync.Mutex
	values []byte

	updateChans map[chan *Update]struct{}

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte("{}"),
		stop:        make(chan struct{}),
		updateChans: make(map[chan *Update]struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	close(i.stop)

	for updateChan := range i.updateChans {
		close(updateChan)
		delete(i.updateChans, updateChan)
	}

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, path string, value interface{}) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	values, err := sjson.SetBytes(i.values, path, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}

	i.commit(values, path)
	return nil
}

// SetRaw stores already encoded JSON at path.
func (i *InmemoryStore) SetRaw(ctx context.Context, path string, raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("failed to set %s: value is not valid JSON", path)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	values, err := sjson.SetRawBytes(i.values, path, raw)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}

	i.commit(values, path)
	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	result := gjson.GetBytes(i.values, path)
	if !result.Exists() {
		return nil, ErrNotFound
	}

	return []byte(result.Raw), nil
}

func (i *InmemoryStore) Delete(ctx context.Context, path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !gjson.GetBytes(i.values, path).Exists() {
		return ErrNotFound
	}

	values, err := sjson.DeleteBytes(i.values, path)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	i.values = values
	i.notify(&Update{Key: path})

	return nil
}

func (i *InmemoryStore) ListenToUpdates(ctx context.Context) <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, UpdateBufferSize)

	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans[updateChan] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-i.stop:
			return
		}

		i.mu.Lock()
		defer i.mu.Unlock()

		if _, ok := i.updateChans[updateChan]; ok {
			close(updateChan)
			delete(i.updateChans, updateChan)
		}
	}()

	return updateChan
}

func (i *InmemoryStore) Restore(values []byte) error {
	if len(values) == 0 {
		values = []byte("{}")
	}

	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return fmt.Errorf("cannot restore: not a JSON object")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

func (i *InmemoryStore) commit(values []byte, path string) {
	i.values = values
	i.notify(&Update{
		Key:   path,
		Value: []byte(gjson.GetBytes(i.values, path).Raw),
	})
}

// notify must be called with mu held. Slow listeners miss updates rather
// than block writers.
func (i *InmemoryStore) notify(update *Update) {
	if !i.isRunning() {
		return
	}

	for updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
		}
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
