package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrClosed = errors.New("store is closed")

type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte

	// stop will be closed when Close() is called
	stop chan struct{}
	once sync.Once
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values: []byte("{}"),
		stop:   make(chan struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.once.Do(func() {
		close(i.stop)
	})

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key string, value interface{}) (err error) {
	if !i.isRunning() {
		return ErrClosed
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	values, err := sjson.SetBytes(i.values, key, value)
	if err != nil {
		return err
	}

	i.values = values
	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !i.isRunning() {
		return nil, ErrClosed
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.values, key)
	if !result.Exists() {
		return nil, ErrNotFound
	}

	// Copy out, the backing buffer is replaced on every write.
	return []byte(result.Raw), nil
}

func (i *InmemoryStore) Delete(ctx context.Context, key string) error {
	if !i.isRunning() {
		return ErrClosed
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if !gjson.GetBytes(i.values, key).Exists() {
		return ErrNotFound
	}

	values, err := sjson.DeleteBytes(i.values, key)
	if err != nil {
		return err
	}

	i.values = values
	return nil
}

func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) {
		return errors.New("restore: not valid JSON")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte{}, values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte{}, i.values...), nil
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
