package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/luma/dgramfs/protocol"
)

type InmemoryStore struct {
	values sync.Map

	mu sync.Mutex

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		stop: make(chan struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.isRunning() {
		close(i.stop)
	}

	return nil
}

func (i *InmemoryStore) Write(ctx context.Context, name string, record *protocol.FileRecord) error {
	if !i.isRunning() {
		return ErrClosed
	}

	if name == "" {
		return ErrInvalidName
	}

	stored := record.Clone()
	stored.Name = name
	i.values.Store(name, stored)

	return nil
}

func (i *InmemoryStore) Read(ctx context.Context, name string) (*protocol.FileRecord, error) {
	if !i.isRunning() {
		return nil, ErrClosed
	}

	value, ok := i.values.Load(name)
	if !ok {
		return nil, ErrNotFound
	}

	return value.(*protocol.FileRecord).Clone(), nil
}

func (i *InmemoryStore) List(ctx context.Context) ([]string, error) {
	if !i.isRunning() {
		return nil, ErrClosed
	}

	names := make([]string, 0)
	i.values.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})

	sort.Strings(names)

	return names, nil
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
