package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	AccountStore
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{AccountStore{b: &memoryBackend{
		data:  make(map[string][]byte),
		locks: newKeyLocks(),
	}}}
}

type memoryBackend struct {
	mu    sync.RWMutex
	data  map[string][]byte // values are never mutated in place
	locks *keyLocks
}

func (b *memoryBackend) begin(ctx context.Context, keys []string) (txn, error) {
	release, err := b.locks.acquire(ctx, keys)
	if err != nil {
		return nil, err
	}
	return &memoryTxn{b: b, release: release}, nil
}

func (b *memoryBackend) get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (b *memoryBackend) scan(_ context.Context, prefix string) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		values = append(values, b.data[k])
	}
	return values, nil
}

func (b *memoryBackend) close() error { return nil }

type memoryTxn struct {
	b       *memoryBackend
	release func()
}

func (t *memoryTxn) get(ctx context.Context, key string) ([]byte, error) {
	return t.b.get(ctx, key)
}

// commit applies every write under one lock, so readers observe all of a
// transaction or none of it.
func (t *memoryTxn) commit(_ context.Context, puts map[string][]byte, dels []string) error {
	defer t.release()

	t.b.mu.Lock()
	defer t.b.mu.Unlock()

	for k, v := range puts {
		t.b.data[k] = v
	}
	for _, k := range dels {
		delete(t.b.data, k)
	}
	return nil
}

func (t *memoryTxn) rollback(context.Context) {
	t.release()
}
