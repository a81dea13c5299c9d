package store

import (
	"context"
	"sort"
	"sync"
)

// keyLocks serializes transactions per account key. Keys are acquired in
// sorted order so two transactions can never wait on each other in a cycle.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire blocks until every key is held or ctx is done. The returned
// function releases all keys.
func (l *keyLocks) acquire(ctx context.Context, keys []string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]*keyLock, 0, len(keys))
	heldKeys := make([]string, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].sem
			l.unref(heldKeys[i])
		}
	}

	for _, k := range keys {
		kl := l.ref(k)
		select {
		case kl.sem <- struct{}{}:
			held = append(held, kl)
			heldKeys = append(heldKeys, k)
		case <-ctx.Done():
			l.unref(k)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (l *keyLocks) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *keyLocks) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
