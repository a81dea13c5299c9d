package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore implements Store on an embedded LevelDB database. Each
// transaction commits as a single synced write batch.
type LevelDBStore struct {
	AccountStore
}

// NewLevelDBStore opens (or creates) the database at path, recovering it if
// the manifest is corrupted.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	const cacheMiB = 64
	o := &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     cacheMiB / 2 * opt.MiB,
		WriteBuffer:            cacheMiB / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, o)
	var corrupted *lerrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		db, err = leveldb.RecoverFile(path, o)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStore{AccountStore{b: &levelBackend{db: db, locks: newKeyLocks()}}}, nil
}

type levelBackend struct {
	db    *leveldb.DB
	locks *keyLocks
}

func (b *levelBackend) begin(ctx context.Context, keys []string) (txn, error) {
	release, err := b.locks.acquire(ctx, keys)
	if err != nil {
		return nil, err
	}
	return &levelTxn{b: b, release: release}, nil
}

func (b *levelBackend) get(_ context.Context, key string) ([]byte, error) {
	v, err := b.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (b *levelBackend) scan(_ context.Context, prefix string) ([][]byte, error) {
	it := b.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	var values [][]byte
	for it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		values = append(values, v)
	}
	return values, it.Error()
}

func (b *levelBackend) close() error {
	return b.db.Close()
}

type levelTxn struct {
	b       *levelBackend
	release func()
}

func (t *levelTxn) get(ctx context.Context, key string) ([]byte, error) {
	return t.b.get(ctx, key)
}

func (t *levelTxn) commit(_ context.Context, puts map[string][]byte, dels []string) error {
	defer t.release()

	batch := new(leveldb.Batch)
	for k, v := range puts {
		batch.Put([]byte(k), v)
	}
	for _, k := range dels {
		batch.Delete([]byte(k))
	}
	if batch.Len() == 0 {
		return nil
	}
	return t.b.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (t *levelTxn) rollback(context.Context) {
	t.release()
}
