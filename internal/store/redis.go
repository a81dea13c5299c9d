package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/atmx/wager-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Transactions go to the primary store and invalidate every key they
// declared; reads check Redis first then fall back to the primary.
//
// Cached reads may lag a commit by up to the TTL under a read/commit race.
// The engine never plans from these reads; it reads inside Atomic.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	group   singleflight.Group
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Atomic(ctx context.Context, keys []string, fn func(tx Tx) error) error {
	if err := s.primary.Atomic(ctx, keys, fn); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	cacheKeys := make([]string, len(keys))
	for i, k := range keys {
		cacheKeys[i] = cacheKey(k)
	}
	if err := s.rdb.Del(ctx, cacheKeys...).Err(); err != nil {
		slog.Warn("cache invalidation failed", "keys", len(keys), "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetHouse(ctx context.Context) (*model.House, error) {
	var h model.House
	err := readThrough(ctx, s, HouseKey(), &h, func() (any, error) {
		return s.primary.GetHouse(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *CachedStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	var g model.Game
	err := readThrough(ctx, s, GameKey(id), &g, func() (any, error) {
		return s.primary.GetGame(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *CachedStore) GetEscrow(ctx context.Context, gameID string) (*model.Escrow, error) {
	var e model.Escrow
	err := readThrough(ctx, s, EscrowKey(gameID), &e, func() (any, error) {
		return s.primary.GetEscrow(ctx, gameID)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *CachedStore) GetWallet(ctx context.Context, identity string) (*model.Wallet, error) {
	var w model.Wallet
	err := readThrough(ctx, s, WalletKey(identity), &w, func() (any, error) {
		return s.primary.GetWallet(ctx, identity)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListGames(ctx context.Context) ([]model.Game, error) {
	return s.primary.ListGames(ctx)
}

func (s *CachedStore) GetRequest(ctx context.Context, requestID string) (*model.RandomnessRequest, error) {
	return s.primary.GetRequest(ctx, requestID)
}

func (s *CachedStore) ListEntries(ctx context.Context, gameID string) ([]model.LedgerEntry, error) {
	return s.primary.ListEntries(ctx, gameID)
}

func (s *CachedStore) Close() error {
	return s.primary.Close()
}

// --- Cache helpers ---

// readThrough decodes the cached value for key into dst, or loads it from
// the primary (collapsing concurrent misses) and populates the cache.
func readThrough(ctx context.Context, s *CachedStore, key string, dst any, load func() (any, error)) error {
	if data, err := s.rdb.Get(ctx, cacheKey(key)).Bytes(); err == nil {
		if json.Unmarshal(data, dst) == nil {
			return nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		rec, err := load()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		s.rdb.Set(ctx, cacheKey(key), data, s.ttl)
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dst)
}

func cacheKey(key string) string { return "wager:" + key }
