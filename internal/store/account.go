package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/atmx/wager-engine/internal/model"
)

// backend is the raw key/value engine under an AccountStore.
type backend interface {
	// begin acquires exclusive access to keys for one transaction.
	begin(ctx context.Context, keys []string) (txn, error)
	// get reads committed state. Missing keys return ErrNotFound.
	get(ctx context.Context, key string) ([]byte, error)
	// scan returns committed values whose key has prefix, ordered by key.
	scan(ctx context.Context, prefix string) ([][]byte, error)
	close() error
}

// txn is one backend transaction. Exactly one of commit or rollback is
// called, and either releases the keys acquired by begin.
type txn interface {
	get(ctx context.Context, key string) ([]byte, error)
	commit(ctx context.Context, puts map[string][]byte, dels []string) error
	rollback(ctx context.Context)
}

// AccountStore implements Store over a key/value backend. Records are
// encoded as JSON.
type AccountStore struct {
	b backend
}

func (s *AccountStore) Atomic(ctx context.Context, keys []string, fn func(tx Tx) error) error {
	t, err := s.b.begin(ctx, keys)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	finished := false
	defer func() {
		if !finished {
			t.rollback(ctx)
		}
	}()

	tx := newAccountTx(t, keys)
	if err := fn(tx); err != nil {
		finished = true
		t.rollback(ctx)
		return err
	}

	finished = true
	if err := t.commit(ctx, tx.puts, tx.deletions()); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *AccountStore) GetHouse(ctx context.Context) (*model.House, error) {
	var h model.House
	if err := s.read(ctx, HouseKey(), &h); err != nil {
		return nil, fmt.Errorf("get house: %w", err)
	}
	return &h, nil
}

func (s *AccountStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	var g model.Game
	if err := s.read(ctx, GameKey(id), &g); err != nil {
		return nil, fmt.Errorf("get game %s: %w", id, err)
	}
	return &g, nil
}

func (s *AccountStore) ListGames(ctx context.Context) ([]model.Game, error) {
	values, err := s.b.scan(ctx, prefixGame)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	games := make([]model.Game, 0, len(values))
	for _, v := range values {
		var g model.Game
		if err := json.Unmarshal(v, &g); err != nil {
			return nil, fmt.Errorf("decode game: %w", err)
		}
		games = append(games, g)
	}
	return games, nil
}

func (s *AccountStore) GetEscrow(ctx context.Context, gameID string) (*model.Escrow, error) {
	var e model.Escrow
	if err := s.read(ctx, EscrowKey(gameID), &e); err != nil {
		return nil, fmt.Errorf("get escrow %s: %w", gameID, err)
	}
	return &e, nil
}

func (s *AccountStore) GetWallet(ctx context.Context, identity string) (*model.Wallet, error) {
	var w model.Wallet
	err := s.read(ctx, WalletKey(identity), &w)
	if errors.Is(err, ErrNotFound) {
		return &model.Wallet{Identity: identity}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", identity, err)
	}
	return &w, nil
}

func (s *AccountStore) GetRequest(ctx context.Context, requestID string) (*model.RandomnessRequest, error) {
	var r model.RandomnessRequest
	if err := s.read(ctx, RequestKey(requestID), &r); err != nil {
		return nil, fmt.Errorf("get randomness request %s: %w", requestID, err)
	}
	return &r, nil
}

func (s *AccountStore) ListEntries(ctx context.Context, gameID string) ([]model.LedgerEntry, error) {
	values, err := s.b.scan(ctx, prefixJournal)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	var entries []model.LedgerEntry
	for _, v := range values {
		var e model.LedgerEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		if gameID == "" || e.GameID == gameID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *AccountStore) Close() error {
	return s.b.close()
}

func (s *AccountStore) read(ctx context.Context, key string, v any) error {
	data, err := s.b.get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// --- Transaction overlay ---

type accountTx struct {
	t        txn
	declared map[string]struct{}
	puts     map[string][]byte
	dels     map[string]struct{}
}

func newAccountTx(t txn, keys []string) *accountTx {
	declared := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		declared[k] = struct{}{}
	}
	return &accountTx{
		t:        t,
		declared: declared,
		puts:     make(map[string][]byte),
		dels:     make(map[string]struct{}),
	}
}

func (x *accountTx) check(key string) error {
	if _, ok := x.declared[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUndeclaredKey, key)
	}
	return nil
}

func (x *accountTx) load(ctx context.Context, key string, v any) error {
	if err := x.check(key); err != nil {
		return err
	}
	if _, ok := x.dels[key]; ok {
		return ErrNotFound
	}
	data, ok := x.puts[key]
	if !ok {
		var err error
		data, err = x.t.get(ctx, key)
		if err != nil {
			return err
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (x *accountTx) save(key string, v any) error {
	if !strings.HasPrefix(key, prefixJournal) {
		if err := x.check(key); err != nil {
			return err
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	delete(x.dels, key)
	x.puts[key] = data
	return nil
}

func (x *accountTx) remove(key string) error {
	if err := x.check(key); err != nil {
		return err
	}
	delete(x.puts, key)
	x.dels[key] = struct{}{}
	return nil
}

func (x *accountTx) deletions() []string {
	out := make([]string, 0, len(x.dels))
	for k := range x.dels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (x *accountTx) House(ctx context.Context) (*model.House, error) {
	var h model.House
	if err := x.load(ctx, HouseKey(), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (x *accountTx) PutHouse(_ context.Context, h *model.House) error {
	return x.save(HouseKey(), h)
}

func (x *accountTx) Game(ctx context.Context, id string) (*model.Game, error) {
	var g model.Game
	if err := x.load(ctx, GameKey(id), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (x *accountTx) PutGame(_ context.Context, g *model.Game) error {
	return x.save(GameKey(g.ID), g)
}

func (x *accountTx) Escrow(ctx context.Context, gameID string) (*model.Escrow, error) {
	var e model.Escrow
	if err := x.load(ctx, EscrowKey(gameID), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (x *accountTx) PutEscrow(_ context.Context, e *model.Escrow) error {
	return x.save(EscrowKey(e.GameID), e)
}

func (x *accountTx) Wallet(ctx context.Context, identity string) (*model.Wallet, error) {
	var w model.Wallet
	err := x.load(ctx, WalletKey(identity), &w)
	if errors.Is(err, ErrNotFound) {
		return &model.Wallet{Identity: identity}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (x *accountTx) PutWallet(_ context.Context, w *model.Wallet) error {
	return x.save(WalletKey(w.Identity), w)
}

func (x *accountTx) Request(ctx context.Context, requestID string) (*model.RandomnessRequest, error) {
	var r model.RandomnessRequest
	if err := x.load(ctx, RequestKey(requestID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (x *accountTx) PutRequest(_ context.Context, r *model.RandomnessRequest) error {
	return x.save(RequestKey(r.ID), r)
}

func (x *accountTx) DeleteRequest(_ context.Context, requestID string) error {
	return x.remove(RequestKey(requestID))
}

func (x *accountTx) PendingRequest(ctx context.Context, gameID string) (string, error) {
	var id string
	if err := x.load(ctx, PendingKey(gameID), &id); err != nil {
		return "", err
	}
	return id, nil
}

func (x *accountTx) PutPendingRequest(_ context.Context, gameID, requestID string) error {
	return x.save(PendingKey(gameID), requestID)
}

func (x *accountTx) DeletePendingRequest(_ context.Context, gameID string) error {
	return x.remove(PendingKey(gameID))
}

func (x *accountTx) AppendEntry(_ context.Context, e *model.LedgerEntry) error {
	return x.save(journalKey(e.ID), e)
}
