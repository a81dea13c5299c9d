package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/store"
)

var errAbort = errors.New("abort")

// runConformance exercises the Store contract against any implementation.
func runConformance(t *testing.T, st store.Store) {
	ctx := context.Background()

	t.Run("CommitAppliesAllWrites", func(t *testing.T) {
		keys := append(store.GameKeys("c1"), store.WalletKey("alice"))
		err := st.Atomic(ctx, keys, func(tx store.Tx) error {
			if err := tx.PutGame(ctx, &model.Game{ID: "c1", State: model.StateOpen, Wager: 10}); err != nil {
				return err
			}
			if err := tx.PutEscrow(ctx, &model.Escrow{GameID: "c1", Pool: 10}); err != nil {
				return err
			}
			return tx.PutWallet(ctx, &model.Wallet{Identity: "alice", Balance: 90})
		})
		if err != nil {
			t.Fatalf("atomic: %v", err)
		}

		g, err := st.GetGame(ctx, "c1")
		if err != nil || g.Wager != 10 {
			t.Fatalf("game = %+v, %v", g, err)
		}
		e, err := st.GetEscrow(ctx, "c1")
		if err != nil || e.Pool != 10 {
			t.Fatalf("escrow = %+v, %v", e, err)
		}
		w, err := st.GetWallet(ctx, "alice")
		if err != nil || w.Balance != 90 {
			t.Fatalf("wallet = %+v, %v", w, err)
		}
	})

	t.Run("ErrorDiscardsWrites", func(t *testing.T) {
		err := st.Atomic(ctx, store.GameKeys("c2"), func(tx store.Tx) error {
			if err := tx.PutGame(ctx, &model.Game{ID: "c2"}); err != nil {
				return err
			}
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Fatalf("expected errAbort, got %v", err)
		}
		if _, err := st.GetGame(ctx, "c2"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("aborted write is visible: %v", err)
		}
	})

	t.Run("UndeclaredKeyRejected", func(t *testing.T) {
		err := st.Atomic(ctx, []string{store.GameKey("c3")}, func(tx store.Tx) error {
			if err := tx.PutGame(ctx, &model.Game{ID: "c3"}); err != nil {
				return err
			}
			return tx.PutWallet(ctx, &model.Wallet{Identity: "mallory", Balance: 1})
		})
		if !errors.Is(err, store.ErrUndeclaredKey) {
			t.Fatalf("expected ErrUndeclaredKey, got %v", err)
		}
		if _, err := st.GetGame(ctx, "c3"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("partial write visible: %v", err)
		}
	})

	t.Run("ReadsOwnWritesAndDeletes", func(t *testing.T) {
		keys := []string{store.RequestKey("r1"), store.PendingKey("c4")}
		err := st.Atomic(ctx, keys, func(tx store.Tx) error {
			if err := tx.PutRequest(ctx, &model.RandomnessRequest{ID: "r1", GameID: "c4"}); err != nil {
				return err
			}
			if err := tx.PutPendingRequest(ctx, "c4", "r1"); err != nil {
				return err
			}
			id, err := tx.PendingRequest(ctx, "c4")
			if err != nil || id != "r1" {
				t.Errorf("pending = %q, %v", id, err)
			}
			if err := tx.DeleteRequest(ctx, "r1"); err != nil {
				return err
			}
			if _, err := tx.Request(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("deleted request readable: %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("atomic: %v", err)
		}
		if _, err := st.GetRequest(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("deleted request committed: %v", err)
		}
	})

	t.Run("MissingWalletIsZero", func(t *testing.T) {
		w, err := st.GetWallet(ctx, "nobody")
		if err != nil {
			t.Fatal(err)
		}
		if w.Balance != 0 || w.Identity != "nobody" {
			t.Fatalf("wallet = %+v", w)
		}
	})

	t.Run("JournalOrderAndFilter", func(t *testing.T) {
		err := st.Atomic(ctx, nil, func(tx store.Tx) error {
			for i, gid := range []string{"j1", "j2", "j1"} {
				e := &model.LedgerEntry{
					ID:     "0000-" + string(rune('a'+i)),
					GameID: gid,
					Kind:   model.EntryEscrow,
					Amount: uint64(i + 1),
				}
				if err := tx.AppendEntry(ctx, e); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		entries, err := st.ListEntries(ctx, "j1")
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 || entries[0].Amount != 1 || entries[1].Amount != 3 {
			t.Fatalf("entries = %+v", entries)
		}
	})

	t.Run("SerializesSharedKey", func(t *testing.T) {
		const n = 40
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := st.Atomic(ctx, []string{store.WalletKey("counter")}, func(tx store.Tx) error {
					w, err := tx.Wallet(ctx, "counter")
					if err != nil {
						return err
					}
					w.Balance++
					return tx.PutWallet(ctx, w)
				})
				if err != nil {
					t.Errorf("increment: %v", err)
				}
			}()
		}
		wg.Wait()

		w, _ := st.GetWallet(ctx, "counter")
		if w.Balance != n {
			t.Fatalf("lost updates: balance = %d, want %d", w.Balance, n)
		}
	})

	t.Run("ListGames", func(t *testing.T) {
		games, err := st.ListGames(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(games) == 0 {
			t.Fatal("expected committed games")
		}
		for _, g := range games {
			if g.ID == "c2" || g.ID == "c3" {
				t.Errorf("aborted game %s listed", g.ID)
			}
		}
	})
}

func TestMemoryStore_Conformance(t *testing.T) {
	runConformance(t, store.NewMemoryStore())
}

func TestMemoryStore_LockWaitHonorsContext(t *testing.T) {
	st := store.NewMemoryStore()
	held := make(chan struct{})
	done := make(chan struct{})

	go st.Atomic(context.Background(), []string{store.HouseKey()}, func(tx store.Tx) error {
		close(held)
		<-done
		return nil
	})
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := st.Atomic(ctx, []string{store.HouseKey()}, func(tx store.Tx) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryStore_DisjointKeysDoNotBlock(t *testing.T) {
	st := store.NewMemoryStore()
	held := make(chan struct{})
	done := make(chan struct{})

	go st.Atomic(context.Background(), store.GameKeys("a"), func(tx store.Tx) error {
		close(held)
		<-done
		return nil
	})
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := st.Atomic(ctx, store.GameKeys("b"), func(tx store.Tx) error {
		return tx.PutGame(ctx, &model.Game{ID: "b"})
	})
	if err != nil {
		t.Fatalf("unrelated game blocked: %v", err)
	}
}

func TestLevelDBStore_Conformance(t *testing.T) {
	st, err := store.NewLevelDBStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	runConformance(t, st)
}

func TestLevelDBStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := store.NewLevelDBStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	err = st.Atomic(ctx, []string{store.HouseKey()}, func(tx store.Tx) error {
		return tx.PutHouse(ctx, &model.House{Owner: "owner", FeeBps: 500, Initialized: true})
	})
	if err != nil {
		t.Fatal(err)
	}
	st.Close()

	st, err = store.NewLevelDBStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	h, err := st.GetHouse(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h.Owner != "owner" || h.FeeBps != 500 {
		t.Fatalf("house = %+v", h)
	}
}
