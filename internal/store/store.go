// Package store defines the account storage interface for the wager engine.
// Every record (house, game, escrow, wallet, randomness request) lives under
// its own account key. Mutations run inside Atomic, which serializes
// transactions per key and commits all writes or none.
//
// Implementations include PostgreSQL and LevelDB (durable), in-memory (for
// testing), and a Redis read-through cache wrapper.
package store

import (
	"context"
	"errors"

	"github.com/atmx/wager-engine/internal/model"
)

var (
	// ErrNotFound is returned when an account record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrUndeclaredKey is returned when a transaction touches an account it
	// did not declare. The transaction is aborted with no effect.
	ErrUndeclaredKey = errors.New("store: account key not declared by transaction")
)

// Store is the persistence interface.
type Store interface {
	// Atomic runs fn against a transaction that may touch only the
	// declared keys. Concurrent transactions sharing a key are serialized.
	// If fn returns an error, none of its writes are applied.
	Atomic(ctx context.Context, keys []string, fn func(tx Tx) error) error

	// --- Committed-state reads ---

	GetHouse(ctx context.Context) (*model.House, error)
	GetGame(ctx context.Context, id string) (*model.Game, error)
	ListGames(ctx context.Context) ([]model.Game, error)
	GetEscrow(ctx context.Context, gameID string) (*model.Escrow, error)
	GetWallet(ctx context.Context, identity string) (*model.Wallet, error)
	GetRequest(ctx context.Context, requestID string) (*model.RandomnessRequest, error)

	// ListEntries returns journal entries in commit order. An empty gameID
	// returns every entry.
	ListEntries(ctx context.Context, gameID string) ([]model.LedgerEntry, error)

	Close() error
}

// Tx is the view of account state inside one Atomic call. Reads observe the
// transaction's own pending writes.
type Tx interface {
	House(ctx context.Context) (*model.House, error)
	PutHouse(ctx context.Context, h *model.House) error

	Game(ctx context.Context, id string) (*model.Game, error)
	PutGame(ctx context.Context, g *model.Game) error

	Escrow(ctx context.Context, gameID string) (*model.Escrow, error)
	PutEscrow(ctx context.Context, e *model.Escrow) error

	// Wallet returns a zero-balance wallet when none exists yet.
	Wallet(ctx context.Context, identity string) (*model.Wallet, error)
	PutWallet(ctx context.Context, w *model.Wallet) error

	Request(ctx context.Context, requestID string) (*model.RandomnessRequest, error)
	PutRequest(ctx context.Context, r *model.RandomnessRequest) error
	DeleteRequest(ctx context.Context, requestID string) error

	// PendingRequest returns the live request id for a game, or ErrNotFound.
	PendingRequest(ctx context.Context, gameID string) (string, error)
	PutPendingRequest(ctx context.Context, gameID, requestID string) error
	DeletePendingRequest(ctx context.Context, gameID string) error

	// AppendEntry records an immutable journal entry. Entries have unique
	// keys and need no declaration.
	AppendEntry(ctx context.Context, e *model.LedgerEntry) error
}

// --- Account keys ---

const (
	prefixGame    = "game:"
	prefixEscrow  = "escrow:"
	prefixWallet  = "wallet:"
	prefixRequest = "vrf:"
	prefixPending = "vrf-pending:"
	prefixJournal = "journal:"
)

func HouseKey() string { return "house" }
func GameKey(id string) string { return prefixGame + id }
func EscrowKey(gameID string) string { return prefixEscrow + gameID }
func WalletKey(identity string) string { return prefixWallet + identity }
func RequestKey(id string) string { return prefixRequest + id }
func PendingKey(gameID string) string { return prefixPending + gameID }
func journalKey(id string) string { return prefixJournal + id }

// GameKeys returns the accounts owned by a game: its record, its escrow and
// its pending-request index.
func GameKeys(gameID string) []string {
	return []string{GameKey(gameID), EscrowKey(gameID), PendingKey(gameID)}
}
