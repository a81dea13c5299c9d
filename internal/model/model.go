// Package model defines the core domain types shared across the wager engine.
// All amounts are unsigned integers in base units; fees are basis points.
package model

import "time"

// MaxFeeBps is the largest allowed house fee (100%).
const MaxFeeBps = 10000

// GameType selects the outcome-resolution rules for a game.
type GameType string

const (
	GameTypeCoinFlip GameType = "coinflip"
	GameTypeDice     GameType = "dice"
	GameTypeLottery  GameType = "lottery"
	GameTypeHighRoll GameType = "high_roll"
)

// GameState is a position in the game lifecycle.
type GameState string

const (
	StateOpen               GameState = "open"
	StateAwaitingRandomness GameState = "awaiting_randomness"
	StateSettled            GameState = "settled"
	StateCancelled          GameState = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s GameState) Terminal() bool {
	return s == StateSettled || s == StateCancelled
}

// House is the singleton deployment configuration and fee accumulator.
type House struct {
	Owner        string    `json:"owner"`
	FeeBps       uint16    `json:"fee_bps"`
	FeeBalance   uint64    `json:"fee_balance"`
	TotalAccrued uint64    `json:"total_accrued"`
	TotalClaimed uint64    `json:"total_claimed"`
	Initialized  bool      `json:"initialized"`
	CreatedAt    time.Time `json:"created_at"`
}

// Game is one wager session. Records are never deleted; terminal states
// are kept for auditability.
type Game struct {
	ID                  string     `json:"id"`
	Type                GameType   `json:"type"`
	Wager               uint64     `json:"wager"`
	Creator             string     `json:"creator"`
	Participants        []string   `json:"participants"`
	State               GameState  `json:"state"`
	RandomnessRequestID string     `json:"randomness_request_id,omitempty"`
	Outcome             *uint64    `json:"outcome,omitempty"`
	Winners             []string   `json:"winners,omitempty"`
	Rolls               []int      `json:"rolls,omitempty"`
	Payouts             []uint64   `json:"payouts,omitempty"`
	Fee                 uint64     `json:"fee"`
	CreatedAt           time.Time  `json:"created_at"`
	AwaitingSince       *time.Time `json:"awaiting_since,omitempty"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
}

// HasParticipant reports whether identity already holds a seat.
func (g *Game) HasParticipant(identity string) bool {
	for _, p := range g.Participants {
		if p == identity {
			return true
		}
	}
	return false
}

// Stake is one participant's escrowed contribution.
type Stake struct {
	Identity string `json:"identity"`
	Amount   uint64 `json:"amount"`
}

// Escrow is the account holding a game's pooled stake.
type Escrow struct {
	GameID string  `json:"game_id"`
	Pool   uint64  `json:"pool"`
	Stakes []Stake `json:"stakes"`
	Closed bool    `json:"closed"`
}

// Wallet is an identity's external balance. InPlay tracks stake currently
// locked in open escrows; it is bookkeeping for exposure limits, not value.
type Wallet struct {
	Identity string `json:"identity"`
	Balance  uint64 `json:"balance"`
	InPlay   uint64 `json:"in_play"`
}

// RandomnessRequest correlates one oracle round-trip with one game.
type RandomnessRequest struct {
	ID          string     `json:"id"`
	GameID      string     `json:"game_id"`
	Fulfilled   bool       `json:"fulfilled"`
	Outcome     *uint64    `json:"outcome,omitempty"`
	Proof       []byte     `json:"proof,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
}

// EntryKind classifies a value movement.
type EntryKind string

const (
	EntryDeposit EntryKind = "deposit"
	EntryEscrow  EntryKind = "escrow"
	EntryPayout  EntryKind = "payout"
	EntryRefund  EntryKind = "refund"
	EntryFee     EntryKind = "fee"
	EntryClaim   EntryKind = "claim"
)

// LedgerEntry is an immutable record of one value movement.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id,omitempty"`
	Identity  string    `json:"identity,omitempty"`
	Kind      EntryKind `json:"kind"`
	Amount    uint64    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType names a committed transition.
type EventType string

const (
	EventHouseInitialized    EventType = "house_initialized"
	EventGameCreated         EventType = "game_created"
	EventGameJoined          EventType = "game_joined"
	EventRandomnessRequested EventType = "randomness_requested"
	EventRandomnessFulfilled EventType = "randomness_fulfilled"
	EventGameSettled         EventType = "game_settled"
	EventGameCancelled       EventType = "game_cancelled"
	EventFeesClaimed         EventType = "fees_claimed"
	EventDeposit             EventType = "deposit"
)

// Event is published after a transition commits.
type Event struct {
	Type      EventType `json:"type"`
	GameID    string    `json:"game_id,omitempty"`
	State     GameState `json:"state,omitempty"`
	Identity  string    `json:"identity,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
