// Package escrow is the only code that moves value. Every method runs
// inside the caller's store transaction, so a transition's movements
// commit together or not at all, and each movement appends an immutable
// journal entry in the same transaction.
//
// The ledger enforces its own invariants (no pool underflow, no overflow,
// refunds equal stakes) rather than trusting the state machine.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/wager-engine/internal/limits"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/store"
)

// Ledger moves value between wallets, escrows, and the house fee balance.
type Ledger struct {
	limiter *limits.StakeLimiter
	now     func() time.Time
}

// NewLedger creates a ledger. A nil limiter disables exposure limits; a
// nil clock uses time.Now.
func NewLedger(limiter *limits.StakeLimiter, now func() time.Time) *Ledger {
	if limiter == nil {
		limiter = limits.Unlimited()
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{limiter: limiter, now: now}
}

// Open creates the empty escrow account for a game.
func (l *Ledger) Open(ctx context.Context, tx store.Tx, gameID string) error {
	_, err := tx.Escrow(ctx, gameID)
	if err == nil {
		return model.ErrDuplicateGameID.With("escrow for %s already exists", gameID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return tx.PutEscrow(ctx, &model.Escrow{GameID: gameID, Stakes: []model.Stake{}})
}

// Escrow moves amount from the identity's wallet into the game's pool.
func (l *Ledger) Escrow(ctx context.Context, tx store.Tx, gameID, from string, amount uint64) error {
	if amount == 0 {
		return model.ErrInvalidAmount
	}
	e, err := l.openEscrow(ctx, tx, gameID)
	if err != nil {
		return err
	}
	w, err := tx.Wallet(ctx, from)
	if err != nil {
		return err
	}
	if w.Balance < amount {
		return model.ErrInsufficientFunds.With("%s holds %d, stake is %d", from, w.Balance, amount)
	}
	if err := l.limiter.CheckExposure(w.InPlay, amount); err != nil {
		return err
	}
	pool, carry := bits.Add64(e.Pool, amount, 0)
	if carry != 0 {
		return model.ErrAmountOverflow.With("pool %d + %d", e.Pool, amount)
	}

	w.Balance -= amount
	w.InPlay += amount
	e.Pool = pool
	e.Stakes = append(e.Stakes, model.Stake{Identity: from, Amount: amount})

	if err := tx.PutWallet(ctx, w); err != nil {
		return err
	}
	if err := tx.PutEscrow(ctx, e); err != nil {
		return err
	}
	return l.journal(ctx, tx, model.EntryEscrow, gameID, from, amount)
}

// Payout moves amount from the game's pool to an identity's wallet.
func (l *Ledger) Payout(ctx context.Context, tx store.Tx, gameID, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	e, err := l.debitPool(ctx, tx, gameID, amount)
	if err != nil {
		return err
	}
	if err := l.credit(ctx, tx, to, amount); err != nil {
		return err
	}
	if err := tx.PutEscrow(ctx, e); err != nil {
		return err
	}
	return l.journal(ctx, tx, model.EntryPayout, gameID, to, amount)
}

// AccrueFee moves amount from the game's pool to the house fee balance.
func (l *Ledger) AccrueFee(ctx context.Context, tx store.Tx, gameID string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	e, err := l.debitPool(ctx, tx, gameID, amount)
	if err != nil {
		return err
	}
	h, err := tx.House(ctx)
	if err != nil {
		return fmt.Errorf("accrue fee: %w", err)
	}
	balance, c1 := bits.Add64(h.FeeBalance, amount, 0)
	accrued, c2 := bits.Add64(h.TotalAccrued, amount, 0)
	if c1|c2 != 0 {
		return model.ErrAmountOverflow.With("house fee balance")
	}
	h.FeeBalance = balance
	h.TotalAccrued = accrued

	if err := tx.PutHouse(ctx, h); err != nil {
		return err
	}
	if err := tx.PutEscrow(ctx, e); err != nil {
		return err
	}
	return l.journal(ctx, tx, model.EntryFee, gameID, h.Owner, amount)
}

// Close marks a fully distributed escrow closed and releases every
// stake's in-play exposure.
func (l *Ledger) Close(ctx context.Context, tx store.Tx, gameID string) error {
	e, err := l.openEscrow(ctx, tx, gameID)
	if err != nil {
		return err
	}
	if e.Pool != 0 {
		return model.ErrAccountingMismatch.With("escrow %s still holds %d", gameID, e.Pool)
	}
	if err := l.release(ctx, tx, e.Stakes, false); err != nil {
		return err
	}
	e.Closed = true
	return tx.PutEscrow(ctx, e)
}

// RefundAll returns every stake to its owner and closes the escrow. It
// returns the total refunded.
func (l *Ledger) RefundAll(ctx context.Context, tx store.Tx, gameID string) (uint64, error) {
	e, err := l.openEscrow(ctx, tx, gameID)
	if err != nil {
		return 0, err
	}
	var staked uint64
	for _, s := range e.Stakes {
		var carry uint64
		staked, carry = bits.Add64(staked, s.Amount, 0)
		if carry != 0 {
			return 0, model.ErrAmountOverflow.With("stakes of %s", gameID)
		}
	}
	if staked != e.Pool {
		return 0, model.ErrAccountingMismatch.With("escrow %s pool %d != stakes %d", gameID, e.Pool, staked)
	}

	if err := l.release(ctx, tx, e.Stakes, true); err != nil {
		return 0, err
	}
	for _, s := range e.Stakes {
		if err := l.journal(ctx, tx, model.EntryRefund, gameID, s.Identity, s.Amount); err != nil {
			return 0, err
		}
	}
	e.Pool = 0
	e.Closed = true
	if err := tx.PutEscrow(ctx, e); err != nil {
		return 0, err
	}
	return staked, nil
}

// ClaimFees moves the whole house fee balance to the identity's wallet
// and returns the amount claimed.
func (l *Ledger) ClaimFees(ctx context.Context, tx store.Tx, to string) (uint64, error) {
	h, err := tx.House(ctx)
	if err != nil {
		return 0, fmt.Errorf("claim fees: %w", err)
	}
	amount := h.FeeBalance
	if amount == 0 {
		return 0, model.ErrNothingToClaim
	}
	claimed, carry := bits.Add64(h.TotalClaimed, amount, 0)
	if carry != 0 {
		return 0, model.ErrAmountOverflow.With("house claimed total")
	}
	if err := l.credit(ctx, tx, to, amount); err != nil {
		return 0, err
	}

	h.FeeBalance = 0
	h.TotalClaimed = claimed
	if err := tx.PutHouse(ctx, h); err != nil {
		return 0, err
	}
	if err := l.journal(ctx, tx, model.EntryClaim, "", to, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// Deposit credits an identity's wallet from outside the system.
func (l *Ledger) Deposit(ctx context.Context, tx store.Tx, identity string, amount uint64) error {
	if amount == 0 {
		return model.ErrInvalidAmount
	}
	if err := l.credit(ctx, tx, identity, amount); err != nil {
		return err
	}
	return l.journal(ctx, tx, model.EntryDeposit, "", identity, amount)
}

// --- helpers ---

func (l *Ledger) openEscrow(ctx context.Context, tx store.Tx, gameID string) (*model.Escrow, error) {
	e, err := tx.Escrow(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrAccountingMismatch.With("no escrow for %s", gameID)
	}
	if err != nil {
		return nil, err
	}
	if e.Closed {
		return nil, model.ErrAccountingMismatch.With("escrow %s is closed", gameID)
	}
	return e, nil
}

func (l *Ledger) debitPool(ctx context.Context, tx store.Tx, gameID string, amount uint64) (*model.Escrow, error) {
	e, err := l.openEscrow(ctx, tx, gameID)
	if err != nil {
		return nil, err
	}
	if amount > e.Pool {
		return nil, model.ErrPoolUnderflow.With("escrow %s holds %d, debit is %d", gameID, e.Pool, amount)
	}
	e.Pool -= amount
	return e, nil
}

func (l *Ledger) credit(ctx context.Context, tx store.Tx, identity string, amount uint64) error {
	w, err := tx.Wallet(ctx, identity)
	if err != nil {
		return err
	}
	balance, carry := bits.Add64(w.Balance, amount, 0)
	if carry != 0 {
		return model.ErrAmountOverflow.With("wallet %s", identity)
	}
	w.Balance = balance
	return tx.PutWallet(ctx, w)
}

// release drops each stake's in-play exposure, optionally paying the
// stake back to its owner.
func (l *Ledger) release(ctx context.Context, tx store.Tx, stakes []model.Stake, refund bool) error {
	for _, s := range stakes {
		w, err := tx.Wallet(ctx, s.Identity)
		if err != nil {
			return err
		}
		if w.InPlay < s.Amount {
			return model.ErrAccountingMismatch.With("%s in-play %d below stake %d", s.Identity, w.InPlay, s.Amount)
		}
		w.InPlay -= s.Amount
		if refund {
			balance, carry := bits.Add64(w.Balance, s.Amount, 0)
			if carry != 0 {
				return model.ErrAmountOverflow.With("wallet %s", s.Identity)
			}
			w.Balance = balance
		}
		if err := tx.PutWallet(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) journal(ctx context.Context, tx store.Tx, kind model.EntryKind, gameID, identity string, amount uint64) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("journal id: %w", err)
	}
	return tx.AppendEntry(ctx, &model.LedgerEntry{
		ID:        id.String(),
		GameID:    gameID,
		Identity:  identity,
		Kind:      kind,
		Amount:    amount,
		Timestamp: l.now().UTC(),
	})
}
