// Package limits enforces stake bounds on games and an exposure cap on
// each identity.
//
// Exposure is the stake an identity currently has locked across all open
// escrows (Wallet.InPlay). Capping it bounds how much one identity can
// have riding on unsettled outcomes at once, regardless of how many games
// it spreads the stake across.
package limits

import (
	"math/bits"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
)

// StakeLimiter enforces wager bounds and per-identity exposure. A zero
// field means the corresponding limit is disabled.
type StakeLimiter struct {
	// MinWager is the smallest wager a game may be created with.
	MinWager uint64

	// MaxWager is the largest wager a game may be created with.
	MaxWager uint64

	// MaxInPlay caps the total stake one identity may have locked in
	// open escrows.
	MaxInPlay uint64
}

// NewStakeLimiter creates a limiter with the given bounds.
func NewStakeLimiter(minWager, maxWager, maxInPlay uint64) *StakeLimiter {
	return &StakeLimiter{
		MinWager:  minWager,
		MaxWager:  maxWager,
		MaxInPlay: maxInPlay,
	}
}

// Unlimited returns a limiter that only rejects zero wagers.
func Unlimited() *StakeLimiter {
	return &StakeLimiter{}
}

// CheckWager validates a wager at game creation. Zero is always rejected.
func (l *StakeLimiter) CheckWager(wager uint64) error {
	if wager == 0 {
		return model.ErrInvalidWager.With("wager must be positive")
	}
	if l.MinWager > 0 && wager < l.MinWager {
		return model.ErrInvalidWager.With("wager %d is below the minimum %d", wager, l.MinWager)
	}
	if l.MaxWager > 0 && wager > l.MaxWager {
		return model.ErrInvalidWager.With("wager %d is above the maximum %d", wager, l.MaxWager)
	}
	return nil
}

// CheckExposure validates that locking amount more on top of inPlay keeps
// the identity within its cap.
func (l *StakeLimiter) CheckExposure(inPlay, amount uint64) error {
	total, carry := bits.Add64(inPlay, amount, 0)
	if carry != 0 {
		metrics.ExposureRejections.Inc()
		return model.ErrAmountOverflow.With("in-play %d + %d", inPlay, amount)
	}
	if l.MaxInPlay > 0 && total > l.MaxInPlay {
		metrics.ExposureRejections.Inc()
		return model.ErrExposureLimitExceeded.With(
			"%d in play + %d stake exceeds limit %d", inPlay, amount, l.MaxInPlay)
	}
	return nil
}
