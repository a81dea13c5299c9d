package game

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
)

// Keeper closes games stuck in AwaitingRandomness past the timeout. Games
// whose randomness arrived are settled; the rest are cancelled and refunded.
// Both transitions are permissionless, so the keeper holds no special
// authority; identity only labels its transactions.
type Keeper struct {
	engine   *Engine
	identity string
	interval time.Duration
}

// NewKeeper creates a keeper that sweeps every interval.
func NewKeeper(e *Engine, identity string, interval time.Duration) *Keeper {
	return &Keeper{engine: e, identity: identity, interval: interval}
}

// Run sweeps until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	slog.Info("keeper started", "interval", k.interval, "timeout", k.engine.timeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.Sweep(ctx)
		}
	}
}

// Sweep closes every timed-out game once and returns how many it closed.
// Failures are logged and skipped.
func (k *Keeper) Sweep(ctx context.Context) int {
	games, err := k.engine.store.ListGames(ctx)
	if err != nil {
		slog.Error("keeper list games failed", "err", err)
		return 0
	}

	counts := map[model.GameState]int{
		model.StateOpen:               0,
		model.StateAwaitingRandomness: 0,
		model.StateSettled:            0,
		model.StateCancelled:          0,
	}
	now := k.engine.now()
	var settled, cancelled int
	for _, g := range games {
		counts[g.State]++
		if g.State != model.StateAwaitingRandomness || g.AwaitingSince == nil {
			continue
		}
		if now.Before(g.AwaitingSince.Add(k.engine.timeout)) {
			continue
		}

		if k.fulfilled(ctx, g.RandomnessRequestID) {
			_, err := k.engine.SettleGame(ctx, k.identity, g.ID)
			switch {
			case err == nil:
				settled++
				counts[model.StateAwaitingRandomness]--
				counts[model.StateSettled]++
			case errors.Is(err, model.ErrAlreadySettled),
				errors.Is(err, model.ErrGameCancelled):
				// closed by someone else since the listing
			default:
				slog.Warn("keeper settle failed", "game", g.ID, "err", err)
			}
			continue
		}

		_, err := k.engine.CancelGame(ctx, k.identity, g.ID)
		switch {
		case err == nil:
			cancelled++
			counts[model.StateAwaitingRandomness]--
			counts[model.StateCancelled]++
		case errors.Is(err, model.ErrCancelNotAllowed),
			errors.Is(err, model.ErrGameCancelled):
			// fulfilled, settled, or cancelled since the listing; the next
			// sweep settles a late fulfillment
		default:
			slog.Warn("keeper cancel failed", "game", g.ID, "err", err)
		}
	}

	for state, n := range counts {
		metrics.GamesByState.WithLabelValues(string(state)).Set(float64(n))
	}
	if settled > 0 || cancelled > 0 {
		slog.Info("keeper closed timed-out games", "settled", settled, "cancelled", cancelled)
	}
	return settled + cancelled
}

func (k *Keeper) fulfilled(ctx context.Context, requestID string) bool {
	if requestID == "" {
		return false
	}
	req, err := k.engine.store.GetRequest(ctx, requestID)
	if err != nil {
		return false
	}
	return req.Fulfilled
}
