package game

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/payout"
	"github.com/atmx/wager-engine/internal/store"
)

// InitializeHouse creates the house with the caller as owner. It succeeds
// exactly once.
func (e *Engine) InitializeHouse(ctx context.Context, caller string, feeBps uint16) (*HouseView, error) {
	var house *model.House
	err := e.run(ctx, "initialize_house", []attribute.KeyValue{
		attribute.String("caller", caller),
		attribute.Int("fee_bps", int(feeBps)),
	}, func(ctx context.Context) ([]model.Event, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		if e.authority != "" && caller != e.authority {
			return nil, model.ErrUnauthorized.With("%s is not the house authority", caller)
		}
		if _, err := payout.NewSplitter(feeBps); err != nil {
			return nil, err
		}

		err := e.store.Atomic(ctx, []string{store.HouseKey()}, func(tx store.Tx) error {
			h, err := tx.House(ctx)
			if err == nil && h.Initialized {
				return model.ErrAlreadyInitialized.With("owned by %s", h.Owner)
			}
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			house = &model.House{
				Owner:       caller,
				FeeBps:      feeBps,
				Initialized: true,
				CreatedAt:   e.now().UTC(),
			}
			return tx.PutHouse(ctx, house)
		})
		if err != nil {
			return nil, err
		}

		ev := e.event(model.EventHouseInitialized, nil)
		ev.Identity = caller
		return []model.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	return &HouseView{House: *house, FeePercent: payout.FormatBps(house.FeeBps)}, nil
}

// ClaimFees moves the accrued fee balance to the owner's wallet.
func (e *Engine) ClaimFees(ctx context.Context, caller string) (uint64, error) {
	var claimed uint64
	err := e.run(ctx, "claim_fees", []attribute.KeyValue{
		attribute.String("caller", caller),
	}, func(ctx context.Context) ([]model.Event, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		keys := []string{store.HouseKey(), store.WalletKey(caller)}
		err := e.store.Atomic(ctx, keys, func(tx store.Tx) error {
			h, err := tx.House(ctx)
			if errors.Is(err, store.ErrNotFound) || (err == nil && !h.Initialized) {
				return model.ErrHouseNotInitialized
			}
			if err != nil {
				return err
			}
			if caller != h.Owner {
				return model.ErrUnauthorized.With("only the house owner may claim fees")
			}
			claimed, err = e.ledger.ClaimFees(ctx, tx, caller)
			return err
		})
		if err != nil {
			return nil, err
		}

		metrics.FeesClaimed.Add(float64(claimed))
		ev := e.event(model.EventFeesClaimed, nil)
		ev.Identity = caller
		ev.Amount = claimed
		return []model.Event{ev}, nil
	})
	return claimed, err
}

// Deposit credits an identity's wallet from outside the system.
func (e *Engine) Deposit(ctx context.Context, identity string, amount uint64) (*model.Wallet, error) {
	var wallet *model.Wallet
	err := e.run(ctx, "deposit", []attribute.KeyValue{
		attribute.String("identity", identity),
	}, func(ctx context.Context) ([]model.Event, error) {
		if err := requireCaller(identity); err != nil {
			return nil, err
		}
		err := e.store.Atomic(ctx, []string{store.WalletKey(identity)}, func(tx store.Tx) error {
			if err := e.ledger.Deposit(ctx, tx, identity, amount); err != nil {
				return err
			}
			var err error
			wallet, err = tx.Wallet(ctx, identity)
			return err
		})
		if err != nil {
			return nil, err
		}

		ev := e.event(model.EventDeposit, nil)
		ev.Identity = identity
		ev.Amount = amount
		return []model.Event{ev}, nil
	})
	return wallet, err
}
