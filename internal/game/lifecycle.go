package game

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/payout"
	"github.com/atmx/wager-engine/internal/rules"
	"github.com/atmx/wager-engine/internal/store"
)

// CreateGame opens a game and escrows the creator's stake.
func (e *Engine) CreateGame(ctx context.Context, caller, id string, gameType model.GameType, wager uint64) (*GameView, error) {
	var view *GameView
	err := e.run(ctx, "create_game", []attribute.KeyValue{
		attribute.String("caller", caller),
		attribute.String("game", id),
		attribute.String("type", string(gameType)),
		attribute.Int64("wager", int64(wager)),
	}, func(ctx context.Context) ([]model.Event, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		// The house never un-initializes, so a committed read is enough.
		h, err := e.store.GetHouse(ctx)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !h.Initialized) {
			return nil, model.ErrHouseNotInitialized
		}
		if err != nil {
			return nil, err
		}
		if err := rules.ValidateGameID(id); err != nil {
			return nil, err
		}
		if _, err := rules.Lookup(gameType); err != nil {
			return nil, err
		}
		if err := e.limiter.CheckWager(wager); err != nil {
			return nil, err
		}

		keys := append(store.GameKeys(id), store.WalletKey(caller))
		var g *model.Game
		var esc *model.Escrow
		err = e.store.Atomic(ctx, keys, func(tx store.Tx) error {
			if _, err := tx.Game(ctx, id); err == nil {
				return model.ErrDuplicateGameID.With("%s", id)
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err := e.ledger.Open(ctx, tx, id); err != nil {
				return err
			}
			if err := e.ledger.Escrow(ctx, tx, id, caller, wager); err != nil {
				return err
			}
			g = &model.Game{
				ID:           id,
				Type:         gameType,
				Wager:        wager,
				Creator:      caller,
				Participants: []string{caller},
				State:        model.StateOpen,
				CreatedAt:    e.now().UTC(),
			}
			if err := tx.PutGame(ctx, g); err != nil {
				return err
			}
			esc, err = tx.Escrow(ctx, id)
			return err
		})
		if err != nil {
			return nil, err
		}

		metrics.GamesTotal.WithLabelValues(string(gameType), "created").Inc()
		slog.Info("game created", "game", id, "type", gameType, "wager", wager, "creator", caller)
		view = e.view(g, esc)
		ev := e.event(model.EventGameCreated, g)
		ev.Identity = caller
		ev.Amount = wager
		return []model.Event{ev}, nil
	})
	return view, err
}

// JoinGame escrows the caller's stake into an open game. A join that fills
// the game requests randomness in the same transaction.
func (e *Engine) JoinGame(ctx context.Context, caller, id string) (*GameView, error) {
	var view *GameView
	err := e.run(ctx, "join_game", []attribute.KeyValue{
		attribute.String("caller", caller),
		attribute.String("game", id),
	}, func(ctx context.Context) ([]model.Event, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		requestID, err := newRequestID()
		if err != nil {
			return nil, err
		}

		keys := append(store.GameKeys(id), store.WalletKey(caller), store.RequestKey(requestID))
		var g *model.Game
		var esc *model.Escrow
		var started bool
		err = e.store.Atomic(ctx, keys, func(tx store.Tx) error {
			var err error
			g, err = loadGame(ctx, tx, id)
			if err != nil {
				return err
			}
			spec, err := rules.Lookup(g.Type)
			if err != nil {
				return err
			}
			switch {
			case g.State == model.StateCancelled:
				return model.ErrGameCancelled.With("%s", id)
			case g.State == model.StateSettled:
				return model.ErrAlreadySettled.With("%s", id)
			case len(g.Participants) >= spec.MaxPlayers:
				return model.ErrGameFull.With("%s has %d of %d seats taken", id, len(g.Participants), spec.MaxPlayers)
			case g.State != model.StateOpen:
				return model.ErrGameNotOpen.With("%s is %s", id, g.State)
			case g.HasParticipant(caller):
				return model.ErrAlreadyJoined.With("%s already in %s", caller, id)
			}

			if err := e.ledger.Escrow(ctx, tx, id, caller, g.Wager); err != nil {
				return err
			}
			g.Participants = append(g.Participants, caller)
			if len(g.Participants) == spec.MaxPlayers {
				if err := e.awaitRandomness(ctx, tx, g, requestID); err != nil {
					return err
				}
				started = true
			}
			if err := tx.PutGame(ctx, g); err != nil {
				return err
			}
			esc, err = tx.Escrow(ctx, id)
			return err
		})
		if err != nil {
			return nil, err
		}

		slog.Info("game joined", "game", id, "identity", caller, "seats", len(g.Participants))
		view = e.view(g, esc)
		ev := e.event(model.EventGameJoined, g)
		ev.Identity = caller
		ev.Amount = g.Wager
		events := []model.Event{ev}
		if started {
			events = append(events, e.event(model.EventRandomnessRequested, g))
		}
		return events, nil
	})
	return view, err
}

// BeginSettlement closes a variable-size game to new players and requests
// randomness. Only the creator may call it.
func (e *Engine) BeginSettlement(ctx context.Context, caller, id string) (*GameView, error) {
	var view *GameView
	err := e.run(ctx, "begin_settlement", []attribute.KeyValue{
		attribute.String("caller", caller),
		attribute.String("game", id),
	}, func(ctx context.Context) ([]model.Event, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		requestID, err := newRequestID()
		if err != nil {
			return nil, err
		}

		keys := append(store.GameKeys(id), store.RequestKey(requestID))
		var g *model.Game
		var esc *model.Escrow
		err = e.store.Atomic(ctx, keys, func(tx store.Tx) error {
			var err error
			g, err = loadGame(ctx, tx, id)
			if err != nil {
				return err
			}
			if caller != g.Creator {
				return model.ErrUnauthorized.With("only the creator may start %s", id)
			}
			if g.State != model.StateOpen {
				return model.ErrGameNotOpen.With("%s is %s", id, g.State)
			}
			spec, err := rules.Lookup(g.Type)
			if err != nil {
				return err
			}
			if !spec.Variable() {
				return model.ErrInvalidGameType.With("%s games start when all %d seats are taken", g.Type, spec.MaxPlayers)
			}
			if len(g.Participants) < spec.MinPlayers {
				return model.ErrNotEnoughParticipants.With(
					"%s has %d players, needs %d", id, len(g.Participants), spec.MinPlayers)
			}
			if err := e.awaitRandomness(ctx, tx, g, requestID); err != nil {
				return err
			}
			if err := tx.PutGame(ctx, g); err != nil {
				return err
			}
			esc, err = tx.Escrow(ctx, id)
			return err
		})
		if err != nil {
			return nil, err
		}

		view = e.view(g, esc)
		return []model.Event{e.event(model.EventRandomnessRequested, g)}, nil
	})
	return view, err
}

func (e *Engine) awaitRandomness(ctx context.Context, tx store.Tx, g *model.Game, requestID string) error {
	if _, err := e.vrf.Request(ctx, tx, g.ID, requestID); err != nil {
		return err
	}
	now := e.now().UTC()
	g.State = model.StateAwaitingRandomness
	g.RandomnessRequestID = requestID
	g.AwaitingSince = &now
	return nil
}

// FulfillRandomness records an oracle response. Authentication is the
// proof itself.
func (e *Engine) FulfillRandomness(ctx context.Context, requestID string, outcome uint64, proof []byte) error {
	return e.run(ctx, "fulfill_randomness", []attribute.KeyValue{
		attribute.String("request", requestID),
	}, func(ctx context.Context) ([]model.Event, error) {
		var r *model.RandomnessRequest
		err := e.store.Atomic(ctx, []string{store.RequestKey(requestID)}, func(tx store.Tx) error {
			var err error
			r, err = e.vrf.Fulfill(ctx, tx, requestID, outcome, proof)
			return err
		})
		if err != nil {
			return nil, err
		}

		slog.Info("randomness fulfilled", "game", r.GameID, "request", requestID, "outcome", outcome)
		ev := e.event(model.EventRandomnessFulfilled, nil)
		ev.GameID = r.GameID
		ev.RequestID = requestID
		return []model.Event{ev}, nil
	})
}

// SettleGame pays out a game whose randomness has been fulfilled. Any
// caller may settle.
func (e *Engine) SettleGame(ctx context.Context, caller, id string) (*GameView, error) {
	var view *GameView
	err := e.run(ctx, "settle_game", []attribute.KeyValue{
		attribute.String("caller", caller),
		attribute.String("game", id),
	}, func(ctx context.Context) ([]model.Event, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		plan := func(ctx context.Context) ([]string, error) {
			g, err := e.snapshot(ctx, id)
			if err != nil {
				return nil, err
			}
			return append(participantKeys(g), store.HouseKey()), nil
		}

		var g *model.Game
		var pool uint64
		err := e.atomic(ctx, "settle_game", plan, func(tx store.Tx) error {
			var err error
			g, err = loadGame(ctx, tx, id)
			if err != nil {
				return err
			}
			switch g.State {
			case model.StateSettled:
				return model.ErrAlreadySettled.With("%s", id)
			case model.StateCancelled:
				return model.ErrGameCancelled.With("%s", id)
			case model.StateAwaitingRandomness:
			default:
				return model.ErrNotAwaitingRandomness.With("%s is %s", id, g.State)
			}
			pool, err = e.settle(ctx, tx, g)
			return err
		})
		if err != nil {
			return nil, err
		}

		metrics.GamesTotal.WithLabelValues(string(g.Type), "settled").Inc()
		metrics.SettledVolume.WithLabelValues(string(g.Type)).Add(float64(pool))
		metrics.FeesAccrued.Add(float64(g.Fee))
		slog.Info("game settled",
			"game", id,
			"outcome", *g.Outcome,
			"winners", g.Winners,
			"pool", pool,
			"fee", g.Fee,
		)
		view = e.view(g, &model.Escrow{GameID: id, Closed: true})
		ev := e.event(model.EventGameSettled, g)
		ev.Amount = pool
		return []model.Event{ev}, nil
	})
	return view, err
}

// settle distributes the pool of an AwaitingRandomness game and returns
// the pool size.
func (e *Engine) settle(ctx context.Context, tx store.Tx, g *model.Game) (uint64, error) {
	r, err := e.vrf.Outcome(ctx, tx, g.RandomnessRequestID)
	if err != nil {
		return 0, err
	}
	outcome := *r.Outcome

	h, err := tx.House(ctx)
	if err != nil {
		return 0, err
	}
	splitter, err := payout.NewSplitter(h.FeeBps)
	if err != nil {
		return 0, err
	}
	esc, err := tx.Escrow(ctx, g.ID)
	if err != nil {
		return 0, err
	}
	pool := esc.Pool

	res, err := rules.Resolve(g.Type, outcome, len(g.Participants))
	if err != nil {
		return 0, err
	}
	fee, shares, err := splitter.Distribute(pool, len(res.Winners))
	if err != nil {
		return 0, err
	}

	if err := e.ledger.AccrueFee(ctx, tx, g.ID, fee); err != nil {
		return 0, err
	}
	winners := make([]string, len(res.Winners))
	for i, seat := range res.Winners {
		winners[i] = g.Participants[seat]
		if err := e.ledger.Payout(ctx, tx, g.ID, winners[i], shares[i]); err != nil {
			return 0, err
		}
	}
	if err := e.ledger.Close(ctx, tx, g.ID); err != nil {
		return 0, err
	}
	if err := e.vrf.Consume(ctx, tx, g.ID, g.RandomnessRequestID); err != nil {
		return 0, err
	}

	now := e.now().UTC()
	g.State = model.StateSettled
	g.Outcome = &outcome
	g.Winners = winners
	g.Rolls = res.Rolls
	g.Payouts = shares
	g.Fee = fee
	g.ClosedAt = &now
	return pool, tx.PutGame(ctx, g)
}

// CancelGame refunds every stake. The creator may cancel an open game;
// anyone may cancel a game whose randomness timed out without arriving.
func (e *Engine) CancelGame(ctx context.Context, caller, id string) (*GameView, error) {
	var view *GameView
	err := e.run(ctx, "cancel_game", []attribute.KeyValue{
		attribute.String("caller", caller),
		attribute.String("game", id),
	}, func(ctx context.Context) ([]model.Event, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		plan := func(ctx context.Context) ([]string, error) {
			g, err := e.snapshot(ctx, id)
			if err != nil {
				return nil, err
			}
			return participantKeys(g), nil
		}

		var g *model.Game
		var refunded uint64
		err := e.atomic(ctx, "cancel_game", plan, func(tx store.Tx) error {
			var err error
			g, err = loadGame(ctx, tx, id)
			if err != nil {
				return err
			}
			switch g.State {
			case model.StateSettled:
				return model.ErrCancelNotAllowed.With("%s is already settled", id)
			case model.StateCancelled:
				return model.ErrGameCancelled.With("%s", id)
			case model.StateOpen:
				if caller != g.Creator {
					return model.ErrUnauthorized.With("only the creator may cancel open game %s", id)
				}
			case model.StateAwaitingRandomness:
				deadline := g.AwaitingSince.Add(e.timeout)
				if e.now().Before(deadline) {
					return model.ErrCancelNotAllowed.With(
						"%s is awaiting randomness until %s", id, deadline.Format(time.RFC3339))
				}
				req, err := tx.Request(ctx, g.RandomnessRequestID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if req != nil && req.Fulfilled {
					return model.ErrCancelNotAllowed.With("%s has its randomness; settle it instead", id)
				}
			}

			refunded, err = e.ledger.RefundAll(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := e.vrf.Discard(ctx, tx, id, g.RandomnessRequestID); err != nil {
				return err
			}
			now := e.now().UTC()
			g.State = model.StateCancelled
			g.ClosedAt = &now
			return tx.PutGame(ctx, g)
		})
		if err != nil {
			return nil, err
		}

		metrics.GamesTotal.WithLabelValues(string(g.Type), "cancelled").Inc()
		slog.Info("game cancelled", "game", id, "caller", caller, "refunded", refunded)
		view = e.view(g, &model.Escrow{GameID: id, Closed: true})
		ev := e.event(model.EventGameCancelled, g)
		ev.Identity = caller
		ev.Amount = refunded
		return []model.Event{ev}, nil
	})
	return view, err
}
