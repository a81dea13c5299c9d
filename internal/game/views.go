package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/payout"
	"github.com/atmx/wager-engine/internal/rules"
	"github.com/atmx/wager-engine/internal/store"
)

// GameView is a game with its escrow pool and derived fields.
type GameView struct {
	model.Game
	Pool          uint64     `json:"pool"`
	MinPlayers    int        `json:"min_players"`
	MaxPlayers    int        `json:"max_players"`
	CancellableAt *time.Time `json:"cancellable_at,omitempty"`
}

// HouseView is the house with its fee rendered as a percentage.
type HouseView struct {
	model.House
	FeePercent string `json:"fee_percent"`
}

func (e *Engine) view(g *model.Game, esc *model.Escrow) *GameView {
	v := &GameView{Game: *g}
	if esc != nil {
		v.Pool = esc.Pool
	}
	if spec, err := rules.Lookup(g.Type); err == nil {
		v.MinPlayers = spec.MinPlayers
		v.MaxPlayers = spec.MaxPlayers
	}
	if g.State == model.StateAwaitingRandomness && g.AwaitingSince != nil {
		at := g.AwaitingSince.Add(e.timeout)
		v.CancellableAt = &at
	}
	return v
}

// House returns the house record.
func (e *Engine) House(ctx context.Context) (*HouseView, error) {
	h, err := e.store.GetHouse(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrHouseNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return &HouseView{House: *h, FeePercent: payout.FormatBps(h.FeeBps)}, nil
}

// Game returns one game.
func (e *Engine) Game(ctx context.Context, id string) (*GameView, error) {
	g, err := e.store.GetGame(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrGameNotFound.With("%s", id)
	}
	if err != nil {
		return nil, err
	}
	esc, err := e.store.GetEscrow(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return e.view(g, esc), nil
}

// ListGames returns games ordered by creation time, optionally filtered by
// state.
func (e *Engine) ListGames(ctx context.Context, state model.GameState) ([]GameView, error) {
	games, err := e.store.ListGames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GameView, 0, len(games))
	for i := range games {
		g := &games[i]
		if state != "" && g.State != state {
			continue
		}
		esc, err := e.store.GetEscrow(ctx, g.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("escrow for %s: %w", g.ID, err)
		}
		out = append(out, *e.view(g, esc))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Wallet returns an identity's wallet. Unknown identities have a zero
// balance.
func (e *Engine) Wallet(ctx context.Context, identity string) (*model.Wallet, error) {
	return e.store.GetWallet(ctx, identity)
}

// Ledger returns the journal for one game, or every entry when gameID is
// empty.
func (e *Engine) Ledger(ctx context.Context, gameID string) ([]model.LedgerEntry, error) {
	if gameID != "" {
		if _, err := e.store.GetGame(ctx, gameID); errors.Is(err, store.ErrNotFound) {
			return nil, model.ErrGameNotFound.With("%s", gameID)
		}
	}
	entries, err := e.store.ListEntries(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}
