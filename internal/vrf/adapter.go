// Package vrf correlates randomness requests with oracle fulfillments and
// verifies the oracle's proofs.
//
// A request is created when a game begins settlement and is addressed by a
// UUIDv7 the engine generates up front, so the request account can be
// declared before the transaction runs. Settlement consumes the request;
// cancellation discards it. Either way the account is deleted, and a late
// fulfill fails with UnknownRequest.
package vrf

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/store"
)

// Adapter manages request accounts inside store transactions.
type Adapter struct {
	verifier Verifier
	now      func() time.Time
}

// NewAdapter creates an adapter verifying proofs with v. A nil clock uses
// time.Now.
func NewAdapter(v Verifier, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{verifier: v, now: now}
}

// Request opens a randomness request for a game. The transaction must
// declare RequestKey(requestID) and PendingKey(gameID).
func (a *Adapter) Request(ctx context.Context, tx store.Tx, gameID, requestID string) (*model.RandomnessRequest, error) {
	live, err := tx.PendingRequest(ctx, gameID)
	if err == nil {
		return nil, model.ErrRequestAlreadyPending.With("game %s has request %s", gameID, live)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	r := &model.RandomnessRequest{
		ID:          requestID,
		GameID:      gameID,
		RequestedAt: a.now().UTC(),
	}
	if err := tx.PutRequest(ctx, r); err != nil {
		return nil, err
	}
	if err := tx.PutPendingRequest(ctx, gameID, requestID); err != nil {
		return nil, err
	}
	return r, nil
}

// Fulfill records a verified outcome. The transaction must declare
// RequestKey(requestID).
func (a *Adapter) Fulfill(ctx context.Context, tx store.Tx, requestID string, outcome uint64, proof []byte) (*model.RandomnessRequest, error) {
	r, err := a.load(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Fulfilled {
		return nil, model.ErrRequestAlreadyFulfilled.With("request %s", requestID)
	}
	if err := a.verifier.Verify(r.GameID, r.ID, outcome, proof); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	r.Fulfilled = true
	r.Outcome = &outcome
	r.Proof = proof
	r.FulfilledAt = &now
	if err := tx.PutRequest(ctx, r); err != nil {
		return nil, err
	}
	metrics.FulfillLatency.Observe(now.Sub(r.RequestedAt).Seconds())
	return r, nil
}

// Outcome returns the fulfilled outcome of a request.
func (a *Adapter) Outcome(ctx context.Context, tx store.Tx, requestID string) (*model.RandomnessRequest, error) {
	r, err := a.load(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if !r.Fulfilled || r.Outcome == nil {
		return nil, model.ErrRandomnessNotFulfilled.With("request %s", requestID)
	}
	return r, nil
}

// Consume deletes a fulfilled request once settlement has used it.
func (a *Adapter) Consume(ctx context.Context, tx store.Tx, gameID, requestID string) error {
	return a.remove(ctx, tx, gameID, requestID)
}

// Discard deletes a request whether or not it was fulfilled. Missing
// requests are ignored.
func (a *Adapter) Discard(ctx context.Context, tx store.Tx, gameID, requestID string) error {
	if requestID == "" {
		return nil
	}
	return a.remove(ctx, tx, gameID, requestID)
}

func (a *Adapter) remove(ctx context.Context, tx store.Tx, gameID, requestID string) error {
	if err := tx.DeleteRequest(ctx, requestID); err != nil {
		return err
	}
	return tx.DeletePendingRequest(ctx, gameID)
}

func (a *Adapter) load(ctx context.Context, tx store.Tx, requestID string) (*model.RandomnessRequest, error) {
	r, err := tx.Request(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrUnknownRequest.With("request %s", requestID)
	}
	return r, err
}
