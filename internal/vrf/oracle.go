package vrf

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/wager-engine/internal/model"
)

// Fulfiller accepts oracle responses. The game engine implements it.
type Fulfiller interface {
	FulfillRandomness(ctx context.Context, requestID string, outcome uint64, proof []byte) error
}

// LocalOracle is an in-process oracle for development. It listens for
// randomness_requested events and answers each one with a signed proof.
type LocalOracle struct {
	signer *Signer
	delay  time.Duration
	queue  chan model.Event
}

// NewLocalOracle creates an oracle that answers after delay.
func NewLocalOracle(signer *Signer, delay time.Duration) *LocalOracle {
	return &LocalOracle{
		signer: signer,
		delay:  delay,
		queue:  make(chan model.Event, 256),
	}
}

// Publish queues randomness requests. Other events are ignored. A full
// queue drops the request; the game then times out and can be cancelled.
func (o *LocalOracle) Publish(ev model.Event) {
	if ev.Type != model.EventRandomnessRequested {
		return
	}
	select {
	case o.queue <- ev:
	default:
		slog.Warn("local oracle queue full, dropping request",
			"game", ev.GameID, "request", ev.RequestID)
	}
}

// Run answers queued requests until ctx is done.
func (o *LocalOracle) Run(ctx context.Context, f Fulfiller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.queue:
			if o.delay > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(o.delay):
				}
			}
			o.answer(ctx, f, ev)
		}
	}
}

func (o *LocalOracle) answer(ctx context.Context, f Fulfiller, ev model.Event) {
	outcome, proof, err := o.signer.Prove(ev.GameID, ev.RequestID)
	if err != nil {
		slog.Error("local oracle prove failed", "request", ev.RequestID, "err", err)
		return
	}
	if err := f.FulfillRandomness(ctx, ev.RequestID, outcome, proof); err != nil {
		slog.Warn("local oracle fulfill rejected",
			"game", ev.GameID,
			"request", ev.RequestID,
			"err", err,
		)
		return
	}
	slog.Info("local oracle fulfilled request",
		"game", ev.GameID,
		"request", ev.RequestID,
		"outcome", outcome,
	)
}
