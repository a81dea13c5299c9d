// Package game implements the wager lifecycle state machine.
//
// Every transition runs as one store transaction over the accounts it
// declares up front. Value moves only through the escrow ledger, and
// randomness only through the vrf adapter. Events are published after the
// transaction commits, never before.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atmx/wager-engine/internal/escrow"
	"github.com/atmx/wager-engine/internal/limits"
	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/store"
	"github.com/atmx/wager-engine/internal/vrf"
)

// DefaultTimeout is how long a game may wait for randomness before anyone
// may cancel it.
const DefaultTimeout = 10 * time.Minute

// maxAttempts bounds re-planning when a transaction's account set changes
// between planning and locking.
const maxAttempts = 3

// Publisher receives events after their transition commits. Publish must
// not block.
type Publisher interface {
	Publish(ev model.Event)
}

// Engine runs game transitions.
type Engine struct {
	store      store.Store
	ledger     *escrow.Ledger
	vrf        *vrf.Adapter
	limiter    *limits.StakeLimiter
	publishers []Publisher
	now        func() time.Time
	timeout    time.Duration
	authority  string
	tracer     trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublishers adds post-commit event subscribers.
func WithPublishers(p ...Publisher) Option {
	return func(e *Engine) { e.publishers = append(e.publishers, p...) }
}

// WithTimeout sets how long AwaitingRandomness lasts before a permissionless
// cancel is allowed.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithHouseAuthority restricts InitializeHouse to one identity.
func WithHouseAuthority(identity string) Option {
	return func(e *Engine) { e.authority = identity }
}

// WithLimiter sets wager and exposure limits.
func WithLimiter(l *limits.StakeLimiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine over st, verifying oracle proofs with v.
func NewEngine(st store.Store, v vrf.Verifier, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		limiter: limits.Unlimited(),
		now:     time.Now,
		timeout: DefaultTimeout,
		tracer:  otel.Tracer("github.com/atmx/wager-engine/internal/game"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger = escrow.NewLedger(e.limiter, e.now)
	e.vrf = vrf.NewAdapter(v, e.now)
	return e
}

// Timeout returns the randomness timeout.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// --- transition plumbing ---

// run wraps one transition with tracing, metrics, logging, and post-commit
// publishing. fn returns the events to publish on success.
func (e *Engine) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) ([]model.Event, error)) error {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "game."+op, trace.WithAttributes(attrs...))
	defer span.End()

	events, err := fn(ctx)
	if err != nil {
		result := "error"
		if de, ok := model.AsError(err); ok {
			result = string(de.Code)
			slog.Info("transition rejected", "op", op, "code", de.Code, "err", err)
		} else {
			slog.Error("transition failed", "op", op, "err", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		metrics.ObserveTransition(op, start, result)
		return err
	}

	metrics.ObserveTransition(op, start, "ok")
	for _, ev := range events {
		for _, p := range e.publishers {
			p.Publish(ev)
		}
	}
	return nil
}

// atomic runs fn over the accounts plan declares, re-planning when fn
// touches an account the plan did not foresee. fn must be safe to re-run.
func (e *Engine) atomic(ctx context.Context, op string, plan func(ctx context.Context) ([]string, error), fn func(tx store.Tx) error) error {
	for attempt := 1; ; attempt++ {
		keys, err := plan(ctx)
		if err != nil {
			return err
		}
		err = e.store.Atomic(ctx, keys, fn)
		if errors.Is(err, store.ErrUndeclaredKey) && attempt < maxAttempts {
			metrics.TransitionReplans.WithLabelValues(op).Inc()
			slog.Debug("re-planning transaction", "op", op, "attempt", attempt, "err", err)
			continue
		}
		return err
	}
}

// snapshot reads a game's committed state for planning. It runs as a
// read-only transaction so it never observes a cache.
func (e *Engine) snapshot(ctx context.Context, gameID string) (*model.Game, error) {
	var g *model.Game
	err := e.store.Atomic(ctx, []string{store.GameKey(gameID)}, func(tx store.Tx) error {
		var err error
		g, err = loadGame(ctx, tx, gameID)
		return err
	})
	return g, err
}

func loadGame(ctx context.Context, tx store.Tx, gameID string) (*model.Game, error) {
	g, err := tx.Game(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrGameNotFound.With("%s", gameID)
	}
	return g, err
}

// participantKeys declares every account a settling or cancelling game
// may touch.
func participantKeys(g *model.Game) []string {
	keys := store.GameKeys(g.ID)
	for _, p := range g.Participants {
		keys = append(keys, store.WalletKey(p))
	}
	if g.RandomnessRequestID != "" {
		keys = append(keys, store.RequestKey(g.RandomnessRequestID))
	}
	return keys
}

func requireCaller(caller string) error {
	if caller == "" {
		return model.ErrUnauthorized.With("no caller identity")
	}
	return nil
}

func newRequestID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return id.String(), nil
}

func (e *Engine) event(t model.EventType, g *model.Game) model.Event {
	ev := model.Event{Type: t, Timestamp: e.now().UTC()}
	if g != nil {
		ev.GameID = g.ID
		ev.State = g.State
		ev.RequestID = g.RandomnessRequestID
	}
	return ev
}
