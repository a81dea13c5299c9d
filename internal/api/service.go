// Package api provides the HTTP handlers for the wager engine: house
// setup, the game lifecycle, oracle fulfillment, and read-only queries.
//
// Every amount is an unsigned integer in base units. Mutations identify
// the caller through the auth package; the oracle endpoint is
// authenticated by its proof instead.
package api

import (
	"context"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/game"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/payout"
	"github.com/atmx/wager-engine/internal/rules"
)

// Service exposes an Engine over HTTP.
type Service struct {
	engine *game.Engine
	authn  *auth.Authenticator
	hub    *Hub // optional
	faucet bool
}

// Option configures a Service.
type Option func(*Service)

// WithHub serves the event stream at /ws.
func WithHub(h *Hub) Option {
	return func(s *Service) { s.hub = h }
}

// WithFaucet enables POST /wallets/{identity}/deposit.
func WithFaucet() Option {
	return func(s *Service) { s.faucet = true }
}

// NewService creates the HTTP service.
func NewService(e *game.Engine, authn *auth.Authenticator, opts ...Option) *Service {
	s := &Service{engine: e, authn: authn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers every endpoint on r, which is mounted at /api/v1.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	// Reads.
	r.Get("/house", s.GetHouse)
	r.Get("/game-types", s.ListGameTypes)
	r.Get("/games", s.ListGames)
	r.Get("/games/{gameID}", s.GetGame)
	r.Get("/games/{gameID}/ledger", s.GetLedger)
	r.Get("/wallets/{identity}", s.GetWallet)

	// The proof is the credential.
	r.Post("/randomness/{requestID}/fulfill", s.FulfillRandomness)

	r.Group(func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Post("/house", s.InitializeHouse)
		r.Post("/house/claim", s.ClaimFees)

		r.Post("/games", s.CreateGame)
		r.Post("/games/{gameID}/join", s.JoinGame)
		r.Post("/games/{gameID}/begin", s.BeginSettlement)
		r.Post("/games/{gameID}/settle", s.SettleGame)
		r.Post("/games/{gameID}/cancel", s.CancelGame)

		if s.faucet {
			r.Post("/wallets/{identity}/deposit", s.Deposit)
		}
	})
}

// requireIdentity rejects unauthenticated mutations and stores the caller
// identity in the request context.
func (s *Service) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authn.Identify(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// --- Request types ---

// InitializeHouseRequest is the JSON body for POST /house. Exactly one of
// FeeBps or FeePercent is expected; FeePercent accepts values like "2.5".
type InitializeHouseRequest struct {
	FeeBps     *uint16 `json:"fee_bps,omitempty"`
	FeePercent string  `json:"fee_percent,omitempty"`
}

// CreateGameRequest is the JSON body for POST /games.
type CreateGameRequest struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Wager uint64 `json:"wager"`
}

// FulfillRequest is the JSON body posted by the oracle. Outcome is a
// decimal or 0x-prefixed hex uint64; Proof is hex.
type FulfillRequest struct {
	Outcome string `json:"outcome"`
	Proof   string `json:"proof"`
}

// DepositRequest is the JSON body for the development faucet.
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

// ClaimResponse is returned from POST /house/claim.
type ClaimResponse struct {
	Owner   string `json:"owner"`
	Claimed uint64 `json:"claimed"`
}

// --- House ---

// InitializeHouse handles POST /api/v1/house
func (s *Service) InitializeHouse(w http.ResponseWriter, r *http.Request) {
	var req InitializeHouseRequest
	if !decode(w, r, &req) {
		return
	}

	var bps uint16
	switch {
	case req.FeeBps != nil && req.FeePercent != "":
		writeError(w, model.ErrInvalidFeePercent.With("set fee_bps or fee_percent, not both"))
		return
	case req.FeeBps != nil:
		bps = *req.FeeBps
	case req.FeePercent != "":
		var err error
		if bps, err = payout.ParseFeePercent(strings.TrimSuffix(strings.TrimSpace(req.FeePercent), "%")); err != nil {
			writeError(w, err)
			return
		}
	default:
		writeError(w, model.ErrInvalidFeePercent.With("fee_bps or fee_percent is required"))
		return
	}

	h, err := s.engine.InitializeHouse(r.Context(), auth.Identity(r.Context()), bps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

// GetHouse handles GET /api/v1/house
func (s *Service) GetHouse(w http.ResponseWriter, r *http.Request) {
	h, err := s.engine.House(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// ClaimFees handles POST /api/v1/house/claim
func (s *Service) ClaimFees(w http.ResponseWriter, r *http.Request) {
	caller := auth.Identity(r.Context())
	amount, err := s.engine.ClaimFees(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{Owner: caller, Claimed: amount})
}

// --- Games ---

// ListGameTypes handles GET /api/v1/game-types
func (s *Service) ListGameTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rules.Catalog())
}

// ListGames handles GET /api/v1/games
// Optionally filtered by ?state=<open|awaiting_randomness|settled|cancelled>.
func (s *Service) ListGames(w http.ResponseWriter, r *http.Request) {
	state := model.GameState(r.URL.Query().Get("state"))
	switch state {
	case "", model.StateOpen, model.StateAwaitingRandomness, model.StateSettled, model.StateCancelled:
	default:
		writeBadRequest(w, "unknown state filter "+strconv.Quote(string(state)))
		return
	}

	games, err := s.engine.ListGames(r.Context(), state)
	if err != nil {
		writeError(w, err)
		return
	}
	if games == nil {
		games = []game.GameView{}
	}
	writeJSON(w, http.StatusOK, games)
}

// CreateGame handles POST /api/v1/games
func (s *Service) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if !decode(w, r, &req) {
		return
	}
	spec, err := rules.ParseGameType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}

	g, err := s.engine.CreateGame(r.Context(), auth.Identity(r.Context()), req.ID, spec.Type, req.Wager)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// GetGame handles GET /api/v1/games/{gameID}
func (s *Service) GetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.engine.Game(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetLedger handles GET /api/v1/games/{gameID}/ledger
// Returns every value movement of the game in commit order.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Ledger(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// JoinGame handles POST /api/v1/games/{gameID}/join
func (s *Service) JoinGame(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.JoinGame)
}

// BeginSettlement handles POST /api/v1/games/{gameID}/begin
func (s *Service) BeginSettlement(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.BeginSettlement)
}

// SettleGame handles POST /api/v1/games/{gameID}/settle
func (s *Service) SettleGame(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.SettleGame)
}

// CancelGame handles POST /api/v1/games/{gameID}/cancel
func (s *Service) CancelGame(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.CancelGame)
}

// transition runs a body-less game transition named by the URL.
func (s *Service) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, caller, id string) (*game.GameView, error)) {
	g, err := fn(r.Context(), auth.Identity(r.Context()), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// --- Randomness ---

// FulfillRandomness handles POST /api/v1/randomness/{requestID}/fulfill
func (s *Service) FulfillRandomness(w http.ResponseWriter, r *http.Request) {
	var req FulfillRequest
	if !decode(w, r, &req) {
		return
	}
	outcome, err := strconv.ParseUint(strings.TrimSpace(req.Outcome), 0, 64)
	if err != nil {
		writeBadRequest(w, "outcome must be a uint64 in decimal or 0x-prefixed hex")
		return
	}
	proof, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Proof), "0x"))
	if err != nil || len(proof) == 0 {
		writeBadRequest(w, "proof must be non-empty hex")
		return
	}

	requestID := chi.URLParam(r, "requestID")
	if err := s.engine.FulfillRandomness(r.Context(), requestID, outcome, proof); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID,
		"fulfilled":  true,
	})
}

// --- Wallets ---

// GetWallet handles GET /api/v1/wallets/{identity}
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.engine.Wallet(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// Deposit handles POST /api/v1/wallets/{identity}/deposit
// Any authenticated caller may fund any wallet; the route exists only when
// the faucet is enabled.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	wallet, err := s.engine.Deposit(r.Context(), chi.URLParam(r, "identity"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}
