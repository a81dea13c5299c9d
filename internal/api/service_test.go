package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/wager-engine/internal/api"
	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/game"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/store"
)

type acceptAll struct{}

func (acceptAll) Verify(string, string, uint64, []byte) error { return nil }

// newTestEnv creates a Service over an in-memory store with the faucet and
// the development identity header enabled.
func newTestEnv(t *testing.T, opts ...api.Option) (*game.Engine, chi.Router) {
	t.Helper()
	engine := game.NewEngine(store.NewMemoryStore(), acceptAll{})
	opts = append([]api.Option{api.WithFaucet()}, opts...)
	svc := api.NewService(engine, auth.NewAuthenticator(nil, true), opts...)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return engine, r
}

func do(t *testing.T, router http.Handler, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(auth.DevHeader, identity)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code model.Code) api.ErrorResponse {
	t.Helper()
	expectStatus(t, w, status)
	var resp api.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, resp.Code, resp.Error)
	}
	return resp
}

// seed initializes the house at 250 bps and funds alice and bob.
func seed(t *testing.T, router http.Handler) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/house", "owner", api.InitializeHouseRequest{FeePercent: "2.5"})
	expectStatus(t, w, http.StatusCreated)
	for _, id := range []string{"alice", "bob"} {
		w = do(t, router, "POST", "/api/v1/wallets/"+id+"/deposit", "owner", api.DepositRequest{Amount: 1000})
		expectStatus(t, w, http.StatusOK)
	}
}

func TestFullGameFlow(t *testing.T) {
	_, router := newTestEnv(t)
	seed(t, router)

	w := do(t, router, "POST", "/api/v1/games", "alice", api.CreateGameRequest{ID: "g1", Type: "CoinFlip", Wager: 100})
	expectStatus(t, w, http.StatusCreated)

	w = do(t, router, "POST", "/api/v1/games/g1/join", "bob", nil)
	expectStatus(t, w, http.StatusOK)
	var g game.GameView
	json.Unmarshal(w.Body.Bytes(), &g)
	if g.State != model.StateAwaitingRandomness || g.Pool != 200 || g.RandomnessRequestID == "" {
		t.Fatalf("after join: %+v", g)
	}

	w = do(t, router, "POST", "/api/v1/games/g1/settle", "bob", nil)
	expectError(t, w, http.StatusConflict, "RandomnessNotFulfilled")

	// The oracle endpoint needs no identity.
	w = do(t, router, "POST", "/api/v1/randomness/"+g.RandomnessRequestID+"/fulfill", "",
		api.FulfillRequest{Outcome: "0x0", Proof: "00ff"})
	expectStatus(t, w, http.StatusOK)

	w = do(t, router, "POST", "/api/v1/games/g1/settle", "bob", nil)
	expectStatus(t, w, http.StatusOK)
	json.Unmarshal(w.Body.Bytes(), &g)
	if g.State != model.StateSettled || g.Winners[0] != "alice" || g.Payouts[0] != 195 || g.Fee != 5 {
		t.Fatalf("after settle: %+v", g)
	}

	w = do(t, router, "GET", "/api/v1/wallets/alice", "", nil)
	var wallet model.Wallet
	json.Unmarshal(w.Body.Bytes(), &wallet)
	if wallet.Balance != 1095 {
		t.Errorf("alice balance = %d, want 1095", wallet.Balance)
	}

	w = do(t, router, "POST", "/api/v1/house/claim", "alice", nil)
	expectError(t, w, http.StatusForbidden, "Unauthorized")

	w = do(t, router, "POST", "/api/v1/house/claim", "owner", nil)
	expectStatus(t, w, http.StatusOK)
	var claim api.ClaimResponse
	json.Unmarshal(w.Body.Bytes(), &claim)
	if claim.Claimed != 5 {
		t.Errorf("claimed = %d, want 5", claim.Claimed)
	}

	w = do(t, router, "POST", "/api/v1/house/claim", "owner", nil)
	expectError(t, w, http.StatusUnprocessableEntity, "NothingToClaim")

	w = do(t, router, "GET", "/api/v1/games/g1/ledger", "", nil)
	expectStatus(t, w, http.StatusOK)
	var entries []model.LedgerEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	// escrow x2, fee, payout
	if len(entries) != 4 {
		t.Errorf("ledger has %d entries: %+v", len(entries), entries)
	}
}

func TestHouse_Endpoints(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/house", "", nil)
	expectError(t, w, http.StatusConflict, "HouseNotInitialized")

	fee := uint16(10001)
	w = do(t, router, "POST", "/api/v1/house", "owner", api.InitializeHouseRequest{FeeBps: &fee})
	expectError(t, w, http.StatusBadRequest, "InvalidFeePercent")

	w = do(t, router, "POST", "/api/v1/house", "owner", api.InitializeHouseRequest{})
	expectError(t, w, http.StatusBadRequest, "InvalidFeePercent")

	w = do(t, router, "POST", "/api/v1/house", "owner", api.InitializeHouseRequest{FeePercent: "0.001"})
	expectError(t, w, http.StatusBadRequest, "InvalidFeePercent")

	fee = 500
	w = do(t, router, "POST", "/api/v1/house", "owner", api.InitializeHouseRequest{FeeBps: &fee})
	expectStatus(t, w, http.StatusCreated)

	w = do(t, router, "POST", "/api/v1/house", "owner", api.InitializeHouseRequest{FeeBps: &fee})
	expectError(t, w, http.StatusConflict, "AlreadyInitialized")

	w = do(t, router, "GET", "/api/v1/house", "", nil)
	expectStatus(t, w, http.StatusOK)
	var h game.HouseView
	json.Unmarshal(w.Body.Bytes(), &h)
	if h.Owner != "owner" || h.FeePercent != "5.00%" {
		t.Errorf("house = %+v", h)
	}
}

func TestErrorMapping(t *testing.T) {
	_, router := newTestEnv(t)
	seed(t, router)
	do(t, router, "POST", "/api/v1/games", "alice", api.CreateGameRequest{ID: "g1", Type: "dice", Wager: 10})

	tests := []struct {
		name     string
		method   string
		path     string
		identity string
		body     any
		status   int
		code     model.Code
	}{
		{"no identity", "POST", "/api/v1/games", "", api.CreateGameRequest{ID: "g2", Type: "dice", Wager: 10}, 401, "Unauthorized"},
		{"bad type", "POST", "/api/v1/games", "alice", api.CreateGameRequest{ID: "g2", Type: "chess", Wager: 10}, 400, "InvalidGameType"},
		{"bad id", "POST", "/api/v1/games", "alice", api.CreateGameRequest{ID: "a b", Type: "dice", Wager: 10}, 400, "InvalidGameId"},
		{"zero wager", "POST", "/api/v1/games", "alice", api.CreateGameRequest{ID: "g2", Type: "dice"}, 400, "InvalidWager"},
		{"duplicate", "POST", "/api/v1/games", "bob", api.CreateGameRequest{ID: "g1", Type: "dice", Wager: 10}, 409, "DuplicateGameId"},
		{"insufficient", "POST", "/api/v1/games", "carol", api.CreateGameRequest{ID: "g3", Type: "dice", Wager: 10}, 422, "InsufficientFunds"},
		{"unknown game", "GET", "/api/v1/games/nope", "", nil, 404, "GameNotFound"},
		{"join unknown", "POST", "/api/v1/games/nope/join", "bob", nil, 404, "GameNotFound"},
		{"already joined", "POST", "/api/v1/games/g1/join", "alice", nil, 400, "AlreadyJoined"},
		{"cancel by stranger", "POST", "/api/v1/games/g1/cancel", "bob", nil, 403, "Unauthorized"},
		{"settle open", "POST", "/api/v1/games/g1/settle", "bob", nil, 409, "NotAwaitingRandomness"},
		{"fulfill unknown", "POST", "/api/v1/randomness/nope/fulfill", "", api.FulfillRequest{Outcome: "1", Proof: "aa"}, 404, "UnknownRequest"},
		{"bad outcome", "POST", "/api/v1/randomness/nope/fulfill", "", api.FulfillRequest{Outcome: "-1", Proof: "aa"}, 400, "BadRequest"},
		{"bad proof", "POST", "/api/v1/randomness/nope/fulfill", "", api.FulfillRequest{Outcome: "1", Proof: "zz"}, 400, "BadRequest"},
		{"bad state filter", "GET", "/api/v1/games?state=paused", "", nil, 400, "BadRequest"},
		{"zero deposit", "POST", "/api/v1/wallets/bob/deposit", "bob", api.DepositRequest{}, 400, "InvalidAmount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.identity, tt.body)
			expectError(t, w, tt.status, tt.code)
		})
	}
}

func TestErrorMapping_ActionableMessage(t *testing.T) {
	_, router := newTestEnv(t)
	seed(t, router)

	w := do(t, router, "POST", "/api/v1/games", "carol", api.CreateGameRequest{ID: "g1", Type: "dice", Wager: 10})
	resp := expectError(t, w, http.StatusUnprocessableEntity, "InsufficientFunds")
	if !strings.Contains(resp.Error, "insufficient balance to cover the wager") {
		t.Errorf("message = %q", resp.Error)
	}
	if resp.Kind != model.KindFunds {
		t.Errorf("kind = %q", resp.Kind)
	}
}

func TestInvalidBody(t *testing.T) {
	_, router := newTestEnv(t)
	seed(t, router)

	req := httptest.NewRequest("POST", "/api/v1/games", strings.NewReader(`{"id": "g1", "wager": "ten"}`))
	req.Header.Set(auth.DevHeader, "alice")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	expectError(t, w, http.StatusBadRequest, "BadRequest")

	req = httptest.NewRequest("POST", "/api/v1/games", strings.NewReader(`{"id": "g1", "type": "dice", "wager": 1, "extra": true}`))
	req.Header.Set(auth.DevHeader, "alice")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	expectError(t, w, http.StatusBadRequest, "BadRequest")
}

func TestListGames_Filter(t *testing.T) {
	_, router := newTestEnv(t)
	seed(t, router)
	do(t, router, "POST", "/api/v1/games", "alice", api.CreateGameRequest{ID: "a", Type: "lottery", Wager: 10})
	do(t, router, "POST", "/api/v1/games", "alice", api.CreateGameRequest{ID: "b", Type: "coinflip", Wager: 10})
	do(t, router, "POST", "/api/v1/games/b/join", "bob", nil)

	w := do(t, router, "GET", "/api/v1/games?state=open", "", nil)
	expectStatus(t, w, http.StatusOK)
	var games []game.GameView
	json.Unmarshal(w.Body.Bytes(), &games)
	if len(games) != 1 || games[0].ID != "a" {
		t.Errorf("open games = %+v", games)
	}

	_, empty := newTestEnv(t)
	w = do(t, empty, "GET", "/api/v1/games", "", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty list body = %q", w.Body.String())
	}
}

func TestGameTypes(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/game-types", "", nil)
	expectStatus(t, w, http.StatusOK)
	var types []struct {
		Type       string `json:"type"`
		MaxPlayers int    `json:"max_players"`
	}
	json.Unmarshal(w.Body.Bytes(), &types)
	if len(types) != 4 {
		t.Fatalf("types = %+v", types)
	}
}

func TestFaucetDisabled(t *testing.T) {
	engine := game.NewEngine(store.NewMemoryStore(), acceptAll{})
	svc := api.NewService(engine, auth.NewAuthenticator(nil, true))
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	w := do(t, r, "POST", "/api/v1/wallets/alice/deposit", "alice", api.DepositRequest{Amount: 10})
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("faucet reachable: %d", w.Code)
	}
}

func TestBearerToken(t *testing.T) {
	pub, priv, _ := auth.GenerateKey()
	issuer, _ := auth.NewIssuer(priv, "wagerctl", "wager-engine", time.Hour)
	verifier, _ := auth.NewVerifier(pub, "wagerctl", "wager-engine")

	engine := game.NewEngine(store.NewMemoryStore(), acceptAll{})
	svc := api.NewService(engine, auth.NewAuthenticator(verifier, false))
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	token, _ := issuer.Issue("owner")
	req := httptest.NewRequest("POST", "/api/v1/house", strings.NewReader(`{"fee_bps": 100}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusCreated)

	h, err := engine.House(context.Background())
	if err != nil || h.Owner != "owner" {
		t.Fatalf("house = %+v, %v", h, err)
	}

	// The dev header is ignored when not enabled.
	w = do(t, r, "POST", "/api/v1/house/claim", "owner", nil)
	expectError(t, w, http.StatusUnauthorized, "Unauthorized")

	req = httptest.NewRequest("POST", "/api/v1/house/claim", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	expectError(t, w, http.StatusForbidden, "Unauthorized")
}
