package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tftstocks/market-engine/internal/leaderboard"
	"github.com/tftstocks/market-engine/internal/model"
	"github.com/tftstocks/market-engine/internal/trade"
	"github.com/tftstocks/market-engine/internal/valuation"
)

// newTestRouter mounts the API over the engine fixture.
func newTestRouter(t *testing.T, e *env) chi.Router {
	t.Helper()
	tr := e.engine.Pricing()
	vs := valuation.NewService(e.store, tr, nil).WithClock(e.clock.Now)
	board := leaderboard.NewBoard(e.store, tr)
	svc := trade.NewService(e.engine, e.store, vs, board, nil, nil)

	r := chi.NewRouter()
	r.Mount("/api/v1", svc.Routes())
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(trade.HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return resp["error"]
}

var combinedPath = "/api/v1/players/" + url.PathEscape("Dishsoap#NA1")

// --- Trade execution ---

func TestExecuteTrade_Buy(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)

	w := doRequest(t, router, "POST", combinedPath+"/buy", "u-1", trade.TradeRequest{Shares: 50})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.TradeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TransactionID == "" {
		t.Error("expected non-empty transaction_id")
	}
	if resp.Player != "Dishsoap#NA1" {
		t.Errorf("expected player Dishsoap#NA1, got %s", resp.Player)
	}
	if !resp.Balance.Equal(d(95000)) || !resp.Total.Equal(d(5000)) {
		t.Errorf("expected balance 95000 and total 5000, got %s and %s", resp.Balance, resp.Total)
	}
	if resp.Holding == nil || resp.Holding.Shares != 50 {
		t.Errorf("expected holding of 50, got %+v", resp.Holding)
	}
	if resp.LockExpiresAt == nil || !resp.LockExpiresAt.Equal(t0.Add(3*time.Hour)) {
		t.Errorf("expected lock expiry t0+3h, got %v", resp.LockExpiresAt)
	}
}

func TestExecuteTrade_SplitPathCaseInsensitive(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)

	w := doRequest(t, router, "POST", "/api/v1/players/dishsoap/na1/buy", "u-1", trade.TradeRequest{Shares: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteTrade_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		user   string
		body   any
		status int
	}{
		{"missing caller", combinedPath + "/buy", "", trade.TradeRequest{Shares: 1}, http.StatusUnauthorized},
		{"invalid type", combinedPath + "/short", "u-1", trade.TradeRequest{Shares: 1}, http.StatusBadRequest},
		{"zero shares", combinedPath + "/buy", "u-1", trade.TradeRequest{Shares: 0}, http.StatusBadRequest},
		{"fractional shares", combinedPath + "/buy", "u-1", map[string]float64{"shares": 1.5}, http.StatusBadRequest},
		{"insufficient balance", combinedPath + "/buy", "u-1", trade.TradeRequest{Shares: 5000}, http.StatusBadRequest},
		{"no holding", combinedPath + "/sell", "u-1", trade.TradeRequest{Shares: 1}, http.StatusNotFound},
		{"malformed ref", "/api/v1/players/" + url.PathEscape("NoTag") + "/buy", "u-1", trade.TradeRequest{Shares: 1}, http.StatusBadRequest},
		{"unknown player", "/api/v1/players/" + url.PathEscape("Ghost#NA1") + "/buy", "u-1", trade.TradeRequest{Shares: 1}, http.StatusNotFound},
		{"unknown user", combinedPath + "/buy", "ghost", trade.TradeRequest{Shares: 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			router := newTestRouter(t, e)
			w := doRequest(t, router, "POST", tt.path, tt.user, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if errorBody(t, w) == "" {
				t.Error("expected error message in body")
			}
		})
	}
}

func TestExecuteTrade_HeldSharesRejected(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)

	if w := doRequest(t, router, "POST", combinedPath+"/buy", "u-1", trade.TradeRequest{Shares: 10}); w.Code != http.StatusOK {
		t.Fatalf("buy: %d %s", w.Code, w.Body.String())
	}
	w := doRequest(t, router, "POST", combinedPath+"/sell", "u-1", trade.TradeRequest{Shares: 1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	e.clock.Advance(3 * time.Hour)
	w = doRequest(t, router, "POST", combinedPath+"/sell", "u-1", trade.TradeRequest{Shares: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after lock expiry, got %d: %s", w.Code, w.Body.String())
	}
	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Holding != nil {
		t.Errorf("expected closed position, got %+v", resp.Holding)
	}
}

// --- Read endpoints ---

func TestGetPlayer(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)
	setPrice(t, e.store, "pl-1", time.Now().Add(-time.Hour), 140)

	w := doRequest(t, router, "GET", "/api/v1/players/Dishsoap/NA1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var hist model.PlayerHistory
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hist.Player.ID != "pl-1" {
		t.Errorf("expected pl-1, got %s", hist.Player.ID)
	}
	if len(hist.Prices) != 1 || len(hist.Dates) != 1 {
		t.Fatalf("expected one sample in window, got %d prices", len(hist.Prices))
	}
	if !hist.LatestPrice.Equal(d(140)) {
		t.Errorf("expected latest price 140, got %s", hist.LatestPrice)
	}
}

func TestGetPlayer_BadDays(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)
	for _, q := range []string{"0", "31", "x"} {
		w := doRequest(t, router, "GET", "/api/v1/players/Dishsoap/NA1?days="+q, "", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("days=%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestLeaderboard_UnknownMetric(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)
	w := doRequest(t, router, "GET", "/api/v1/leaderboard/volume", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLeaderboard_Price(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)

	w := doRequest(t, router, "GET", "/api/v1/leaderboard/price?page=0&limit=10", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp trade.LeaderboardResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Limit != 10 || len(resp.Players) != 1 || resp.Players[0].Rank != 1 {
		t.Errorf("unexpected page %+v", resp)
	}
}

func TestLeaderboard_Portfolio(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)

	w := doRequest(t, router, "GET", "/api/v1/leaderboard/portfolio?league=lg-1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp trade.LeaderboardResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Portfolios) != 1 || resp.Portfolios[0].Username != "alice" {
		t.Errorf("unexpected portfolios %+v", resp.Portfolios)
	}
}

func TestLeaderboard_BadPage(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)
	w := doRequest(t, router, "GET", "/api/v1/leaderboard/price?page=-1", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTopLeaderboard(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)
	w := doRequest(t, router, "GET", "/api/v1/leaderboard/top", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var top model.TopBoard
	json.Unmarshal(w.Body.Bytes(), &top)
	if top.Price == nil || top.Price.Name != "Dishsoap" {
		t.Errorf("expected Dishsoap to lead price, got %+v", top.Price)
	}
}

func TestGetUserPortfolio(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)
	if _, err := e.engine.Execute(context.Background(), e.order(model.TradeBuy, 10)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	w := doRequest(t, router, "GET", "/api/v1/users/alice", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var snap model.PortfolioSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Balance.Equal(d(99000)) || !snap.CurrentValue.Equal(d(100000)) {
		t.Errorf("expected balance 99000 and value 100000, got %s and %s", snap.Balance, snap.CurrentValue)
	}
	if len(snap.Holdings) != 1 || snap.Holdings[0].LockedShares != 10 || snap.Holdings[0].FreeShares != 0 {
		t.Errorf("unexpected holdings %+v", snap.Holdings)
	}
}

func TestGetUserPortfolio_NotFound(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)

	if w := doRequest(t, router, "GET", "/api/v1/users/nobody", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", w.Code)
	}
	if w := doRequest(t, router, "GET", "/api/v1/users/alice?league=other", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown league: expected 404, got %d", w.Code)
	}
}

func TestDashboardAndTransactions(t *testing.T) {
	e := newEnv(t)
	router := newTestRouter(t, e)

	if w := doRequest(t, router, "GET", "/api/v1/dashboard", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("dashboard without caller: expected 401, got %d", w.Code)
	}

	doRequest(t, router, "POST", combinedPath+"/buy", "u-1", trade.TradeRequest{Shares: 2})
	e.clock.Advance(time.Minute)
	doRequest(t, router, "POST", combinedPath+"/buy", "u-1", trade.TradeRequest{Shares: 3})

	w := doRequest(t, router, "GET", "/api/v1/dashboard", "u-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, "GET", "/api/v1/transactions", "u-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transactions: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var txs []model.Transaction
	json.Unmarshal(w.Body.Bytes(), &txs)
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].Shares != 3 {
		t.Errorf("expected newest transaction first, got %+v", txs[0])
	}
}
