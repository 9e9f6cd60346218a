package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/leaderboard"
	"github.com/tftstocks/market-engine/internal/model"
	"github.com/tftstocks/market-engine/internal/player"
	"github.com/tftstocks/market-engine/internal/store"
	"github.com/tftstocks/market-engine/internal/valuation"
)

// Identity headers set by the upstream auth gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderLeagueID = "X-League-ID"
)

const (
	defaultHistoryDays = 3
	maxHistoryDays     = 30
)

// Service serves the HTTP API over the trade engine, valuation and
// leaderboards.
type Service struct {
	engine    *Engine
	store     store.Store
	valuation *valuation.Service
	board     *leaderboard.Board
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
	log       *slog.Logger
}

// NewService creates the HTTP service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(e *Engine, st store.Store, v *valuation.Service, b *leaderboard.Board, hub *WSHub, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		engine:    e,
		store:     st,
		valuation: v,
		board:     b,
		wsHub:     hub,
		log:       log,
	}
}

// Routes returns the /api/v1 router.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/players/{gameName}/{tagLine}", s.GetPlayer)
	r.Get("/leaderboard/top", s.TopLeaderboard)
	r.Get("/leaderboard/{metric}", s.Leaderboard)
	r.Get("/users/{username}", s.GetUserPortfolio)
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireCaller)
		r.Post("/players/{player}/{type}", s.ExecuteTrade)
		r.Post("/players/{gameName}/{tagLine}/{type}", s.ExecuteTrade)
		r.Get("/dashboard", s.Dashboard)
		r.Get("/transactions", s.Transactions)
	})
	return r
}

// --- Caller identity ---

func callerFrom(ctx context.Context) (userID, leagueID string) {
	userID, _ = ctx.Value(userIDKey).(string)
	leagueID, _ = ctx.Value(leagueIDKey).(string)
	return userID, leagueID
}

// portfolioFor resolves the portfolio of a user in a league. An empty
// league means the user's current league.
func (s *Service) portfolioFor(ctx context.Context, u *model.User, leagueID string) (*model.Portfolio, error) {
	if leagueID == "" {
		leagueID = u.CurrentLeagueID
	}
	p, err := s.store.GetPortfolioByMember(ctx, u.ID, leagueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s has no portfolio in league %q", ErrPortfolioNotFound, u.Username, leagueID)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) callerPortfolio(ctx context.Context) (*model.Portfolio, error) {
	userID, leagueID := callerFrom(ctx)
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, err
	}
	return s.portfolioFor(ctx, u, leagueID)
}

// --- Request/Response types ---

// TradeRequest is the JSON body for a trade.
type TradeRequest struct {
	Shares int64 `json:"shares"`
}

// TradeResponse is the JSON body returned for a committed trade.
type TradeResponse struct {
	TransactionID string          `json:"transaction_id"`
	Type          model.TradeType `json:"type"`
	Player        string          `json:"player"`
	Shares        int64           `json:"shares"`
	Price         decimal.Decimal `json:"price"`
	Total         decimal.Decimal `json:"total"`
	Balance       decimal.Decimal `json:"balance"`
	Holding       *HoldingSummary `json:"holding"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	LockExpiresAt *time.Time      `json:"lock_expires_at,omitempty"`
}

// HoldingSummary is the position snapshot included in trade responses.
type HoldingSummary struct {
	Shares      int64           `json:"shares"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// --- HTTP Handlers ---

func refFromRequest(r *http.Request) (player.Ref, error) {
	if combined := chi.URLParam(r, "player"); combined != "" {
		return player.ParseRef(combined)
	}
	return player.NewRef(chi.URLParam(r, "gameName"), chi.URLParam(r, "tagLine"))
}

func (s *Service) lookupPlayer(ctx context.Context, ref player.Ref) (*model.Player, error) {
	p, err := s.store.GetPlayerByName(ctx, ref.GameName, ref.TagLine)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, ref)
		}
		return nil, err
	}
	return p, nil
}

// ExecuteTrade handles POST /api/v1/players/{player}/{type} and
// POST /api/v1/players/{gameName}/{tagLine}/{type}.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ref, err := refFromRequest(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	tradeType := model.TradeType(chi.URLParam(r, "type"))
	if !tradeType.Valid() {
		writeErr(w, fmt.Errorf("%w: %q", ErrInvalidTradeType, tradeType))
		return
	}

	var req TradeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, "invalid request body: shares must be a whole number", http.StatusBadRequest)
		return
	}

	pl, err := s.lookupPlayer(ctx, ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	portfolio, err := s.callerPortfolio(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}

	res, err := s.engine.Execute(ctx, Order{
		PortfolioID: portfolio.ID,
		PlayerID:    pl.ID,
		Type:        tradeType,
		Shares:      req.Shares,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	tx := res.Transaction
	resp := TradeResponse{
		TransactionID: tx.ID,
		Type:          tx.Type,
		Player:        ref.String(),
		Shares:        tx.Shares,
		Price:         tx.Price,
		Total:         tx.Total,
		Balance:       res.Balance,
		RealizedPnL:   res.RealizedPnL,
	}
	if res.Holding != nil {
		resp.Holding = &HoldingSummary{Shares: res.Holding.Shares, AverageCost: res.Holding.AverageCost}
	}
	if res.Lock != nil {
		resp.LockExpiresAt = &res.Lock.ExpiresAt
	}

	// Broadcast the fill via WebSocket.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "trade_executed",
			PlayerID:    pl.ID,
			GameName:    pl.GameName,
			TagLine:     pl.TagLine,
			PortfolioID: portfolio.ID,
			TradeType:   string(tx.Type),
			Shares:      tx.Shares,
			Price:       tx.Price.String(),
			Timestamp:   tx.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetPlayer handles GET /api/v1/players/{gameName}/{tagLine}
// Returns the player's price series over ?days= (default 3).
func (s *Service) GetPlayer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ref, err := refFromRequest(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	days, err := queryInt(r, "days", defaultHistoryDays)
	if err != nil || days < 1 || days > maxHistoryDays {
		writeError(w, fmt.Sprintf("days must be between 1 and %d", maxHistoryDays), http.StatusBadRequest)
		return
	}

	pl, err := s.lookupPlayer(ctx, ref)
	if err != nil {
		writeErr(w, err)
		return
	}

	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	samples, err := s.store.PriceHistory(ctx, pl.ID, since)
	if err != nil {
		writeErr(w, err)
		return
	}

	t := s.engine.Pricing()
	hist := model.PlayerHistory{
		Player: *pl,
		Prices: make([]decimal.Decimal, 0, len(samples)),
		Dates:  make([]time.Time, 0, len(samples)),
	}
	for _, sample := range samples {
		hist.Prices = append(hist.Prices, t.PriceSample(sample))
		hist.Dates = append(hist.Dates, sample.Timestamp)
	}

	// The latest price may predate the window.
	latest, err := s.store.LatestPriceSample(ctx, pl.ID)
	switch {
	case err == nil:
		hist.LatestPrice = t.PriceSample(*latest)
		hist.UpdatedAt = latest.Timestamp
	case !errors.Is(err, store.ErrNotFound):
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, hist)
}

// LeaderboardResponse is one page of a ranking.
type LeaderboardResponse struct {
	Metric     string                     `json:"metric"`
	Page       int                        `json:"page"`
	Limit      int                        `json:"limit"`
	Players    []model.PlayerRankEntry    `json:"players,omitempty"`
	Portfolios []model.PortfolioRankEntry `json:"portfolios,omitempty"`
}

// Leaderboard handles GET /api/v1/leaderboard/{metric}?page=&limit=
// For the portfolio metric ?league= scopes the ranking.
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	metric, err := leaderboard.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeErr(w, err)
		return
	}
	pageNo, err := queryInt(r, "page", 0)
	if err != nil {
		writeError(w, "page must be an integer", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", leaderboard.DefaultLimit)
	if err != nil {
		writeError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}
	page, err := leaderboard.NewPage(pageNo, limit)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := LeaderboardResponse{Metric: metric.String(), Page: page.Number, Limit: page.Limit}
	if metric.Axis == leaderboard.AxisPortfolioValue {
		resp.Portfolios, err = s.board.Portfolios(ctx, r.URL.Query().Get("league"), page)
		if resp.Portfolios == nil {
			resp.Portfolios = []model.PortfolioRankEntry{}
		}
	} else {
		resp.Players, err = s.board.Players(ctx, metric, page)
		if resp.Players == nil {
			resp.Players = []model.PlayerRankEntry{}
		}
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// TopLeaderboard handles GET /api/v1/leaderboard/top
func (s *Service) TopLeaderboard(w http.ResponseWriter, r *http.Request) {
	top, err := s.board.Top(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}

// GetUserPortfolio handles GET /api/v1/users/{username}
// Returns the snapshot of the user's portfolio in ?league= or their
// current league.
func (s *Service) GetUserPortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := chi.URLParam(r, "username")

	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		writeErr(w, err)
		return
	}

	p, err := s.portfolioFor(ctx, u, r.URL.Query().Get("league"))
	if err != nil {
		writeErr(w, err)
		return
	}

	snap, err := s.valuation.Snapshot(ctx, p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Dashboard handles GET /api/v1/dashboard
// Returns the caller's own portfolio snapshot.
func (s *Service) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := s.callerPortfolio(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.valuation.Snapshot(ctx, p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Transactions handles GET /api/v1/transactions
// Returns the caller's transactions, newest first.
func (s *Service) Transactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := s.callerPortfolio(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	txs, err := s.store.ListTransactions(ctx, p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}
