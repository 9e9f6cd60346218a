// Package trade executes buy and sell orders against the holding ledger
// and serves the HTTP and WebSocket surface of the market engine.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/ledger"
	"github.com/tftstocks/market-engine/internal/metrics"
	"github.com/tftstocks/market-engine/internal/model"
	"github.com/tftstocks/market-engine/internal/pricing"
	"github.com/tftstocks/market-engine/internal/store"
)

var (
	ErrInvalidQuantity        = errors.New("trade: shares must be a positive integer")
	ErrInvalidTradeType       = errors.New("trade: type must be buy or sell")
	ErrPlayerDelisted         = errors.New("trade: player is delisted")
	ErrInsufficientBalance    = errors.New("trade: insufficient balance")
	ErrInsufficientFreeShares = errors.New("trade: shares are still held")
	ErrNoPriceData            = errors.New("trade: no price data for player")
	ErrNoHolding              = errors.New("trade: no holding in player")
	ErrPlayerNotFound         = errors.New("trade: player not found")
	ErrPortfolioNotFound      = errors.New("trade: portfolio not found")
	ErrUserNotFound           = errors.New("trade: user not found")
	ErrStorage                = errors.New("trade: storage failure")
)

// Config holds the immutable trading parameters.
type Config struct {
	// HoldDuration is how long bought shares stay locked.
	HoldDuration time.Duration
	// StartingBalance is the cash a new portfolio opens with.
	StartingBalance decimal.Decimal
}

// DefaultConfig returns the production parameters: a 3 hour hold and a
// 100000.00 starting balance.
func DefaultConfig() Config {
	return Config{
		HoldDuration:    3 * time.Hour,
		StartingBalance: decimal.NewFromInt(100000),
	}
}

// Order is a request to buy or sell whole shares of one player.
type Order struct {
	PortfolioID string          `json:"portfolio_id"`
	PlayerID    string          `json:"player_id"`
	Type        model.TradeType `json:"type"`
	Shares      int64           `json:"shares"`
}

// Result is the committed outcome of an order.
type Result struct {
	Transaction model.Transaction `json:"transaction"`
	Player      model.Player      `json:"player"`
	Balance     decimal.Decimal   `json:"balance"`
	Holding     *model.Holding    `json:"holding"` // nil when a sell closed the position
	Lock        *model.HoldLock   `json:"lock,omitempty"`
	RealizedPnL decimal.Decimal   `json:"realized_pnl"` // sells only
}

// Engine executes orders. Each order runs as one commit unit on its
// portfolio; a rejected order leaves no trace.
type Engine struct {
	store   store.Store
	pricing pricing.Transform
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
}

// NewEngine creates a trade engine.
func NewEngine(s store.Store, t pricing.Transform, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   s,
		pricing: t,
		cfg:     cfg,
		now:     time.Now,
		log:     log,
	}
}

// WithClock replaces the engine's time source. Used by tests and tools.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Pricing returns the transform orders are priced with.
func (e *Engine) Pricing() pricing.Transform { return e.pricing }

// Config returns the engine's trading parameters.
func (e *Engine) Config() Config { return e.cfg }

// Execute validates and commits an order.
func (e *Engine) Execute(ctx context.Context, o Order) (*Result, error) {
	start := time.Now()

	res, err := e.execute(ctx, o)
	if err != nil {
		reason := rejectionReason(err)
		metrics.TradeRejections.WithLabelValues(reason).Inc()
		if errors.Is(err, ledger.ErrLockInvariant) || errors.Is(err, ErrStorage) {
			e.log.Error("trade failed",
				"portfolio_id", o.PortfolioID, "player_id", o.PlayerID,
				"type", o.Type, "shares", o.Shares, "err", err)
		} else {
			e.log.Debug("trade rejected",
				"portfolio_id", o.PortfolioID, "player_id", o.PlayerID,
				"type", o.Type, "shares", o.Shares, "reason", reason)
		}
		return nil, err
	}

	tx := res.Transaction
	metrics.TradesTotal.WithLabelValues(string(tx.Type)).Inc()
	metrics.TradeLatency.WithLabelValues(string(tx.Type)).Observe(time.Since(start).Seconds())
	metrics.TradeVolume.WithLabelValues(tx.PlayerID, string(tx.Type)).Add(float64(tx.Shares))

	e.log.Info("trade executed",
		"tx_id", tx.ID,
		"portfolio_id", tx.PortfolioID,
		"player_id", tx.PlayerID,
		"type", tx.Type,
		"shares", tx.Shares,
		"price", tx.Price.String(),
		"total", tx.Total.String(),
		"balance", res.Balance.String(),
		"realized_pnl", res.RealizedPnL.String(),
	)
	return res, nil
}

func (e *Engine) execute(ctx context.Context, o Order) (*Result, error) {
	if o.Shares <= 0 {
		return nil, ErrInvalidQuantity
	}
	if !o.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTradeType, o.Type)
	}

	p, err := e.store.GetPlayer(ctx, o.PlayerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, o.PlayerID)
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if p.Delisted() {
		return nil, fmt.Errorf("%w: %s#%s", ErrPlayerDelisted, p.GameName, p.TagLine)
	}

	sample, err := e.store.LatestPriceSample(ctx, p.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s#%s", ErrNoPriceData, p.GameName, p.TagLine)
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	price := e.pricing.PriceSample(*sample)
	total := price.Mul(decimal.NewFromInt(o.Shares)).Round(model.MoneyScale)

	res := &Result{Player: *p}
	err = e.store.WithPortfolioTx(ctx, o.PortfolioID, func(tx store.PortfolioTx) error {
		// fn may run more than once under serialization retries.
		res.Holding, res.Lock, res.RealizedPnL = nil, nil, decimal.Zero
		now := e.now()
		res.Transaction = model.Transaction{
			ID:             uuid.New().String(),
			Type:           o.Type,
			PortfolioID:    o.PortfolioID,
			PlayerID:       p.ID,
			Shares:         o.Shares,
			Price:          price,
			Total:          total,
			PricingVersion: e.pricing.Version,
			Timestamp:      now,
		}

		var err error
		switch o.Type {
		case model.TradeBuy:
			err = e.buy(ctx, tx, o, price, total, now, res)
		case model.TradeSell:
			err = e.sell(ctx, tx, o, total, now, res)
		}
		if err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, res.Transaction)
	})
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

func (e *Engine) buy(ctx context.Context, tx store.PortfolioTx, o Order, price, total decimal.Decimal, now time.Time, res *Result) error {
	balance := tx.Portfolio().Balance
	if balance.LessThan(total) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, total, balance)
	}

	h, err := tx.Holding(ctx, o.PlayerID)
	if err != nil {
		return err
	}
	next, err := ledger.ApplyBuy(h, o.PortfolioID, o.PlayerID, o.Shares, price)
	if err != nil {
		return err
	}
	lock, err := ledger.NewLock(o.PortfolioID, o.PlayerID, o.Shares, now, e.cfg.HoldDuration)
	if err != nil {
		return err
	}

	res.Balance = balance.Sub(total)
	if err := tx.SetBalance(ctx, res.Balance); err != nil {
		return err
	}
	if err := tx.PutHolding(ctx, next); err != nil {
		return err
	}
	if err := tx.InsertHoldLock(ctx, lock); err != nil {
		return err
	}
	res.Holding = &next
	res.Lock = &lock
	return nil
}

func (e *Engine) sell(ctx context.Context, tx store.PortfolioTx, o Order, total decimal.Decimal, now time.Time, res *Result) error {
	h, err := tx.Holding(ctx, o.PlayerID)
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoHolding, o.PlayerID)
	}
	if o.Shares > h.Shares {
		return fmt.Errorf("%w: have %d, selling %d", ledger.ErrInsufficientShares, h.Shares, o.Shares)
	}

	locked, err := tx.LockedShares(ctx, o.PlayerID, now)
	if err != nil {
		return err
	}
	free, err := ledger.FreeShares(h.Shares, locked)
	if err != nil {
		return err
	}
	if o.Shares > free {
		return fmt.Errorf("%w: %d free of %d", ErrInsufficientFreeShares, free, h.Shares)
	}

	next, removed, err := ledger.ApplySell(*h, o.Shares)
	if err != nil {
		return err
	}
	res.RealizedPnL = ledger.RealizedPnL(*h, o.Shares, res.Transaction.Price)

	res.Balance = tx.Portfolio().Balance.Add(total)
	if err := tx.SetBalance(ctx, res.Balance); err != nil {
		return err
	}
	if removed {
		return tx.DeleteHolding(ctx, o.PlayerID)
	}
	if err := tx.PutHolding(ctx, next); err != nil {
		return err
	}
	res.Holding = &next
	return nil
}

// OpenPortfolio creates the portfolio of a user in a league with the
// configured starting balance. The portfolio and its opening valuation are
// stored together, so a failed open leaves the member free to retry.
func (e *Engine) OpenPortfolio(ctx context.Context, userID, leagueID string) (*model.Portfolio, error) {
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	now := e.now()
	p := &model.Portfolio{
		ID:           uuid.New().String(),
		UserID:       userID,
		LeagueID:     leagueID,
		Balance:      e.cfg.StartingBalance,
		CurrentValue: e.cfg.StartingBalance,
		CreatedAt:    now,
	}
	opening := model.ValuationPoint{
		PortfolioID:    p.ID,
		Timestamp:      now,
		Value:          p.Balance,
		PricingVersion: e.pricing.Version,
	}
	if err := e.store.OpenPortfolio(ctx, p, opening); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	e.log.Info("portfolio opened", "portfolio_id", p.ID, "user_id", userID, "league_id", leagueID)
	return p, nil
}

// domainErrors are rejections raised inside a commit unit that must reach
// the caller unwrapped.
var domainErrors = []error{
	ErrInsufficientBalance,
	ErrInsufficientFreeShares,
	ErrNoHolding,
	ledger.ErrInsufficientShares,
	ledger.ErrInvalidQuantity,
	ledger.ErrNegativePrice,
	ledger.ErrLockInvariant,
	store.ErrTxConflict,
	context.Canceled,
	context.DeadlineExceeded,
}

func classify(err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrPortfolioNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrInvalidTradeType):
		return "invalid_type"
	case errors.Is(err, ErrPlayerDelisted):
		return "delisted"
	case errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrPortfolioNotFound):
		return "not_found"
	case errors.Is(err, ErrNoPriceData):
		return "no_price"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrNoHolding), errors.Is(err, ledger.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrInsufficientFreeShares):
		return "held"
	case errors.Is(err, ledger.ErrLockInvariant):
		return "lock_invariant"
	case errors.Is(err, store.ErrTxConflict):
		return "conflict"
	default:
		return "error"
	}
}
