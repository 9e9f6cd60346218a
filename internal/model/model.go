// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for balances, prices and
// average cost.
const MoneyScale int32 = 2

// TradeType is the direction of a transaction.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Valid reports whether t is buy or sell.
func (t TradeType) Valid() bool {
	return t == TradeBuy || t == TradeSell
}

// Player is a tradable competitive-game player. Identity is immutable; the
// delta fields are refreshed by the ingestion collaborator.
type Player struct {
	ID         string          `json:"id" db:"id"`
	GameName   string          `json:"game_name" db:"game_name"`
	TagLine    string          `json:"tag_line" db:"tag_line"`
	Delta8h    decimal.Decimal `json:"delta_8h" db:"delta_8h"`
	Delta24h   decimal.Decimal `json:"delta_24h" db:"delta_24h"`
	Delta72h   decimal.Decimal `json:"delta_72h" db:"delta_72h"`
	DelistedAt *time.Time      `json:"delisted_at,omitempty" db:"delisted_at"`
}

// Delisted reports whether the player has been removed from trading.
// Delisting is terminal.
func (p *Player) Delisted() bool {
	return p.DelistedAt != nil
}

// PriceSample is one observation of the external ranking metric.
// Append-only; the latest sample drives the current price.
type PriceSample struct {
	PlayerID  string    `json:"player_id" db:"player_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Metric    float64   `json:"metric" db:"metric"` // league points
}

// User is the read-only view of an account owned by the membership service.
type User struct {
	ID              string `json:"id" db:"id"`
	Username        string `json:"username" db:"username"`
	CurrentLeagueID string `json:"current_league_id" db:"current_league_id"`
}

// Portfolio belongs to exactly one (user, league) pair.
type Portfolio struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	LeagueID     string          `json:"league_id" db:"league_id"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	CurrentValue decimal.Decimal `json:"current_value" db:"current_value"` // last snapshot
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Holding is a portfolio's aggregated position in one player.
// A holding with zero shares is never stored.
type Holding struct {
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	PlayerID    string          `json:"player_id" db:"player_id"`
	Shares      int64           `json:"shares" db:"shares"`
	AverageCost decimal.Decimal `json:"average_cost" db:"average_cost"`
}

// HoldLock makes Shares of a holding non-liquid until ExpiresAt.
// One lock is created per buy and each expires independently.
type HoldLock struct {
	ID          string    `json:"id" db:"id"`
	PortfolioID string    `json:"portfolio_id" db:"portfolio_id"`
	PlayerID    string    `json:"player_id" db:"player_id"`
	Shares      int64     `json:"shares" db:"shares"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
}

// Active reports whether the lock still restricts shares at time at.
func (l HoldLock) Active(at time.Time) bool {
	return l.ExpiresAt.After(at)
}

// Transaction is an immutable record of a trade execution.
// Once committed it is never modified or deleted.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	Type           TradeType       `json:"type" db:"type"`
	PortfolioID    string          `json:"portfolio_id" db:"portfolio_id"`
	PlayerID       string          `json:"player_id" db:"player_id"`
	Shares         int64           `json:"shares" db:"shares"`
	Price          decimal.Decimal `json:"price" db:"price"`
	Total          decimal.Decimal `json:"total" db:"total"`
	PricingVersion string          `json:"pricing_version" db:"pricing_version"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// ValuationPoint is a timestamped snapshot of a portfolio's total value.
type ValuationPoint struct {
	PortfolioID    string          `json:"portfolio_id" db:"portfolio_id"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	Value          decimal.Decimal `json:"value" db:"value"`
	PricingVersion string          `json:"pricing_version" db:"pricing_version"`
}
