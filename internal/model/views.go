package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoldingView is a holding marked to market, with its lock breakdown.
type HoldingView struct {
	PlayerID      string          `json:"player_id"`
	GameName      string          `json:"game_name"`
	TagLine       string          `json:"tag_line"`
	Shares        int64           `json:"shares"`
	FreeShares    int64           `json:"free_shares"`
	LockedShares  int64           `json:"locked_shares"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Priced        bool            `json:"priced"` // false: valued at average cost
}

// PortfolioSnapshot is the read view served for a user's portfolio.
type PortfolioSnapshot struct {
	PortfolioID    string           `json:"portfolio_id"`
	UserID         string           `json:"user_id"`
	Username       string           `json:"username,omitempty"`
	LeagueID       string           `json:"league_id"`
	Balance        decimal.Decimal  `json:"balance"`
	CurrentValue   decimal.Decimal  `json:"current_value"`
	Holdings       []HoldingView    `json:"holdings"`
	Locks          []HoldLock       `json:"locks"`
	History        []ValuationPoint `json:"history"`
	OneDayChange   *decimal.Decimal `json:"one_day_change"`
	ThreeDayChange *decimal.Decimal `json:"three_day_change"`
	AsOf           time.Time        `json:"as_of"`
}

// PlayerRankEntry is one row of a player metric leaderboard.
type PlayerRankEntry struct {
	Rank     int             `json:"rank"`
	PlayerID string          `json:"player_id"`
	GameName string          `json:"game_name"`
	TagLine  string          `json:"tag_line"`
	Price    decimal.Decimal `json:"price"`
	Delta8h  decimal.Decimal `json:"delta_8h"`
	Delta24h decimal.Decimal `json:"delta_24h"`
	Delta72h decimal.Decimal `json:"delta_72h"`
}

// PortfolioRankEntry is one row of the portfolio value leaderboard.
type PortfolioRankEntry struct {
	Rank        int             `json:"rank"`
	PortfolioID string          `json:"portfolio_id"`
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	LeagueID    string          `json:"league_id"`
	Value       decimal.Decimal `json:"value"`
}

// TopEntry is the single best row for one leaderboard axis.
type TopEntry struct {
	Name    string          `json:"name"`
	TagLine string          `json:"tag_line,omitempty"`
	Value   decimal.Decimal `json:"value"`
}

// TopBoard holds the leader of every axis. Nil fields mean no data.
type TopBoard struct {
	Price          *TopEntry `json:"price"`
	Delta8h        *TopEntry `json:"delta_8h"`
	Delta24h       *TopEntry `json:"delta_24h"`
	Delta72h       *TopEntry `json:"delta_72h"`
	PortfolioValue *TopEntry `json:"portfolio_value"`
}

// PlayerHistory is the price series served for a single player.
type PlayerHistory struct {
	Player      Player            `json:"player"`
	Prices      []decimal.Decimal `json:"prices"`
	Dates       []time.Time       `json:"dates"`
	LatestPrice decimal.Decimal   `json:"latest_price"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
