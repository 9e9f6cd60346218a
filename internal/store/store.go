// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and local development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrTxConflict is returned when a portfolio transaction could not be
	// serialized after every retry.
	ErrTxConflict = errors.New("store: transaction conflict, retry later")

	// ErrDuplicate is returned when creating a record that already exists.
	ErrDuplicate = errors.New("store: already exists")

	// ErrInvalidSample is returned when a price sample's metric is NaN or
	// infinite.
	ErrInvalidSample = errors.New("store: invalid price sample")
)

// Store is the persistence interface. Reads outside WithPortfolioTx are
// snapshot views; every mutation of balance, holdings, locks or
// transactions goes through WithPortfolioTx.
type Store interface {
	// --- Players and price samples ---

	// UpsertPlayer creates a player or refreshes its deltas and delisting.
	UpsertPlayer(ctx context.Context, p *model.Player) error

	// GetPlayer retrieves a player by ID.
	GetPlayer(ctx context.Context, id string) (*model.Player, error)

	// GetPlayerByName retrieves a player by game name and tag line,
	// case-insensitively.
	GetPlayerByName(ctx context.Context, gameName, tagLine string) (*model.Player, error)

	// ListPlayers returns every player, delisted included.
	ListPlayers(ctx context.Context) ([]model.Player, error)

	// AppendPriceSample records a metric observation. A sample at the same
	// timestamp as an existing one for the player replaces it.
	AppendPriceSample(ctx context.Context, s model.PriceSample) error

	// LatestPriceSample returns the newest sample for a player.
	LatestPriceSample(ctx context.Context, playerID string) (*model.PriceSample, error)

	// LatestPriceSamples returns the newest sample of every player that has
	// one, keyed by player ID.
	LatestPriceSamples(ctx context.Context) (map[string]model.PriceSample, error)

	// PriceHistory returns a player's samples at or after since, oldest first.
	PriceHistory(ctx context.Context, playerID string, since time.Time) ([]model.PriceSample, error)

	// --- Users and portfolios ---

	// CreateUser registers the engine's view of an account.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// CreatePortfolio persists a new portfolio. One per (user, league).
	CreatePortfolio(ctx context.Context, p *model.Portfolio) error

	// OpenPortfolio persists a new portfolio together with its opening
	// valuation point. Either both are stored or neither is.
	OpenPortfolio(ctx context.Context, p *model.Portfolio, opening model.ValuationPoint) error

	// GetPortfolio retrieves a portfolio by ID.
	GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error)

	// GetPortfolioByMember retrieves the portfolio of a user in a league.
	GetPortfolioByMember(ctx context.Context, userID, leagueID string) (*model.Portfolio, error)

	// ListPortfolios returns the portfolios of a league, or all of them
	// when leagueID is empty.
	ListPortfolios(ctx context.Context, leagueID string) ([]model.Portfolio, error)

	// SetPortfolioValue stores the last computed total value.
	SetPortfolioValue(ctx context.Context, portfolioID string, value decimal.Decimal) error

	// --- Positions and history ---

	// PortfolioPositions returns a portfolio and its holdings read as one
	// consistent view: both reflect the same set of committed units.
	PortfolioPositions(ctx context.Context, portfolioID string) (*model.Portfolio, []model.Holding, error)

	// ListHoldings returns a portfolio's holdings.
	ListHoldings(ctx context.Context, portfolioID string) ([]model.Holding, error)

	// ListHoldLocks returns the locks of a portfolio that are active at time at.
	ListHoldLocks(ctx context.Context, portfolioID string, at time.Time) ([]model.HoldLock, error)

	// ListTransactions returns a portfolio's transactions, newest first.
	ListTransactions(ctx context.Context, portfolioID string) ([]model.Transaction, error)

	// AppendValuationPoint records a value snapshot.
	AppendValuationPoint(ctx context.Context, v model.ValuationPoint) error

	// ValuationHistory returns a portfolio's value series, oldest first.
	ValuationHistory(ctx context.Context, portfolioID string) ([]model.ValuationPoint, error)

	// --- Commit unit ---

	// WithPortfolioTx runs fn as one atomic, serializable unit scoped to a
	// portfolio. Writes made through tx become visible only if fn returns
	// nil; any error discards them. Units on different portfolios do not
	// block each other.
	WithPortfolioTx(ctx context.Context, portfolioID string, fn func(tx PortfolioTx) error) error
}

// PortfolioTx is the view of one portfolio inside a commit unit.
type PortfolioTx interface {
	// Portfolio returns the portfolio as of the start of the unit plus any
	// balance written since.
	Portfolio() model.Portfolio

	// Holding returns the holding for a player, or nil if there is none.
	Holding(ctx context.Context, playerID string) (*model.Holding, error)

	// LockedShares sums the active lock shares on a player at time at.
	LockedShares(ctx context.Context, playerID string, at time.Time) (int64, error)

	SetBalance(ctx context.Context, balance decimal.Decimal) error
	PutHolding(ctx context.Context, h model.Holding) error
	DeleteHolding(ctx context.Context, playerID string) error
	InsertHoldLock(ctx context.Context, l model.HoldLock) error
	AppendTransaction(ctx context.Context, t model.Transaction) error
}
