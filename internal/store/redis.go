package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/model"
)

var _ Store = (*CachedStore)(nil)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the name to player ID mapping and the latest price of every
// player, which back the HTTP lookups and the leaderboard. Writes go to the
// primary store and invalidate the cache.
//
// Single-player reads (GetPlayer, LatestPriceSample) are what the trade
// engine prices and checks delisting against, so they always hit the
// primary. Portfolio state is never cached. Leaderboard reads may lag a
// write by at most the TTL.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertPlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.UpsertPlayer(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, playerNameKey(p.GameName, p.TagLine))
	return nil
}

func (s *CachedStore) AppendPriceSample(ctx context.Context, sample model.PriceSample) error {
	if err := s.primary.AppendPriceSample(ctx, sample); err != nil {
		return err
	}
	s.rdb.Del(ctx, latestPricesKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPlayerByName(ctx context.Context, gameName, tagLine string) (*model.Player, error) {
	// The name→ID mapping never changes for a player, the record does.
	id, err := s.rdb.Get(ctx, playerNameKey(gameName, tagLine)).Result()
	if err == nil {
		return s.primary.GetPlayer(ctx, id)
	}

	p, err := s.primary.GetPlayerByName(ctx, gameName, tagLine)
	if err != nil {
		return nil, err
	}
	s.rdb.Set(ctx, playerNameKey(gameName, tagLine), p.ID, s.ttl)
	return p, nil
}

func (s *CachedStore) LatestPriceSamples(ctx context.Context) (map[string]model.PriceSample, error) {
	var samples map[string]model.PriceSample
	if s.get(ctx, latestPricesKey, &samples) {
		return samples, nil
	}

	samples, err := s.primary.LatestPriceSamples(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, latestPricesKey, samples)
	return samples, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return s.primary.GetPlayer(ctx, id)
}

func (s *CachedStore) LatestPriceSample(ctx context.Context, playerID string) (*model.PriceSample, error) {
	return s.primary.LatestPriceSample(ctx, playerID)
}

func (s *CachedStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	return s.primary.ListPlayers(ctx)
}

func (s *CachedStore) PriceHistory(ctx context.Context, playerID string, since time.Time) ([]model.PriceSample, error) {
	return s.primary.PriceHistory(ctx, playerID, since)
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.primary.GetUserByUsername(ctx, username)
}

func (s *CachedStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	return s.primary.CreatePortfolio(ctx, p)
}

func (s *CachedStore) OpenPortfolio(ctx context.Context, p *model.Portfolio, opening model.ValuationPoint) error {
	return s.primary.OpenPortfolio(ctx, p, opening)
}

func (s *CachedStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	return s.primary.GetPortfolio(ctx, id)
}

func (s *CachedStore) GetPortfolioByMember(ctx context.Context, userID, leagueID string) (*model.Portfolio, error) {
	return s.primary.GetPortfolioByMember(ctx, userID, leagueID)
}

func (s *CachedStore) ListPortfolios(ctx context.Context, leagueID string) ([]model.Portfolio, error) {
	return s.primary.ListPortfolios(ctx, leagueID)
}

func (s *CachedStore) SetPortfolioValue(ctx context.Context, portfolioID string, value decimal.Decimal) error {
	return s.primary.SetPortfolioValue(ctx, portfolioID, value)
}

func (s *CachedStore) PortfolioPositions(ctx context.Context, portfolioID string) (*model.Portfolio, []model.Holding, error) {
	return s.primary.PortfolioPositions(ctx, portfolioID)
}

func (s *CachedStore) ListHoldings(ctx context.Context, portfolioID string) ([]model.Holding, error) {
	return s.primary.ListHoldings(ctx, portfolioID)
}

func (s *CachedStore) ListHoldLocks(ctx context.Context, portfolioID string, at time.Time) ([]model.HoldLock, error) {
	return s.primary.ListHoldLocks(ctx, portfolioID, at)
}

func (s *CachedStore) ListTransactions(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, portfolioID)
}

func (s *CachedStore) AppendValuationPoint(ctx context.Context, v model.ValuationPoint) error {
	return s.primary.AppendValuationPoint(ctx, v)
}

func (s *CachedStore) ValuationHistory(ctx context.Context, portfolioID string) ([]model.ValuationPoint, error) {
	return s.primary.ValuationHistory(ctx, portfolioID)
}

func (s *CachedStore) WithPortfolioTx(ctx context.Context, portfolioID string, fn func(tx PortfolioTx) error) error {
	return s.primary.WithPortfolioTx(ctx, portfolioID, fn)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const latestPricesKey = "prices:latest"

func playerNameKey(name, tag string) string { return fmt.Sprintf("player-name:%s", nameKey(name, tag)) }
