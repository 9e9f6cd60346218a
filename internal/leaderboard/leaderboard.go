// Package leaderboard ranks players by price and price movement, and
// portfolios by total value.
//
// Rankings are built into B-trees ordered by (value, ID). The ID ascending
// tie-break makes every ranking a total order, so pages never overlap or
// skip rows no matter how many players share a value.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/metrics"
	"github.com/tftstocks/market-engine/internal/model"
	"github.com/tftstocks/market-engine/internal/pricing"
	"github.com/tftstocks/market-engine/internal/store"
	"github.com/tftstocks/market-engine/internal/valuation"
)

const degree = 32

// playerRow is one rankable player: listed, with at least one sample.
type playerRow struct {
	player model.Player
	price  decimal.Decimal
}

type portfolioRow struct {
	portfolio model.Portfolio
	value     decimal.Decimal
}

// Board computes rankings from the store's current state.
type Board struct {
	store   store.Store
	pricing pricing.Transform
}

// NewBoard creates a leaderboard over s, pricing players with t.
func NewBoard(s store.Store, t pricing.Transform) *Board {
	return &Board{store: s, pricing: t}
}

// compareAxis orders two player rows on one axis. Price compares the
// displayed price, so metrics that price the same (NaN, negative, or past
// the cap) tie and fall through to the ID order.
func compareAxis(axis Axis, a, b playerRow) int {
	switch axis {
	case AxisDelta8h:
		return a.player.Delta8h.Cmp(b.player.Delta8h)
	case AxisDelta24h:
		return a.player.Delta24h.Cmp(b.player.Delta24h)
	case AxisDelta72h:
		return a.player.Delta72h.Cmp(b.player.Delta72h)
	default:
		return a.price.Cmp(b.price)
	}
}

func playerLess(m Metric) btree.LessFunc[playerRow] {
	return func(a, b playerRow) bool {
		c := compareAxis(m.Axis, a, b)
		if !m.Ascending {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return a.player.ID < b.player.ID
	}
}

func portfolioLess(a, b portfolioRow) bool {
	if c := a.value.Cmp(b.value); c != 0 {
		return c > 0
	}
	return a.portfolio.ID < b.portfolio.ID
}

func (b *Board) playerRows(ctx context.Context) ([]playerRow, error) {
	players, err := b.store.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	samples, err := b.store.LatestPriceSamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}

	rows := make([]playerRow, 0, len(players))
	for _, p := range players {
		sample, ok := samples[p.ID]
		if !ok || p.Delisted() {
			continue
		}
		rows = append(rows, playerRow{
			player: p,
			price:  b.pricing.PriceSample(sample),
		})
	}
	return rows, nil
}

func playerTree(rows []playerRow, m Metric) *btree.BTreeG[playerRow] {
	tree := btree.NewG[playerRow](degree, playerLess(m))
	for _, r := range rows {
		tree.ReplaceOrInsert(r)
	}
	return tree
}

func playerEntry(r playerRow, rank int) model.PlayerRankEntry {
	return model.PlayerRankEntry{
		Rank:     rank,
		PlayerID: r.player.ID,
		GameName: r.player.GameName,
		TagLine:  r.player.TagLine,
		Price:    r.price,
		Delta8h:  r.player.Delta8h,
		Delta24h: r.player.Delta24h,
		Delta72h: r.player.Delta72h,
	}
}

// Players returns one page of the player ranking for m.
func (b *Board) Players(ctx context.Context, m Metric, p Page) ([]model.PlayerRankEntry, error) {
	if m.Axis == AxisPortfolioValue {
		return nil, fmt.Errorf("%w: %s is not a player metric", ErrUnknownMetric, m)
	}
	metrics.LeaderboardRequests.WithLabelValues(m.String()).Inc()

	rows, err := b.playerRows(ctx)
	if err != nil {
		return nil, err
	}

	items, first := window(playerTree(rows, m), p)
	entries := make([]model.PlayerRankEntry, 0, len(items))
	for i, r := range items {
		entries = append(entries, playerEntry(r, first+i))
	}
	return entries, nil
}

func (b *Board) portfolioTree(ctx context.Context, leagueID string) (*btree.BTreeG[portfolioRow], error) {
	portfolios, err := b.store.ListPortfolios(ctx, leagueID)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	samples, err := b.store.LatestPriceSamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(samples))
	for id, s := range samples {
		prices[id] = b.pricing.PriceSample(s)
	}

	tree := btree.NewG[portfolioRow](degree, portfolioLess)
	for _, listed := range portfolios {
		p, holdings, err := b.store.PortfolioPositions(ctx, listed.ID)
		if err != nil {
			return nil, fmt.Errorf("positions %s: %w", listed.ID, err)
		}
		tree.ReplaceOrInsert(portfolioRow{
			portfolio: *p,
			value:     valuation.CurrentValue(p.Balance, holdings, prices),
		})
	}
	return tree, nil
}

func (b *Board) username(ctx context.Context, userID string) string {
	u, err := b.store.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return u.Username
}

// Portfolios ranks portfolios by current total value, highest first.
// An empty leagueID ranks every portfolio.
func (b *Board) Portfolios(ctx context.Context, leagueID string, p Page) ([]model.PortfolioRankEntry, error) {
	metrics.LeaderboardRequests.WithLabelValues(AxisPortfolioValue.String()).Inc()

	tree, err := b.portfolioTree(ctx, leagueID)
	if err != nil {
		return nil, err
	}

	items, first := window(tree, p)
	entries := make([]model.PortfolioRankEntry, 0, len(items))
	for i, r := range items {
		entries = append(entries, model.PortfolioRankEntry{
			Rank:        first + i,
			PortfolioID: r.portfolio.ID,
			UserID:      r.portfolio.UserID,
			Username:    b.username(ctx, r.portfolio.UserID),
			LeagueID:    r.portfolio.LeagueID,
			Value:       r.value,
		})
	}
	return entries, nil
}

// Top returns the leader of every axis across all leagues. Axes without
// data are nil.
func (b *Board) Top(ctx context.Context) (*model.TopBoard, error) {
	metrics.LeaderboardRequests.WithLabelValues("top").Inc()

	rows, err := b.playerRows(ctx)
	if err != nil {
		return nil, err
	}

	best := func(axis Axis, value func(playerRow) decimal.Decimal) *model.TopEntry {
		r, ok := playerTree(rows, Metric{Axis: axis}).Min()
		if !ok {
			return nil
		}
		return &model.TopEntry{Name: r.player.GameName, TagLine: r.player.TagLine, Value: value(r)}
	}

	top := &model.TopBoard{
		Price:    best(AxisPrice, func(r playerRow) decimal.Decimal { return r.price }),
		Delta8h:  best(AxisDelta8h, func(r playerRow) decimal.Decimal { return r.player.Delta8h }),
		Delta24h: best(AxisDelta24h, func(r playerRow) decimal.Decimal { return r.player.Delta24h }),
		Delta72h: best(AxisDelta72h, func(r playerRow) decimal.Decimal { return r.player.Delta72h }),
	}

	tree, err := b.portfolioTree(ctx, "")
	if err != nil {
		return nil, err
	}
	if r, ok := tree.Min(); ok {
		top.PortfolioValue = &model.TopEntry{Name: b.username(ctx, r.portfolio.UserID), Value: r.value}
	}
	return top, nil
}
