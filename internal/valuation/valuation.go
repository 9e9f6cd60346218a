// Package valuation marks portfolios to market, records their value
// history and derives 1 day and 3 day changes from it.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/ledger"
	"github.com/tftstocks/market-engine/internal/metrics"
	"github.com/tftstocks/market-engine/internal/model"
	"github.com/tftstocks/market-engine/internal/pricing"
	"github.com/tftstocks/market-engine/internal/store"
)

// Standard delta windows.
const (
	OneDay    = 24 * time.Hour
	ThreeDays = 72 * time.Hour
)

// CurrentValue is balance plus every holding marked at its player's price.
// A holding whose player has no price is valued at its average cost.
func CurrentValue(balance decimal.Decimal, holdings []model.Holding, prices map[string]decimal.Decimal) decimal.Decimal {
	total := balance
	for _, h := range holdings {
		price, ok := prices[h.PlayerID]
		if !ok {
			price = h.AverageCost
		}
		total = total.Add(price.Mul(decimal.NewFromInt(h.Shares)))
	}
	return total.Round(model.MoneyScale)
}

// Delta is the change of the last point against a reference point window
// earlier: the latest point at or before last-window, or the earliest
// point when none is that old. ok is false with fewer than two points.
func Delta(series []model.ValuationPoint, window time.Duration) (delta decimal.Decimal, ok bool) {
	if len(series) < 2 {
		return decimal.Zero, false
	}

	sorted := slices.Clone(series)
	slices.SortStableFunc(sorted, func(a, b model.ValuationPoint) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	last := sorted[len(sorted)-1]
	cutoff := last.Timestamp.Add(-window)
	ref := sorted[0]
	for _, p := range sorted {
		if p.Timestamp.After(cutoff) {
			break
		}
		ref = p
	}
	return last.Value.Sub(ref.Value), true
}

// Service reads portfolio state for snapshots and records valuation points.
type Service struct {
	store   store.Store
	pricing pricing.Transform
	now     func() time.Time
	log     *slog.Logger
}

// NewService creates a valuation service.
func NewService(s store.Store, t pricing.Transform, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: s, pricing: t, now: time.Now, log: log}
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Prices returns the current price of every player with a sample.
func (s *Service) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	samples, err := s.store.LatestPriceSamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(samples))
	for id, sample := range samples {
		prices[id] = s.pricing.PriceSample(sample)
	}
	return prices, nil
}

func (s *Service) priceOf(ctx context.Context, playerID string) (decimal.Decimal, bool, error) {
	sample, err := s.store.LatestPriceSample(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return s.pricing.PriceSample(*sample), true, nil
}

// Snapshot assembles the read view of a portfolio: marked holdings with
// their lock breakdown, active locks, value history and deltas.
func (s *Service) Snapshot(ctx context.Context, portfolioID string) (*model.PortfolioSnapshot, error) {
	now := s.now()

	// Locks only ever grow with holdings, so reading them first keeps the
	// locked count within the shares read after.
	locks, err := s.store.ListHoldLocks(ctx, portfolioID, now)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	p, holdings, err := s.store.PortfolioPositions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ValuationHistory(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("valuation history: %w", err)
	}

	snap := &model.PortfolioSnapshot{
		PortfolioID: p.ID,
		UserID:      p.UserID,
		LeagueID:    p.LeagueID,
		Balance:     p.Balance,
		Holdings:    make([]model.HoldingView, 0, len(holdings)),
		Locks:       locks,
		History:     history,
		AsOf:        now,
	}
	if u, err := s.store.GetUser(ctx, p.UserID); err == nil {
		snap.Username = u.Username
	}

	prices := make(map[string]decimal.Decimal, len(holdings))
	for _, h := range holdings {
		view, err := s.holdingView(ctx, h, locks, now)
		if err != nil {
			return nil, err
		}
		if view.Priced {
			prices[h.PlayerID] = view.CurrentPrice
		}
		snap.Holdings = append(snap.Holdings, view)
	}
	snap.CurrentValue = CurrentValue(p.Balance, holdings, prices)

	if d, ok := Delta(history, OneDay); ok {
		snap.OneDayChange = &d
	}
	if d, ok := Delta(history, ThreeDays); ok {
		snap.ThreeDayChange = &d
	}
	return snap, nil
}

func (s *Service) holdingView(ctx context.Context, h model.Holding, locks []model.HoldLock, now time.Time) (model.HoldingView, error) {
	view := model.HoldingView{
		PlayerID:     h.PlayerID,
		Shares:       h.Shares,
		AverageCost:  h.AverageCost,
		CurrentPrice: h.AverageCost,
	}

	if pl, err := s.store.GetPlayer(ctx, h.PlayerID); err == nil {
		view.GameName = pl.GameName
		view.TagLine = pl.TagLine
	}

	price, ok, err := s.priceOf(ctx, h.PlayerID)
	if err != nil {
		return view, fmt.Errorf("price %s: %w", h.PlayerID, err)
	}
	if ok {
		view.CurrentPrice = price
		view.Priced = true
	}

	view.LockedShares = ledger.LockedShares(locks, h.PlayerID, now)
	free, err := ledger.FreeShares(h.Shares, view.LockedShares)
	if err != nil {
		s.log.Error("lock invariant violated", "portfolio_id", h.PortfolioID, "player_id", h.PlayerID, "err", err)
	}
	view.FreeShares = free

	shares := decimal.NewFromInt(h.Shares)
	view.MarketValue = view.CurrentPrice.Mul(shares).Round(model.MoneyScale)
	view.UnrealizedPnL = view.CurrentPrice.Sub(h.AverageCost).Mul(shares).Round(model.MoneyScale)
	return view, nil
}

// Record appends a valuation point for one portfolio and stores the value
// as the portfolio's current value.
func (s *Service) Record(ctx context.Context, portfolioID string) (model.ValuationPoint, error) {
	prices, err := s.Prices(ctx)
	if err != nil {
		return model.ValuationPoint{}, err
	}
	return s.record(ctx, portfolioID, prices, s.now())
}

// record values the balance and holdings of one consistent read, so a
// trade committing mid-run is counted entirely or not at all.
func (s *Service) record(ctx context.Context, portfolioID string, prices map[string]decimal.Decimal, at time.Time) (model.ValuationPoint, error) {
	p, holdings, err := s.store.PortfolioPositions(ctx, portfolioID)
	if err != nil {
		return model.ValuationPoint{}, fmt.Errorf("positions %s: %w", portfolioID, err)
	}

	point := model.ValuationPoint{
		PortfolioID:    p.ID,
		Timestamp:      at,
		Value:          CurrentValue(p.Balance, holdings, prices),
		PricingVersion: s.pricing.Version,
	}
	if err := s.store.AppendValuationPoint(ctx, point); err != nil {
		return model.ValuationPoint{}, fmt.Errorf("append valuation %s: %w", p.ID, err)
	}
	if err := s.store.SetPortfolioValue(ctx, p.ID, point.Value); err != nil {
		return model.ValuationPoint{}, fmt.Errorf("set value %s: %w", p.ID, err)
	}
	return point, nil
}

// RecordAll snapshots every portfolio at one shared timestamp. A failing
// portfolio is logged and skipped; the joined errors are returned with the
// number of points written.
func (s *Service) RecordAll(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.SnapshotRunDuration.Observe(time.Since(start).Seconds()) }()

	prices, err := s.Prices(ctx)
	if err != nil {
		return 0, err
	}
	portfolios, err := s.store.ListPortfolios(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list portfolios: %w", err)
	}

	at := s.now()
	var errs []error
	written := 0
	for _, p := range portfolios {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.record(ctx, p.ID, prices, at); err != nil {
			metrics.SnapshotsTotal.WithLabelValues("error").Inc()
			s.log.Error("valuation snapshot failed", "portfolio_id", p.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
		written++
	}

	s.log.Info("valuation run complete",
		"portfolios", len(portfolios),
		"written", written,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return written, errors.Join(errs...)
}
