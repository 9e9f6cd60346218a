package valuation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/model"
	"github.com/tftstocks/market-engine/internal/pricing"
	"github.com/tftstocks/market-engine/internal/store"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func point(at time.Time, v float64) model.ValuationPoint {
	return model.ValuationPoint{PortfolioID: "pf", Timestamp: at, Value: d(v)}
}

// identity prices a metric at its own value, so samples read as prices.
func identity(t *testing.T) pricing.Transform {
	t.Helper()
	tr, err := pricing.NewTransform("identity", 1, 1, 0)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	return tr
}

// --- CurrentValue ---

func TestCurrentValue(t *testing.T) {
	holdings := []model.Holding{
		{PlayerID: "a", Shares: 10, AverageCost: d(50)},
		{PlayerID: "b", Shares: 2, AverageCost: d(30)},
	}
	prices := map[string]decimal.Decimal{"a": d(60), "b": d(25.5)}
	// 1000 + 10*60 + 2*25.5
	if v := CurrentValue(d(1000), holdings, prices); !v.Equal(d(1651)) {
		t.Errorf("expected 1651, got %s", v)
	}
}

func TestCurrentValue_UnpricedFallsBackToCost(t *testing.T) {
	holdings := []model.Holding{{PlayerID: "a", Shares: 4, AverageCost: d(12.5)}}
	if v := CurrentValue(d(0), holdings, nil); !v.Equal(d(50)) {
		t.Errorf("expected 50, got %s", v)
	}
}

// --- Delta ---

func TestDelta_SinglePointUndefined(t *testing.T) {
	if _, ok := Delta([]model.ValuationPoint{point(t0, 100)}, OneDay); ok {
		t.Error("delta over one point must be undefined")
	}
	if _, ok := Delta(nil, OneDay); ok {
		t.Error("delta over no points must be undefined")
	}
}

func TestDelta_UsesLatestPointBeforeWindow(t *testing.T) {
	series := []model.ValuationPoint{
		point(t0, 100),
		point(t0.Add(12*time.Hour), 110),
		point(t0.Add(24*time.Hour), 120),
		point(t0.Add(30*time.Hour), 150),
		point(t0.Add(48*time.Hour), 130),
	}
	// cutoff = 48h-24h = 24h; latest point at or before it is 120.
	got, ok := Delta(series, OneDay)
	if !ok || !got.Equal(d(10)) {
		t.Errorf("expected 10, got %s (ok=%v)", got, ok)
	}
}

func TestDelta_FallsBackToEarliest(t *testing.T) {
	series := []model.ValuationPoint{
		point(t0, 100),
		point(t0.Add(2*time.Hour), 90),
	}
	got, ok := Delta(series, ThreeDays)
	if !ok || !got.Equal(d(-10)) {
		t.Errorf("expected -10, got %s (ok=%v)", got, ok)
	}
}

func TestDelta_UnorderedInput(t *testing.T) {
	series := []model.ValuationPoint{
		point(t0.Add(48*time.Hour), 130),
		point(t0, 100),
		point(t0.Add(24*time.Hour), 120),
	}
	got, ok := Delta(series, OneDay)
	if !ok || !got.Equal(d(10)) {
		t.Errorf("expected 10, got %s (ok=%v)", got, ok)
	}
}

// --- Service ---

func seeded(t *testing.T) (*store.MemoryStore, *Service) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()

	_ = s.UpsertPlayer(ctx, &model.Player{ID: "a", GameName: "Alpha", TagLine: "NA1"})
	_ = s.UpsertPlayer(ctx, &model.Player{ID: "b", GameName: "Bravo", TagLine: "NA1"})
	_ = s.AppendPriceSample(ctx, model.PriceSample{PlayerID: "a", Timestamp: t0, Metric: 120})
	_ = s.CreateUser(ctx, &model.User{ID: "u", Username: "alice", CurrentLeagueID: "lg"})
	_ = s.CreatePortfolio(ctx, &model.Portfolio{ID: "pf", UserID: "u", LeagueID: "lg", Balance: d(1000), CreatedAt: t0})

	err := s.WithPortfolioTx(ctx, "pf", func(tx store.PortfolioTx) error {
		if err := tx.PutHolding(ctx, model.Holding{PortfolioID: "pf", PlayerID: "a", Shares: 10, AverageCost: d(100)}); err != nil {
			return err
		}
		if err := tx.PutHolding(ctx, model.Holding{PortfolioID: "pf", PlayerID: "b", Shares: 2, AverageCost: d(40)}); err != nil {
			return err
		}
		return tx.InsertHoldLock(ctx, model.HoldLock{ID: "l", PortfolioID: "pf", PlayerID: "a", Shares: 4, CreatedAt: t0, ExpiresAt: t0.Add(3 * time.Hour)})
	})
	if err != nil {
		t.Fatalf("seed tx: %v", err)
	}

	svc := NewService(s, identity(t), nil).WithClock(func() time.Time { return t0.Add(time.Hour) })
	return s, svc
}

func TestSnapshot(t *testing.T) {
	_, svc := seeded(t)
	snap, err := svc.Snapshot(context.Background(), "pf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap.Username != "alice" {
		t.Errorf("expected username alice, got %q", snap.Username)
	}
	// 1000 + 10*120 + 2*40 (unpriced, at cost)
	if !snap.CurrentValue.Equal(d(2280)) {
		t.Errorf("expected value 2280, got %s", snap.CurrentValue)
	}
	if len(snap.Holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(snap.Holdings))
	}

	a := snap.Holdings[0]
	if a.PlayerID != "a" || a.LockedShares != 4 || a.FreeShares != 6 {
		t.Errorf("unexpected lock breakdown: %+v", a)
	}
	if !a.UnrealizedPnL.Equal(d(200)) || !a.Priced {
		t.Errorf("expected priced pnl 200, got %s priced=%v", a.UnrealizedPnL, a.Priced)
	}
	if snap.Holdings[1].Priced {
		t.Error("player without samples should be unpriced")
	}
	if snap.OneDayChange != nil || snap.ThreeDayChange != nil {
		t.Error("deltas must be absent without history")
	}
	if len(snap.Locks) != 1 {
		t.Errorf("expected 1 active lock, got %d", len(snap.Locks))
	}
}

func TestRecordAll_UpdatesValueAndHistory(t *testing.T) {
	s, svc := seeded(t)
	ctx := context.Background()

	n, err := svc.RecordAll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 point, got %d (%v)", n, err)
	}

	p, _ := s.GetPortfolio(ctx, "pf")
	if !p.CurrentValue.Equal(d(2280)) {
		t.Errorf("expected stored value 2280, got %s", p.CurrentValue)
	}

	// A second point a day later makes the 1d delta defined.
	_ = s.AppendPriceSample(ctx, model.PriceSample{PlayerID: "a", Timestamp: t0.Add(2 * time.Hour), Metric: 130})
	svc.WithClock(func() time.Time { return t0.Add(25 * time.Hour) })
	if _, err := svc.Record(ctx, "pf"); err != nil {
		t.Fatalf("record: %v", err)
	}

	snap, err := svc.Snapshot(ctx, "pf")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.OneDayChange == nil || !snap.OneDayChange.Equal(d(100)) {
		t.Errorf("expected 1d change 100, got %v", snap.OneDayChange)
	}
	if len(snap.History) != 2 || snap.History[0].PricingVersion != "identity" {
		t.Errorf("unexpected history: %+v", snap.History)
	}
}

func TestSnapshot_UnknownPortfolio(t *testing.T) {
	_, svc := seeded(t)
	if _, err := svc.Snapshot(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown portfolio")
	}
}

// buyAtMarket moves 120 of cash into one more share of a, which is worth
// 120, so the portfolio's value is unchanged by the commit.
func buyAtMarket(ctx context.Context, s *store.MemoryStore) error {
	return s.WithPortfolioTx(ctx, "pf", func(tx store.PortfolioTx) error {
		h, err := tx.Holding(ctx, "a")
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, tx.Portfolio().Balance.Sub(d(120))); err != nil {
			return err
		}
		h.Shares++
		return tx.PutHolding(ctx, *h)
	})
}

// midReadStore commits a value-neutral buy as soon as the portfolio row or
// its holdings are read on their own.
type midReadStore struct {
	*store.MemoryStore
	t    *testing.T
	once sync.Once
}

func (s *midReadStore) interleave(ctx context.Context) {
	s.once.Do(func() {
		if err := buyAtMarket(ctx, s.MemoryStore); err != nil {
			s.t.Errorf("interleaved buy: %v", err)
		}
	})
}

func (s *midReadStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	p, err := s.MemoryStore.GetPortfolio(ctx, id)
	s.interleave(ctx)
	return p, err
}

func (s *midReadStore) ListHoldings(ctx context.Context, id string) ([]model.Holding, error) {
	hs, err := s.MemoryStore.ListHoldings(ctx, id)
	s.interleave(ctx)
	return hs, err
}

func TestRecord_ValuesOneCommittedState(t *testing.T) {
	ms, _ := seeded(t)
	ctx := context.Background()
	svc := NewService(&midReadStore{MemoryStore: ms, t: t}, identity(t), nil).
		WithClock(func() time.Time { return t0.Add(time.Hour) })

	pt, err := svc.Record(ctx, "pf")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !pt.Value.Equal(d(2280)) {
		t.Errorf("expected 2280, got %s", pt.Value)
	}
	snap, err := svc.Snapshot(ctx, "pf")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.CurrentValue.Equal(d(2280)) {
		t.Errorf("expected snapshot value 2280, got %s", snap.CurrentValue)
	}
}

func TestRecord_ConcurrentTradesNeverTearValue(t *testing.T) {
	ms, svc := seeded(t)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 8; i++ {
			if err := buyAtMarket(ctx, ms); err != nil {
				t.Errorf("buy: %v", err)
				return
			}
		}
	}()

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		n, err := svc.RecordAll(ctx)
		if err != nil || n != 1 {
			t.Fatalf("record all: %d (%v)", n, err)
		}
	}

	hist, _ := ms.ValuationHistory(ctx, "pf")
	for _, pt := range hist {
		if !pt.Value.Equal(d(2280)) {
			t.Fatalf("torn valuation %s in %+v", pt.Value, hist)
		}
	}
}
