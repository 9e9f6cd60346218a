package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tftstocks/market-engine/internal/model"
)

func newTestCache(t *testing.T) (*CachedStore, *MemoryStore) {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	primary := NewMemoryStore()
	return NewCachedStore(primary, rdb, time.Minute), primary
}

func TestCachedStore_PriceInvalidatedOnAppend(t *testing.T) {
	s, _ := newTestCache(t)
	ctx := context.Background()
	id := uuid.NewString()
	if err := s.UpsertPlayer(ctx, &model.Player{ID: id, GameName: "cache" + id[:5], TagLine: "EUW"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	_ = s.AppendPriceSample(ctx, model.PriceSample{PlayerID: id, Timestamp: t0, Metric: 100})
	first, err := s.LatestPriceSample(ctx, id)
	if err != nil || first.Metric != 100 {
		t.Fatalf("expected metric 100, got %+v (%v)", first, err)
	}

	_ = s.AppendPriceSample(ctx, model.PriceSample{PlayerID: id, Timestamp: t0.Add(time.Hour), Metric: 200})
	second, _ := s.LatestPriceSample(ctx, id)
	if second.Metric != 200 {
		t.Errorf("stale cache: expected 200, got %v", second.Metric)
	}
}

func TestCachedStore_PlayerByName(t *testing.T) {
	s, _ := newTestCache(t)
	ctx := context.Background()
	id := uuid.NewString()
	name := "cache" + id[:5]
	_ = s.UpsertPlayer(ctx, &model.Player{ID: id, GameName: name, TagLine: "KR1"})

	for i := 0; i < 2; i++ { // miss, then hit
		p, err := s.GetPlayerByName(ctx, name, "KR1")
		if err != nil || p.ID != id {
			t.Fatalf("lookup %d: got %+v (%v)", i, p, err)
		}
	}
}

func TestCachedStore_TradeReadsSeePrimaryWrites(t *testing.T) {
	s, primary := newTestCache(t)
	ctx := context.Background()
	id := uuid.NewString()
	name := "fresh" + id[:5]
	if err := s.UpsertPlayer(ctx, &model.Player{ID: id, GameName: name, TagLine: "EUW"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_ = s.AppendPriceSample(ctx, model.PriceSample{PlayerID: id, Timestamp: t0, Metric: 100})

	// Warm every cached path.
	if _, err := s.GetPlayerByName(ctx, name, "EUW"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := s.LatestPriceSamples(ctx); err != nil {
		t.Fatalf("latest prices: %v", err)
	}

	// Writes that skip the cache's invalidation.
	now := t0.Add(time.Hour)
	_ = primary.AppendPriceSample(ctx, model.PriceSample{PlayerID: id, Timestamp: now, Metric: 250})
	_ = primary.UpsertPlayer(ctx, &model.Player{ID: id, GameName: name, TagLine: "EUW", DelistedAt: &now})

	latest, err := s.LatestPriceSample(ctx, id)
	if err != nil || latest.Metric != 250 {
		t.Fatalf("expected primary metric 250, got %+v (%v)", latest, err)
	}
	p, err := s.GetPlayer(ctx, id)
	if err != nil || !p.Delisted() {
		t.Fatalf("expected delisted player from primary, got %+v (%v)", p, err)
	}
	byName, err := s.GetPlayerByName(ctx, name, "EUW")
	if err != nil || !byName.Delisted() {
		t.Fatalf("expected delisted player by name, got %+v (%v)", byName, err)
	}
}
