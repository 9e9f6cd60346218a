package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/tftstocks/market-engine/internal/model"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewLock(t *testing.T) {
	l, err := NewLock("pf", "pl", 5, t0, 3*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.ID == "" {
		t.Error("expected lock ID")
	}
	if !l.ExpiresAt.Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("expected expiry at +3h, got %s", l.ExpiresAt)
	}
	if _, err := NewLock("pf", "pl", 0, t0, time.Hour); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestLockedShares_ExpiryBoundary(t *testing.T) {
	l, _ := NewLock("pf", "pl", 5, t0, 3*time.Hour)
	locks := []model.HoldLock{l}

	if n := LockedShares(locks, "pl", t0); n != 5 {
		t.Errorf("at creation: expected 5 locked, got %d", n)
	}
	if n := LockedShares(locks, "pl", t0.Add(3*time.Hour-time.Nanosecond)); n != 5 {
		t.Errorf("just before expiry: expected 5 locked, got %d", n)
	}
	// expires_at > now is required to be active
	if n := LockedShares(locks, "pl", t0.Add(3*time.Hour)); n != 0 {
		t.Errorf("at expiry: expected 0 locked, got %d", n)
	}
}

func TestLockedShares_IndependentLocks(t *testing.T) {
	a, _ := NewLock("pf", "pl", 5, t0, 3*time.Hour)
	b, _ := NewLock("pf", "pl", 2, t0.Add(time.Hour), 3*time.Hour)
	other, _ := NewLock("pf", "other", 9, t0, 3*time.Hour)
	locks := []model.HoldLock{a, b, other}

	if n := LockedShares(locks, "pl", t0.Add(2*time.Hour)); n != 7 {
		t.Errorf("expected 7 locked, got %d", n)
	}
	if n := LockedShares(locks, "pl", t0.Add(3*time.Hour+30*time.Minute)); n != 2 {
		t.Errorf("expected 2 locked after first expiry, got %d", n)
	}
	if n := LockedShares(locks, "pl", t0.Add(4*time.Hour)); n != 0 {
		t.Errorf("expected 0 locked after both expire, got %d", n)
	}
}

func TestFreeShares(t *testing.T) {
	free, err := FreeShares(10, 4)
	if err != nil || free != 6 {
		t.Errorf("expected 6, got %d (%v)", free, err)
	}
	free, err = FreeShares(10, 10)
	if err != nil || free != 0 {
		t.Errorf("expected 0, got %d (%v)", free, err)
	}
}

func TestFreeShares_LockInvariant(t *testing.T) {
	if _, err := FreeShares(3, 5); !errors.Is(err, ErrLockInvariant) {
		t.Errorf("expected ErrLockInvariant, got %v", err)
	}
}

func TestActiveLocks(t *testing.T) {
	a, _ := NewLock("pf", "pl", 5, t0, time.Hour)
	b, _ := NewLock("pf", "pl", 2, t0, 3*time.Hour)
	got := ActiveLocks([]model.HoldLock{a, b}, t0.Add(2*time.Hour))
	if len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("expected only the 3h lock, got %+v", got)
	}
}
