package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tftstocks/market-engine/internal/model"
)

// ErrLockInvariant means the active locks on a holding cover more shares
// than it holds. It indicates corrupted state; callers deny the operation.
var ErrLockInvariant = errors.New("ledger: locked shares exceed holding")

// NewLock creates the lock for a buy committed at now. Locks are never
// merged, so every buy matures on its own schedule.
func NewLock(portfolioID, playerID string, shares int64, now time.Time, hold time.Duration) (model.HoldLock, error) {
	if shares <= 0 {
		return model.HoldLock{}, ErrInvalidQuantity
	}
	return model.HoldLock{
		ID:          uuid.New().String(),
		PortfolioID: portfolioID,
		PlayerID:    playerID,
		Shares:      shares,
		CreatedAt:   now,
		ExpiresAt:   now.Add(hold),
	}, nil
}

// LockedShares sums the shares of locks on playerID that are still active
// at time at. Expired locks are simply skipped.
func LockedShares(locks []model.HoldLock, playerID string, at time.Time) int64 {
	var n int64
	for _, l := range locks {
		if l.PlayerID == playerID && l.Active(at) {
			n += l.Shares
		}
	}
	return n
}

// FreeShares returns total minus locked, failing closed when the locks
// exceed the holding.
func FreeShares(total, locked int64) (int64, error) {
	free := total - locked
	if free < 0 || locked < 0 {
		return 0, fmt.Errorf("%w: total %d, locked %d", ErrLockInvariant, total, locked)
	}
	return free, nil
}

// ActiveLocks filters locks down to those active at time at.
func ActiveLocks(locks []model.HoldLock, at time.Time) []model.HoldLock {
	out := make([]model.HoldLock, 0, len(locks))
	for _, l := range locks {
		if l.Active(at) {
			out = append(out, l)
		}
	}
	return out
}
