// Package ledger holds the state transitions for a portfolio's positions:
// weighted-average cost on buys, share decrements on sells, and time-boxed
// hold locks that keep freshly bought shares from being resold.
//
// Functions here are pure. Persistence and atomicity belong to the store's
// portfolio transaction; the trade engine composes the two.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/model"
)

var (
	// ErrInvalidQuantity is returned when a share count is not positive.
	ErrInvalidQuantity = errors.New("ledger: shares must be a positive integer")

	// ErrInsufficientShares is returned when a sell exceeds the holding.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrNegativePrice is returned when a buy is recorded at a negative price.
	ErrNegativePrice = errors.New("ledger: price must be non-negative")
)

// ApplyBuy adds shares bought at price to h. A nil h opens a new holding.
//
//	avg' = (avg * shares + price * bought) / (shares + bought)
//
// The new average is rounded half away from zero to money precision.
func ApplyBuy(h *model.Holding, portfolioID, playerID string, shares int64, price decimal.Decimal) (model.Holding, error) {
	if shares <= 0 {
		return model.Holding{}, ErrInvalidQuantity
	}
	if price.IsNegative() {
		return model.Holding{}, ErrNegativePrice
	}

	if h == nil {
		return model.Holding{
			PortfolioID: portfolioID,
			PlayerID:    playerID,
			Shares:      shares,
			AverageCost: price.Round(model.MoneyScale),
		}, nil
	}

	oldShares := decimal.NewFromInt(h.Shares)
	added := decimal.NewFromInt(shares)
	total := h.Shares + shares

	cost := h.AverageCost.Mul(oldShares).Add(price.Mul(added))
	avg := cost.DivRound(decimal.NewFromInt(total), model.MoneyScale)

	return model.Holding{
		PortfolioID: h.PortfolioID,
		PlayerID:    h.PlayerID,
		Shares:      total,
		AverageCost: avg,
	}, nil
}

// ApplySell removes shares from h. The average cost is left untouched.
// removed is true when the holding reaches zero and must be deleted.
func ApplySell(h model.Holding, shares int64) (next model.Holding, removed bool, err error) {
	if shares <= 0 {
		return h, false, ErrInvalidQuantity
	}
	if shares > h.Shares {
		return h, false, fmt.Errorf("%w: have %d, selling %d", ErrInsufficientShares, h.Shares, shares)
	}

	next = h
	next.Shares = h.Shares - shares
	return next, next.Shares == 0, nil
}

// RealizedPnL is the profit of selling shares at price against h's cost basis.
func RealizedPnL(h model.Holding, shares int64, price decimal.Decimal) decimal.Decimal {
	return price.Sub(h.AverageCost).Mul(decimal.NewFromInt(shares))
}
