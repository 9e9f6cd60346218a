package trade

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tftstocks/market-engine/internal/leaderboard"
	"github.com/tftstocks/market-engine/internal/ledger"
	"github.com/tftstocks/market-engine/internal/player"
	"github.com/tftstocks/market-engine/internal/store"
)

// writeJSON writes data as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error to its HTTP status: rejections a caller can fix
// are 400, missing records 404, exhausted retries 409, everything else 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidTradeType),
		errors.Is(err, ErrPlayerDelisted),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientFreeShares),
		errors.Is(err, ErrNoPriceData),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, player.ErrInvalidRef),
		errors.Is(err, leaderboard.ErrUnknownMetric),
		errors.Is(err, leaderboard.ErrInvalidPage):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoHolding),
		errors.Is(err, ErrPlayerNotFound),
		errors.Is(err, ErrPortfolioNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrTxConflict), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with its mapped status. Internal errors are not
// echoed to the client.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, msg, status)
}
