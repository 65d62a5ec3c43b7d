package handler

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/clearhedge/futuresd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError translates a domain error into an HTTP response, exposing
// the error text for expected failures and a generic message otherwise.
func writeDomainError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// httpStatus maps domain errors onto HTTP status codes. Lifecycle conflicts
// are 409, validation failures 422, everything unrecognized 500.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrVaultNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrMarketClosed),
		errors.Is(err, domain.ErrAssetExpired),
		errors.Is(err, domain.ErrAssetNotExpired),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrNotSettled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrBelowMinDebt),
		errors.Is(err, domain.ErrExceedsMaxLTV),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientCollateral),
		errors.Is(err, domain.ErrPriceUnavailable),
		errors.Is(err, domain.ErrDebtOutstanding):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// parseBig parses a base-10 integer string into a big.Int. Empty input
// returns nil (meaning "no amount"), malformed input returns an error flag.
func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, true
	}
	n, ok := new(big.Int).SetString(s, 10)
	return n, ok
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// bigString renders a big.Int as a base-10 string, with "0" for nil.
func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
