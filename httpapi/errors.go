package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"threadswap/auth"
	"threadswap/dispute"
	"threadswap/exchange"
	"threadswap/item"
	"threadswap/ledger"
)

// writeDomainError maps domain sentinels onto HTTP statuses. Anything
// unmapped is a 500 with the detail kept out of the response body.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, item.ErrNotFound),
		errors.Is(err, exchange.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, auth.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, exchange.ErrNotAuthorized),
		errors.Is(err, dispute.ErrNotAuthorized),
		errors.Is(err, dispute.ErrNotArbiter),
		errors.Is(err, item.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, exchange.ErrInvalidTransition),
		errors.Is(err, exchange.ErrDuplicateActiveRequest),
		errors.Is(err, exchange.ErrItemUnavailable),
		errors.Is(err, exchange.ErrAlreadyRated),
		errors.Is(err, dispute.ErrAlreadyOpen),
		errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, item.ErrRemovalBlocked),
		errors.Is(err, item.ErrUnavailable),
		errors.Is(err, ledger.ErrInsufficientPoints):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, exchange.ErrSelfTradeNotAllowed),
		errors.Is(err, exchange.ErrInitiatorItemInvalid),
		errors.Is(err, exchange.ErrInvalidRating),
		errors.Is(err, dispute.ErrInvalidOutcome),
		errors.Is(err, item.ErrInvalidPoints),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())

	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
