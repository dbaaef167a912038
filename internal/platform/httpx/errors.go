package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gridbill/gridbill/internal/shared"
)

// RespondError maps domain errors to HTTP responses.
func RespondError(w http.ResponseWriter, err error) {
	status, body := Classify(err)
	JSON(w, status, ErrorEnvelope{Success: false, Error: body})
}

// RespondErrorLogged logs unexpected failures before responding.
func RespondErrorLogged(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, body := Classify(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", slog.Any("error", err))
	}
	JSON(w, status, ErrorEnvelope{Success: false, Error: body})
}

// Classify returns the status code and error body for err.
func Classify(err error) (int, ErrorBody) {
	msg := shared.UserSafeMessage(err)
	switch {
	case errors.Is(err, shared.ErrValidation):
		body := ErrorBody{Code: "validation_error", Message: msg}
		var verr *shared.ValidationError
		if errors.As(err, &verr) {
			body.Fields = verr.Fields
		}
		return http.StatusBadRequest, body
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Code: "not_found", Message: msg}
	case errors.Is(err, shared.ErrTransactionFailure):
		return http.StatusConflict, ErrorBody{Code: "transaction_failure", Message: msg, Retryable: true}
	case errors.Is(err, shared.ErrStateConflict):
		return http.StatusConflict, ErrorBody{Code: "state_conflict", Message: msg}
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorBody{Code: "unauthorized", Message: msg}
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, ErrorBody{Code: "forbidden", Message: msg}
	default:
		return http.StatusInternalServerError, ErrorBody{Code: "internal_error", Message: msg}
	}
}
