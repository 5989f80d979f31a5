// Package handler exposes the payment core over HTTP.
package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "Validation failed",
		"fields": errs,
	})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrInvalidAmount),
		stderrors.Is(err, errors.ErrInvalidOutcome),
		stderrors.Is(err, errors.ErrMalformedCallback),
		stderrors.Is(err, errors.ErrIdempotencyKeyRequired),
		stderrors.Is(err, errors.ErrSelfReferral):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrUnverifiedCallback):
		return http.StatusUnauthorized
	case errors.IsNotFound(err), stderrors.Is(err, errors.ErrUnknownGateway):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrInvalidTransition),
		stderrors.Is(err, errors.ErrOrderAlreadyExists),
		stderrors.Is(err, errors.ErrIdempotencyKeyReused),
		stderrors.Is(err, errors.ErrReferralExists),
		stderrors.Is(err, errors.ErrReferralCycle),
		stderrors.Is(err, errors.ErrDuplicateRequest):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrExpiredOrder):
		return http.StatusGone
	case stderrors.Is(err, errors.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case stderrors.Is(err, errors.ErrGatewayRejected):
		return http.StatusBadGateway
	case errors.IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondServiceError writes the mapped status. Internal failures are logged
// and their details withheld from the client.
func respondServiceError(w http.ResponseWriter, log logger.Logger, msg string, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusBadGateway:
		log.Error(msg, map[string]interface{}{"error": err.Error()})
		respondError(w, status, "Payment gateway rejected the request")
	case status == http.StatusServiceUnavailable:
		log.Error(msg, map[string]interface{}{"error": err.Error()})
		respondError(w, status, "Temporarily unavailable")
	case status >= http.StatusInternalServerError:
		log.Error(msg, map[string]interface{}{"error": err.Error()})
		respondError(w, status, "Internal server error")
	default:
		respondError(w, status, err.Error())
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
