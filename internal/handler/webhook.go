package handler

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"investpay/internal/order"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

const maxCallbackBytes = 64 << 10

// WebhookHandler receives gateway notifications. The status code only
// signals receipt; a 200 does not mean the order was credited.
type WebhookHandler struct {
	service *order.Service
	logger  logger.Logger
}

func NewWebhookHandler(service *order.Service, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, logger: log}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	gatewayName := mux.Vars(r)["gateway"]

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes+1))
	if err != nil || len(payload) > maxCallbackBytes {
		respondError(w, http.StatusBadRequest, "Invalid callback body")
		return
	}

	res, err := h.service.HandleCallback(r.Context(), gatewayName, payload, r.Header)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"received":     true,
			"order_status": res.Status,
			"applied":      res.Applied,
		})
	case stderrors.Is(err, errors.ErrExpiredOrder), stderrors.Is(err, errors.ErrInvalidTransition):
		// Valid notification for an order that can no longer take it.
		h.logger.Warn("Callback ignored", map[string]interface{}{"gateway": gatewayName, "reason": err.Error()})
		respondJSON(w, http.StatusOK, map[string]interface{}{"received": true, "applied": false})
	case stderrors.Is(err, errors.ErrMalformedCallback):
		respondError(w, http.StatusBadRequest, "Malformed callback")
	case stderrors.Is(err, errors.ErrUnverifiedCallback):
		respondError(w, http.StatusUnauthorized, "Unverified callback")
	case errors.IsNotFound(err), stderrors.Is(err, errors.ErrUnknownGateway):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.IsRetryable(err):
		h.logger.Warn("Callback deferred", map[string]interface{}{"gateway": gatewayName, "error": err.Error()})
		respondError(w, http.StatusServiceUnavailable, "Temporarily unavailable")
	default:
		h.logger.Error("Callback processing failed", map[string]interface{}{"gateway": gatewayName, "error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
