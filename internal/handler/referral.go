package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"investpay/internal/commission"
	"investpay/internal/middleware"
	"investpay/pkg/logger"
	"investpay/pkg/validator"
)

type ReferralHandler struct {
	distributor *commission.Distributor
	validator   *validator.Validator
	logger      logger.Logger
}

func NewReferralHandler(d *commission.Distributor, val *validator.Validator, log logger.Logger) *ReferralHandler {
	return &ReferralHandler{distributor: d, validator: val, logger: log}
}

type RecordReferralRequest struct {
	RefereeID  uuid.UUID `json:"referee_id" validate:"required"`
	ReferrerID uuid.UUID `json:"referrer_id" validate:"required"`
}

// RecordReferral stores a referee's upline. Called by the identity service.
func (h *ReferralHandler) RecordReferral(w http.ResponseWriter, r *http.Request) {
	var req RecordReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	edges, err := h.distributor.RecordReferral(r.Context(), req.RefereeID, req.ReferrerID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to record referral", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"edges": edges})
}

// Earnings reports the caller's lifetime commission and upline.
func (h *ReferralHandler) Earnings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	total, err := h.distributor.Earnings(r.Context(), userID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to fetch earnings", err)
		return
	}
	upline, err := h.distributor.Ancestors(r.Context(), userID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to fetch referral upline", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"earnings": total,
		"upline":   upline,
	})
}
