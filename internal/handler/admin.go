package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"investpay/internal/ledger"
	"investpay/pkg/logger"
	"investpay/pkg/validator"
)

type AdminHandler struct {
	ledger    *ledger.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewAdminHandler(ledgerSvc *ledger.Service, val *validator.Validator, log logger.Logger) *AdminHandler {
	return &AdminHandler{ledger: ledgerSvc, validator: val, logger: log}
}

// AuditOwner compares one wallet balance against its completed ledger sum.
func (h *AdminHandler) AuditOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(mux.Vars(r)["owner"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid owner ID")
		return
	}

	report, err := h.ledger.Audit(r.Context(), owner)
	if err != nil {
		respondServiceError(w, h.logger, "Audit failed", err)
		return
	}
	if !report.Consistent {
		h.logger.Warn("Wallet out of balance", map[string]interface{}{
			"owner_id":   owner,
			"difference": report.Difference,
		})
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) AuditAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.AuditAll(r.Context(), 500)
	if err != nil {
		respondServiceError(w, h.logger, "Audit failed", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type AdjustRequest struct {
	OwnerID uuid.UUID `json:"owner_id" validate:"required"`
	Delta   int64     `json:"delta" validate:"required"`
	Key     string    `json:"key" validate:"required,max=128"`
	Reason  string    `json:"reason" validate:"required,max=255"`
}

// Adjust posts an operator correction to a wallet.
func (h *AdminHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	tx, err := h.ledger.Adjust(r.Context(), req.OwnerID, req.Delta, req.Key, validator.Sanitize(req.Reason))
	if err != nil {
		respondServiceError(w, h.logger, "Adjustment failed", err)
		return
	}
	h.logger.Info("Wallet adjusted", map[string]interface{}{
		"owner_id": req.OwnerID,
		"delta":    req.Delta,
		"key":      req.Key,
	})
	respondJSON(w, http.StatusCreated, tx)
}
