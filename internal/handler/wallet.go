package handler

import (
	"encoding/json"
	"net/http"

	"investpay/internal/ledger"
	"investpay/internal/middleware"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
	"investpay/pkg/validator"
)

type WalletHandler struct {
	ledger    *ledger.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewWalletHandler(ledgerSvc *ledger.Service, val *validator.Validator, log logger.Logger) *WalletHandler {
	return &WalletHandler{ledger: ledgerSvc, validator: val, logger: log}
}

// GetWallet returns the balance and a newest-first page of ledger entries.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	wallet, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to fetch wallet", err)
		return
	}

	limit, offset := pagination(r)
	txs, total, err := h.ledger.History(r.Context(), userID, limit, offset)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to fetch transactions", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":       wallet,
		"transactions": txs,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

type WithdrawRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

// Withdraw debits the caller's wallet. The Idempotency-Key header doubles as
// the ledger key so a replayed request never debits twice.
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	key := r.Header.Get(middleware.IdempotencyHeader)
	if key == "" {
		respondServiceError(w, h.logger, "Withdrawal rejected", errors.ErrIdempotencyKeyRequired)
		return
	}

	tx, err := h.ledger.Withdraw(r.Context(), userID, req.Amount, userID.String()+":"+key)
	if err != nil {
		respondServiceError(w, h.logger, "Withdrawal failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}
