package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"investpay/internal/middleware"
	"investpay/internal/order"
	"investpay/pkg/logger"
	"investpay/pkg/validator"
)

type OrderHandler struct {
	service        *order.Service
	validator      *validator.Validator
	logger         logger.Logger
	defaultGateway string
}

func NewOrderHandler(service *order.Service, val *validator.Validator, log logger.Logger, defaultGateway string) *OrderHandler {
	return &OrderHandler{service: service, validator: val, logger: log, defaultGateway: defaultGateway}
}

// CreateOrder opens a deposit order and registers it with the gateway.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req order.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.OwnerID = userID
	if req.Gateway == "" {
		req.Gateway = h.defaultGateway
	}

	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	o, err := h.service.Checkout(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, "Order checkout failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"order":        o,
		"redirect_url": o.RedirectURL,
	})
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit, offset := pagination(r)
	orders, err := h.service.ListByOwner(r.Context(), userID, limit, offset)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to list orders", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, orderID, ok := h.ids(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetForOwner(r.Context(), userID, orderID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to fetch order", err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// PollOrder asks the gateway for the payment status and applies it.
func (h *OrderHandler) PollOrder(w http.ResponseWriter, r *http.Request) {
	userID, orderID, ok := h.ids(w, r)
	if !ok {
		return
	}

	o, err := h.service.Poll(r.Context(), userID, orderID)
	if err != nil {
		respondServiceError(w, h.logger, "Order poll failed", err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) ids(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, orderID, true
}
