package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

type OrderReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByEmail(ctx context.Context, email string) ([]*domain.Order, error)
}

type OrdersHandler struct {
	checkout *checkout.Service
	payments *payment.Service
	orders   OrderReader
	logger   *zap.Logger
	timeout  time.Duration
}

func NewOrdersHandler(co *checkout.Service, payments *payment.Service, orders OrderReader, logger *zap.Logger, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		checkout: co,
		payments: payments,
		orders:   orders,
		logger:   logger,
		timeout:  timeout,
	}
}

type CheckoutRequestDTO struct {
	Profile  domain.Profile       `json:"profile"`
	Delivery domain.DeliveryType  `json:"delivery"`
	Payment  domain.PaymentMethod `json:"payment"`
}

type PaymentRequestDTO struct {
	Card string `json:"card"`
}

// Checkout has no deadline of its own; it runs under the request context.
func (h *OrdersHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.checkout.Checkout(r.Context(), checkout.Request{
		Cart:           sessionFrom(r.Context()).Cart,
		Profile:        req.Profile,
		Delivery:       req.Delivery,
		Payment:        req.Payment,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, id)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// ListOrders returns the order history for ?email=.
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		respondError(w, http.StatusBadRequest, "invalid_email", "email query parameter is required")
		return
	}
	orders, err := h.orders.ListOrdersByEmail(ctx, email)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *OrdersHandler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req PaymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.payments.Submit(ctx, id, req.Card); err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusAccepted, payment.StatusView{OrderID: id, State: payment.StateInProgress})
}

func (h *OrdersHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	view, err := h.payments.Status(ctx, id)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
