package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/repository"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type stockDetails struct {
	ProductID int64 `json:"product_id"`
	ListingID int64 `json:"listing_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without their text.
func handleError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var rejected *domain.CheckoutRejected
	var stockErr *domain.StockError

	switch {
	case errors.As(err, &rejected):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "some cart lines cannot be fulfilled",
			Code:    "checkout_rejected",
			Details: rejected.Reasons,
		})
	case errors.As(err, &stockErr):
		code := "insufficient_stock"
		if stockErr.Reason == domain.StockReasonUnavailable {
			code = "out_of_stock"
		}
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error: stockErr.Error(),
			Code:  code,
			Details: stockDetails{
				ProductID: stockErr.ProductID,
				ListingID: stockErr.ListingID,
				Requested: stockErr.Requested,
				Available: stockErr.Available,
			},
		})
	case errors.Is(err, cart.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, cart.ErrQuantityLimit):
		respondError(w, http.StatusConflict, "quantity_limit", err.Error())
	case errors.Is(err, cart.ErrLineNotFound):
		respondError(w, http.StatusNotFound, "not_in_cart", err.Error())
	case errors.Is(err, repository.ErrListingNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, checkout.ErrInvalidProfile),
		errors.Is(err, checkout.ErrInvalidDelivery),
		errors.Is(err, checkout.ErrInvalidPayment),
		errors.Is(err, payment.ErrInvalidCard):
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, payment.ErrAlreadyPaid), errors.Is(err, domain.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, payment.ErrPaymentInProgress):
		respondError(w, http.StatusConflict, "payment_in_progress", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
