package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/discount"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ListingReader interface {
	GetListing(ctx context.Context, id int64) (domain.Listing, error)
}

type CartHandler struct {
	listings ListingReader
	quotes   *discount.Service
	metrics  *metrics.Metrics
	logger   *zap.Logger
	timeout  time.Duration
}

func NewCartHandler(listings ListingReader, quotes *discount.Service, m *metrics.Metrics, logger *zap.Logger, timeout time.Duration) *CartHandler {
	return &CartHandler{
		listings: listings,
		quotes:   quotes,
		metrics:  m,
		logger:   logger,
		timeout:  timeout,
	}
}

type AddItemRequestDTO struct {
	ListingID int64 `json:"listing_id"`
	Quantity  int   `json:"quantity"`
	Replace   bool  `json:"replace"`
}

type CartLineDTO struct {
	ProductID int64           `json:"product_id"`
	ListingID int64           `json:"listing_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CartDTO struct {
	Lines         []CartLineDTO   `json:"lines"`
	TotalQuantity int             `json:"total_quantity"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Total         decimal.Decimal `json:"total"`
	PricingStage  discount.Stage  `json:"pricing_stage"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.respondCart(ctx, w, http.StatusOK, sessionFrom(r.Context()).Cart)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ListingID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_listing_id", "listing_id must be positive")
		return
	}

	listing, err := h.listings.GetListing(ctx, req.ListingID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	c := sessionFrom(r.Context()).Cart
	if !h.mutate(w, "add", c.Add(ctx, listing, req.Quantity, req.Replace)) {
		return
	}
	h.respondCart(ctx, w, http.StatusCreated, c)
}

func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c := sessionFrom(r.Context()).Cart
	listing, ok := h.lineListing(ctx, w, r, c)
	if !ok {
		return
	}
	if !h.mutate(w, "increment", c.Increment(ctx, listing)) {
		return
	}
	h.respondCart(ctx, w, http.StatusOK, c)
}

func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c := sessionFrom(r.Context()).Cart
	listing, ok := h.lineListing(ctx, w, r, c)
	if !ok {
		return
	}
	if !h.mutate(w, "decrement", c.Decrement(listing)) {
		return
	}
	h.respondCart(ctx, w, http.StatusOK, c)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	c := sessionFrom(r.Context()).Cart
	if !h.mutate(w, "remove", c.Remove(productID)) {
		return
	}
	h.respondCart(ctx, w, http.StatusOK, c)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c := sessionFrom(r.Context()).Cart
	c.Clear()
	h.metrics.CartMutation("clear", "ok")
	h.respondCart(ctx, w, http.StatusOK, c)
}

// lineListing resolves the listing the cart line for {product_id} is bound to.
func (h *CartHandler) lineListing(ctx context.Context, w http.ResponseWriter, r *http.Request, c *cart.Cart) (domain.Listing, bool) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return domain.Listing{}, false
	}
	line, found := c.Line(productID)
	if !found {
		handleError(w, h.logger, cart.ErrLineNotFound)
		return domain.Listing{}, false
	}
	listing, err := h.listings.GetListing(ctx, line.ListingID)
	if err != nil {
		handleError(w, h.logger, err)
		return domain.Listing{}, false
	}
	return listing, true
}

func (h *CartHandler) mutate(w http.ResponseWriter, op string, err error) bool {
	if err != nil {
		h.metrics.CartMutation(op, "rejected")
		handleError(w, h.logger, err)
		return false
	}
	h.metrics.CartMutation(op, "ok")
	return true
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, status int, c *cart.Cart) {
	lines := c.Lines()
	res, err := h.quotes.Quote(ctx, lines)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	dto := CartDTO{
		Lines:         make([]CartLineDTO, 0, len(lines)),
		TotalQuantity: c.TotalQuantity(),
		Subtotal:      c.Subtotal(),
		Total:         res.Total,
		PricingStage:  res.Stage,
	}
	for _, l := range lines {
		dto.Lines = append(dto.Lines, CartLineDTO{
			ProductID: l.ProductID,
			ListingID: l.ListingID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.Total(),
		})
	}
	respondJSON(w, status, dto)
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}
