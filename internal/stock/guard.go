package stock

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

type Status string

const (
	StatusOK           Status = "ok"
	StatusUnavailable  Status = "unavailable"
	StatusInsufficient Status = "insufficient"
)

// Result of a stock check. Available is the maximum purchasable quantity.
type Result struct {
	Status    Status
	Available int
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Err converts a failed result into a *domain.StockError, nil when ok.
func (r Result) Err(listing domain.Listing, requested int) error {
	switch r.Status {
	case StatusUnavailable:
		return &domain.StockError{
			Reason:    domain.StockReasonUnavailable,
			ListingID: listing.ID,
			ProductID: listing.ProductID,
			Requested: requested,
		}
	case StatusInsufficient:
		return &domain.StockError{
			Reason:    domain.StockReasonInsufficient,
			ListingID: listing.ID,
			ProductID: listing.ProductID,
			Requested: requested,
			Available: r.Available,
		}
	default:
		return nil
	}
}

// Evaluate compares the requested quantity with the listing stock without any side effects.
func Evaluate(listing domain.Listing, requested int) Result {
	if listing.StockQuantity <= 0 {
		return Result{Status: StatusUnavailable}
	}
	if requested > listing.StockQuantity {
		return Result{Status: StatusInsufficient, Available: listing.StockQuantity}
	}
	return Result{Status: StatusOK, Available: listing.StockQuantity}
}

// AvailabilityMarker hides a product from display. Implemented by the catalog.
type AvailabilityMarker interface {
	MarkUnavailable(ctx context.Context, productID int64) error
}

type Guard struct {
	marker AvailabilityMarker
	logger *zap.Logger
}

func NewGuard(marker AvailabilityMarker, logger *zap.Logger) *Guard {
	return &Guard{
		marker: marker,
		logger: logger,
	}
}

// CheckAvailability evaluates the request and, for a listing with no stock,
// writes the unavailable flag through to the catalog. A failed write is logged
// and does not change the result.
func (g *Guard) CheckAvailability(ctx context.Context, listing domain.Listing, requested int) Result {
	res := Evaluate(listing, requested)
	if res.Status == StatusUnavailable {
		g.MarkUnavailable(ctx, listing.ProductID)
	}
	return res
}

// Check is the error form of CheckAvailability used by the cart.
func (g *Guard) Check(ctx context.Context, listing domain.Listing, requested int) error {
	return g.CheckAvailability(ctx, listing, requested).Err(listing, requested)
}

func (g *Guard) MarkUnavailable(ctx context.Context, productID int64) {
	if g.marker == nil {
		return
	}
	if err := g.marker.MarkUnavailable(ctx, productID); err != nil {
		g.logger.Warn("failed to mark product unavailable",
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
		return
	}
	g.logger.Info("product marked unavailable", zap.Int64("product_id", productID))
}
