package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/domain"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fjod/storefront/internal/discount")

type ListingReader interface {
	GetListings(ctx context.Context, ids []int64) (map[int64]domain.Listing, error)
}

type ProductReader interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
}

type PolicySource interface {
	ActivePolicies(ctx context.Context, now time.Time) ([]domain.DiscountPolicy, error)
}

// Service prices a cart for display.
type Service struct {
	listings ListingReader
	products ProductReader
	policies PolicySource
	logger   *zap.Logger
	clock    func() time.Time
}

func NewService(listings ListingReader, products ProductReader, policies PolicySource, logger *zap.Logger) *Service {
	return &Service{
		listings: listings,
		products: products,
		policies: policies,
		logger:   logger,
		clock:    time.Now,
	}
}

// Quote resolves the total for the cart lines using current listing prices,
// catalog categories and the policies active right now.
func (s *Service) Quote(ctx context.Context, lines []cart.Line) (Resolution, error) {
	ctx, span := tracer.Start(ctx, "discount.Quote")
	defer span.End()

	if len(lines) == 0 {
		return Resolve(nil, nil), nil
	}

	listingIDs := make([]int64, 0, len(lines))
	productIDs := make([]int64, 0, len(lines))
	for _, l := range lines {
		listingIDs = append(listingIDs, l.ListingID)
		productIDs = append(productIDs, l.ProductID)
	}

	listings, err := s.listings.GetListings(ctx, listingIDs)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load listings: %w", err)
	}
	products, err := s.products.GetProducts(ctx, productIDs)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load products: %w", err)
	}
	policies, err := s.policies.ActivePolicies(ctx, s.clock())
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load discount policies: %w", err)
	}

	res := Resolve(BuildItems(lines, listings, products), policies)
	WarnInert(s.logger, res)
	return res, nil
}

// BuildItems joins cart lines with their listings and products. A line whose
// listing is gone keeps its captured price as the listing price.
func BuildItems(lines []cart.Line, listings map[int64]domain.Listing, products map[int64]domain.Product) []Item {
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		it := Item{
			ProductID:     l.ProductID,
			Quantity:      l.Quantity,
			CapturedPrice: l.UnitPrice,
			ListingPrice:  l.UnitPrice,
		}
		if listing, ok := listings[l.ListingID]; ok {
			it.ListingPrice = listing.UnitPrice
		}
		if p, ok := products[l.ProductID]; ok {
			it.CategoryID = p.CategoryID
		}
		items = append(items, it)
	}
	return items
}

// WarnInert logs every PRODUCT policy skipped for an out-of-range value.
func WarnInert(logger *zap.Logger, res Resolution) {
	for _, id := range res.Inert {
		logger.Warn("discount policy misconfigured, value outside 1..99 ignored",
			zap.Int64("policy_id", id),
		)
	}
}
