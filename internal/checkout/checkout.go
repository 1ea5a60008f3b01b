package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/discount"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/stock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fjod/storefront/internal/checkout")

type Request struct {
	Cart           *cart.Cart
	Profile        domain.Profile
	Delivery       domain.DeliveryType
	Payment        domain.PaymentMethod
	IdempotencyKey string
}

// OrderCreated is the payload of the order.created outbox event.
type OrderCreated struct {
	OrderID      uuid.UUID          `json:"order_id"`
	Email        string             `json:"email"`
	Lines        []domain.OrderLine `json:"lines"`
	TotalPayment decimal.Decimal    `json:"total_payment"`
	Stage        discount.Stage     `json:"pricing_stage"`
	CreatedAt    time.Time          `json:"created_at"`
}

// AvailabilityMarker hides products that ran out of stock.
type AvailabilityMarker interface {
	MarkUnavailable(ctx context.Context, productID int64)
}

type Service struct {
	store    repository.Store
	products discount.ProductReader
	marker   AvailabilityMarker
	metrics  *metrics.Metrics
	logger   *zap.Logger
	clock    func() time.Time
}

func NewService(
	store repository.Store,
	products discount.ProductReader,
	marker AvailabilityMarker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:    store,
		products: products,
		marker:   marker,
		metrics:  m,
		logger:   logger,
		clock:    time.Now,
	}
}

// Checkout turns the cart into an order in one transaction: lock the listings,
// re-check stock, price the cart with fresh policies the same way the display
// quote does, insert the order, decrement stock and queue the order.created
// event. Any stock problem rejects the whole checkout with a
// *domain.CheckoutRejected. The cart is cleared only after commit.
func (s *Service) Checkout(ctx context.Context, req Request) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.Checkout")
	defer span.End()

	// a retried request finds its order even though the cart is already cleared
	if req.IdempotencyKey != "" {
		existing, err := s.store.OrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil && !errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("duplicate checkout request",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID.String()),
			)
			s.metrics.Checkout("duplicate")
			return existing, nil
		}
	}

	if err := validate(req); err != nil {
		s.metrics.Checkout("invalid")
		return nil, err
	}

	lines := req.Cart.Lines()
	productIDs := make([]int64, 0, len(lines))
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
	}
	products, err := s.products.GetProducts(ctx, productIDs)
	if err != nil {
		s.metrics.Checkout("error")
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	var order *domain.Order
	var soldOut []int64
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.CheckoutTx) error {
		var txErr error
		order, soldOut, txErr = s.placeOrder(ctx, tx, req, lines, products)
		return txErr
	})
	if err != nil {
		return s.fail(ctx, req, err, soldOut)
	}

	req.Cart.Clear()
	span.SetAttributes(attribute.String("order_id", order.ID.String()))
	s.metrics.Checkout("success")
	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("total_payment", order.TotalPayment.StringFixed(2)),
		zap.Int("lines", len(order.Lines)),
	)
	return order, nil
}

func (s *Service) placeOrder(
	ctx context.Context,
	tx repository.CheckoutTx,
	req Request,
	lines []cart.Line,
	products map[int64]domain.Product,
) (*domain.Order, []int64, error) {
	listingIDs := make([]int64, 0, len(lines))
	for _, l := range lines {
		listingIDs = append(listingIDs, l.ListingID)
	}
	sort.Slice(listingIDs, func(i, j int) bool { return listingIDs[i] < listingIDs[j] })

	locked, err := tx.LockListings(ctx, listingIDs)
	if err != nil {
		return nil, nil, err
	}

	var rejections []domain.LineRejection
	var soldOut []int64
	for _, l := range lines {
		// a vanished listing has no stock
		listing, found := locked[l.ListingID]
		if !found {
			listing = domain.Listing{ID: l.ListingID, ProductID: l.ProductID}
		}
		res := stock.Evaluate(listing, l.Quantity)
		if res.OK() {
			continue
		}
		rejections = append(rejections, domain.LineRejection{
			ProductID: l.ProductID,
			ListingID: l.ListingID,
			Reason:    domain.StockReason(res.Status),
			Requested: l.Quantity,
			Available: res.Available,
		})
		if found && res.Status == stock.StatusUnavailable {
			soldOut = append(soldOut, l.ProductID)
		}
	}
	if len(rejections) > 0 {
		return nil, soldOut, &domain.CheckoutRejected{Reasons: rejections}
	}

	now := s.clock()
	policies, err := tx.ActivePolicies(ctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load discount policies: %w", err)
	}

	// lines keep the price captured at add time; PRODUCT percentages read the locked listing
	orderLines := make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		orderLines = append(orderLines, domain.OrderLine{
			ProductID: l.ProductID,
			ListingID: l.ListingID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	items := discount.BuildItems(lines, locked, products)

	res := s.resolveTotal(ctx, items, policies)

	order := &domain.Order{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		Email:          req.Profile.Email,
		FullName:       req.Profile.FullName,
		Phone:          req.Profile.Phone,
		Address:        deliveryAddress(req.Profile),
		Delivery:       req.Delivery,
		Payment:        req.Payment,
		Lines:          orderLines,
		TotalPayment:   res.Total,
		Status:         domain.OrderStatusDelivering,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, nil, err
	}

	for _, l := range orderLines {
		if err := tx.DecrementStock(ctx, l.ListingID, l.Quantity); err != nil {
			return nil, nil, fmt.Errorf("decrement stock of listing %d: %w", l.ListingID, err)
		}
	}

	payload, err := json.Marshal(OrderCreated{
		OrderID:      order.ID,
		Email:        order.Email,
		Lines:        order.Lines,
		TotalPayment: order.TotalPayment,
		Stage:        res.Stage,
		CreatedAt:    order.CreatedAt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal order event: %w", err)
	}
	err = tx.AddOutboxEvent(ctx, &repository.OutboxEvent{
		AggregateID: order.ID.String(),
		EventType:   repository.EventOrderCreated,
		Payload:     payload,
	})
	if err != nil {
		return nil, nil, err
	}

	return order, nil, nil
}

func (s *Service) resolveTotal(ctx context.Context, items []discount.Item, policies []domain.DiscountPolicy) discount.Resolution {
	_, span := tracer.Start(ctx, "checkout.resolveTotal")
	defer span.End()

	res := discount.Resolve(items, policies)
	discount.WarnInert(s.logger, res)
	span.SetAttributes(
		attribute.String("pricing_stage", string(res.Stage)),
		attribute.String("total", res.Total.StringFixed(2)),
	)
	return res
}

func (s *Service) fail(ctx context.Context, req Request, err error, soldOut []int64) (*domain.Order, error) {
	var rejected *domain.CheckoutRejected
	if errors.As(err, &rejected) {
		for _, productID := range soldOut {
			s.marker.MarkUnavailable(ctx, productID)
		}
		s.metrics.Checkout("rejected")
		s.logger.Info("checkout rejected", zap.Int("lines", len(rejected.Reasons)))
		return nil, rejected
	}

	// a concurrent request with the same key won the insert
	if errors.Is(err, repository.ErrDuplicateCheckout) && req.IdempotencyKey != "" {
		existing, getErr := s.store.OrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if getErr == nil {
			s.metrics.Checkout("duplicate")
			return existing, nil
		}
	}

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.Checkout("error")
	s.logger.Error("checkout failed", zap.Error(err))
	return nil, fmt.Errorf("checkout failed: %w", err)
}

func validate(req Request) error {
	if req.Cart == nil || req.Cart.IsEmpty() {
		return ErrEmptyCart
	}
	if strings.TrimSpace(req.Profile.Email) == "" || strings.TrimSpace(req.Profile.FullName) == "" {
		return ErrInvalidProfile
	}
	if !req.Delivery.Valid() {
		return ErrInvalidDelivery
	}
	if !req.Payment.Valid() {
		return ErrInvalidPayment
	}
	return nil
}

// deliveryAddress joins city and street the way the profile stores them.
func deliveryAddress(p domain.Profile) string {
	return strings.TrimSpace(strings.TrimSpace(p.City) + " " + strings.TrimSpace(p.Address))
}
