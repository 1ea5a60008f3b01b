package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusUnpaid     OrderStatus = "UNPAID"
	OrderStatusDelivering OrderStatus = "DELIVERING"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the payment state machine allows moving
// from one status to another.
func CanTransitionTo(from, to OrderStatus) bool {
	switch from {
	case OrderStatusDelivering:
		return to == OrderStatusPaid || to == OrderStatusUnpaid
	case OrderStatusUnpaid:
		return to == OrderStatusDelivering
	default:
		return false
	}
}

type DeliveryType int

const (
	DeliveryStandard DeliveryType = 1
	DeliveryExpress  DeliveryType = 2
)

func (d DeliveryType) Valid() bool {
	return d == DeliveryStandard || d == DeliveryExpress
}

type PaymentMethod int

const (
	PaymentOwnCard       PaymentMethod = 1
	PaymentRandomAccount PaymentMethod = 2
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentOwnCard || p == PaymentRandomAccount
}

type Profile struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	City     string `json:"city"`
	Address  string `json:"address"`
}

// OrderLine is the immutable snapshot of a cart line taken at checkout.
type OrderLine struct {
	ProductID int64           `json:"product_id"`
	ListingID int64           `json:"listing_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Order struct {
	ID             uuid.UUID       `json:"id"`
	IdempotencyKey string          `json:"-"`
	Email          string          `json:"email"`
	FullName       string          `json:"full_name"`
	Phone          string          `json:"phone"`
	Address        string          `json:"address"`
	Delivery       DeliveryType    `json:"delivery"`
	Payment        PaymentMethod   `json:"payment"`
	Lines          []OrderLine     `json:"lines"`
	TotalPayment   decimal.Decimal `json:"total_payment"`
	Status         OrderStatus     `json:"status"`
	StatusReason   string          `json:"status_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
