package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStockUnavailable  = errors.New("listing is out of stock")
	ErrStockInsufficient = errors.New("requested quantity exceeds stock")
	ErrIllegalTransition = errors.New("illegal transition of order status")
)

type StockReason string

const (
	StockReasonUnavailable  StockReason = "unavailable"
	StockReasonInsufficient StockReason = "insufficient"
)

// StockError describes why a listing cannot supply the requested quantity.
// Available is the maximum purchasable quantity.
type StockError struct {
	Reason    StockReason
	ListingID int64
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if e.Reason == StockReasonUnavailable {
		return fmt.Sprintf("listing %d: out of stock", e.ListingID)
	}
	return fmt.Sprintf("listing %d: requested %d, only %d available", e.ListingID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	if e.Reason == StockReasonUnavailable {
		return ErrStockUnavailable
	}
	return ErrStockInsufficient
}

type LineRejection struct {
	ProductID int64       `json:"product_id"`
	ListingID int64       `json:"listing_id"`
	Reason    StockReason `json:"reason"`
	Requested int         `json:"requested"`
	Available int         `json:"available"`
}

// CheckoutRejected lists every cart line that failed stock validation.
// No order is created when it is returned.
type CheckoutRejected struct {
	Reasons []LineRejection
}

func (e *CheckoutRejected) Error() string {
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = fmt.Sprintf("product %d: %s", r.ProductID, r.Reason)
	}
	return "checkout rejected: " + strings.Join(parts, ", ")
}

// Is lets errors.Is match the stock sentinels carried by any rejected line.
// Every rejected line is short of stock, so ErrStockInsufficient always
// matches; ErrStockUnavailable matches only lines with no stock at all.
func (e *CheckoutRejected) Is(target error) bool {
	for _, r := range e.Reasons {
		if target == ErrStockInsufficient {
			return true
		}
		if target == ErrStockUnavailable && r.Reason == StockReasonUnavailable {
			return true
		}
	}
	return false
}

type PaymentFailed struct {
	Reason string
}

func (e *PaymentFailed) Error() string {
	return "payment failed: " + e.Reason
}
