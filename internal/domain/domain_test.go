package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusDelivering, OrderStatusPaid, true},
		{OrderStatusDelivering, OrderStatusUnpaid, true},
		{OrderStatusUnpaid, OrderStatusDelivering, true},
		{OrderStatusUnpaid, OrderStatusPaid, false},
		{OrderStatusPaid, OrderStatusUnpaid, false},
		{OrderStatusPaid, OrderStatusDelivering, false},
		{OrderStatusDelivering, OrderStatusDelivering, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestDiscountPolicy_IsActiveAt(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	assert.True(t, DiscountPolicy{Active: true}.IsActiveAt(now))
	assert.False(t, DiscountPolicy{Active: false}.IsActiveAt(now))
	assert.True(t, DiscountPolicy{Active: true, ValidFrom: &before, ValidTo: &after}.IsActiveAt(now))
	assert.False(t, DiscountPolicy{Active: true, ValidFrom: &after}.IsActiveAt(now))
	assert.False(t, DiscountPolicy{Active: true, ValidTo: &before}.IsActiveAt(now))
}

func TestDiscountPolicy_PercentInRange(t *testing.T) {
	for _, v := range []int64{1, 10, 99} {
		assert.True(t, DiscountPolicy{Value: decimal.NewFromInt(v)}.PercentInRange(), v)
	}
	for _, v := range []int64{0, 100, 150, -5} {
		assert.False(t, DiscountPolicy{Value: decimal.NewFromInt(v)}.PercentInRange(), v)
	}
}

func TestStockError_Unwrap(t *testing.T) {
	unavailable := &StockError{Reason: StockReasonUnavailable, ListingID: 3}
	insufficient := &StockError{Reason: StockReasonInsufficient, ListingID: 3, Requested: 5, Available: 2}

	assert.ErrorIs(t, unavailable, ErrStockUnavailable)
	assert.ErrorIs(t, insufficient, ErrStockInsufficient)
	assert.False(t, errors.Is(insufficient, ErrStockUnavailable))
	assert.Contains(t, insufficient.Error(), "only 2 available")
}

func TestCheckoutRejected_Is(t *testing.T) {
	err := &CheckoutRejected{Reasons: []LineRejection{
		{ProductID: 1, Reason: StockReasonInsufficient},
	}}

	assert.ErrorIs(t, err, ErrStockInsufficient)
	assert.False(t, errors.Is(err, ErrStockUnavailable))
	assert.Contains(t, err.Error(), "product 1: insufficient")

	soldOut := &CheckoutRejected{Reasons: []LineRejection{
		{ProductID: 2, Reason: StockReasonUnavailable},
	}}
	assert.ErrorIs(t, soldOut, ErrStockUnavailable)
	assert.ErrorIs(t, soldOut, ErrStockInsufficient)
	assert.False(t, errors.Is(&CheckoutRejected{}, ErrStockInsufficient))
}
