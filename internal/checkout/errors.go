package checkout

import "errors"

var (
	ErrEmptyCart       = errors.New("cart is empty, nothing to checkout")
	ErrInvalidProfile  = errors.New("email and full name are required")
	ErrInvalidDelivery = errors.New("unknown delivery type")
	ErrInvalidPayment  = errors.New("unknown payment method")
)
