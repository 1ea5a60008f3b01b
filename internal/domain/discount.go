package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PolicyKind string

const (
	PolicyKindProduct PolicyKind = "PRODUCT"
	PolicyKindSet     PolicyKind = "SET"
	PolicyKindCart    PolicyKind = "CART"
)

func (k PolicyKind) Valid() bool {
	return k == PolicyKindProduct || k == PolicyKindSet || k == PolicyKindCart
}

// Scope lists the products and categories a PRODUCT or SET policy refers to.
type Scope struct {
	ProductIDs  []int64 `json:"product_ids"`
	CategoryIDs []int64 `json:"category_ids"`
}

func (s Scope) HasProduct(id int64) bool {
	return contains(s.ProductIDs, id)
}

func (s Scope) HasCategory(id int64) bool {
	return contains(s.CategoryIDs, id)
}

// DiscountPolicy is a pricing rule. Value is a percentage for PRODUCT policies
// and a flat amount for SET and CART policies.
type DiscountPolicy struct {
	ID       int64           `json:"id"`
	Kind     PolicyKind      `json:"kind"`
	Title    string          `json:"title"`
	Active   bool            `json:"active"`
	Priority bool            `json:"priority"`
	Value    decimal.Decimal `json:"value"`
	Scope    Scope           `json:"scope"`

	// CART thresholds.
	RequiredLineCount int             `json:"required_line_count"`
	RequiredSubtotal  decimal.Decimal `json:"required_subtotal"`

	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
}

// IsActiveAt reports whether the policy is switched on and now falls inside
// its validity window. Open bounds are unlimited.
func (p DiscountPolicy) IsActiveAt(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return false
	}
	return true
}

var (
	minPercent = decimal.NewFromInt(1)
	maxPercent = decimal.NewFromInt(99)
)

// PercentInRange reports whether a PRODUCT policy value may be applied.
// Values outside 1..99 leave the policy inert.
func (p DiscountPolicy) PercentInRange() bool {
	return p.Value.GreaterThanOrEqual(minPercent) && p.Value.LessThanOrEqual(maxPercent)
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
