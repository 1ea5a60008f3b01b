package discount

import (
	"sort"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// Stage names the step of the cascade that produced a total.
type Stage string

const (
	StageCartPriority Stage = "cart-priority"
	StageSetPriority  Stage = "set-priority"
	StageCart         Stage = "cart"
	StageSet          Stage = "set"
	StageProduct      Stage = "product"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Item is one cart line as seen by the engine.
type Item struct {
	ProductID  int64
	CategoryID int64
	Quantity   int
	// CapturedPrice is the unit price recorded when the line was added.
	CapturedPrice decimal.Decimal
	// ListingPrice is the current listing unit price, used for percentage discounts.
	ListingPrice decimal.Decimal
}

func (i Item) capturedTotal() decimal.Decimal {
	return i.CapturedPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Resolution struct {
	Total    decimal.Decimal `json:"total"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Stage    Stage           `json:"stage"`
	// PolicyID is set for the CART and SET stages.
	PolicyID int64 `json:"policy_id,omitempty"`
	// Inert lists PRODUCT policies that matched a line but carry a value outside 1..99.
	Inert []int64 `json:"-"`
}

type basket struct {
	items      []Item
	subtotal   decimal.Decimal
	products   map[int64]struct{}
	categories map[int64]struct{}
}

func newBasket(items []Item) basket {
	b := basket{
		items:      items,
		subtotal:   decimal.Zero,
		products:   make(map[int64]struct{}, len(items)),
		categories: make(map[int64]struct{}, len(items)),
	}
	for _, it := range items {
		b.subtotal = b.subtotal.Add(it.capturedTotal())
		b.products[it.ProductID] = struct{}{}
		b.categories[it.CategoryID] = struct{}{}
	}
	return b
}

// matcher is one step of the cascade. apply reports whether the policy
// produced a total for the basket.
type matcher struct {
	stage    Stage
	kind     domain.PolicyKind
	priority bool
	apply    func(p domain.DiscountPolicy, b basket) (decimal.Decimal, bool)
}

var cascade = []matcher{
	{stage: StageCartPriority, kind: domain.PolicyKindCart, priority: true, apply: applyCart},
	{stage: StageSetPriority, kind: domain.PolicyKindSet, priority: true, apply: applySet},
	{stage: StageCart, kind: domain.PolicyKindCart, priority: false, apply: applyCart},
	{stage: StageSet, kind: domain.PolicyKindSet, priority: false, apply: applySet},
}

// applyCart overrides the whole total with the policy value when the cart has
// exactly the required number of lines and reaches the required subtotal.
func applyCart(p domain.DiscountPolicy, b basket) (decimal.Decimal, bool) {
	if p.RequiredLineCount != len(b.items) || p.RequiredSubtotal.GreaterThan(b.subtotal) {
		return decimal.Zero, false
	}
	if p.Value.LessThan(one) {
		return decimal.Zero, false
	}
	return p.Value, true
}

// applySet subtracts the policy value when every configured product and
// category is present in the cart. An empty scope matches any cart. The
// result never drops below 1.
func applySet(p domain.DiscountPolicy, b basket) (decimal.Decimal, bool) {
	if !subset(p.Scope.ProductIDs, b.products) || !subset(p.Scope.CategoryIDs, b.categories) {
		return decimal.Zero, false
	}
	return decimal.Max(b.subtotal.Sub(p.Value), one), true
}

func subset(ids []int64, set map[int64]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// Resolve computes the final total of the items under the given active
// policies. Policies are considered in id order; the first matching stage of
// the cascade wins and PRODUCT discounts are the per-line fallback.
func Resolve(items []Item, policies []domain.DiscountPolicy) Resolution {
	b := newBasket(items)
	if len(items) == 0 {
		return Resolution{Total: decimal.Zero, Subtotal: decimal.Zero, Stage: StageProduct}
	}

	ordered := make([]domain.DiscountPolicy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, m := range cascade {
		for _, p := range ordered {
			if p.Kind != m.kind || p.Priority != m.priority {
				continue
			}
			if total, ok := m.apply(p, b); ok {
				return Resolution{Total: total, Subtotal: b.subtotal, Stage: m.stage, PolicyID: p.ID}
			}
		}
	}

	return resolveProducts(b, ordered)
}

func resolveProducts(b basket, ordered []domain.DiscountPolicy) Resolution {
	var products []domain.DiscountPolicy
	for _, p := range ordered {
		if p.Kind == domain.PolicyKindProduct {
			products = append(products, p)
		}
	}

	res := Resolution{Total: decimal.Zero, Subtotal: b.subtotal, Stage: StageProduct}
	inert := make(map[int64]bool)
	for _, it := range b.items {
		line := it.capturedTotal()
		if p, ok := productPolicy(products, it); ok {
			if p.PercentInRange() {
				factor := one.Sub(p.Value.Div(hundred))
				line = it.ListingPrice.Mul(factor).Mul(decimal.NewFromInt(int64(it.Quantity)))
			} else if !inert[p.ID] {
				inert[p.ID] = true
				res.Inert = append(res.Inert, p.ID)
			}
		}
		res.Total = res.Total.Add(line.Round(2))
	}
	return res
}

// productPolicy picks the policy for a line: one naming the product wins over
// one naming its category.
func productPolicy(policies []domain.DiscountPolicy, it Item) (domain.DiscountPolicy, bool) {
	for _, p := range policies {
		if p.Scope.HasProduct(it.ProductID) {
			return p, true
		}
	}
	for _, p := range policies {
		if p.Scope.HasCategory(it.CategoryID) {
			return p, true
		}
	}
	return domain.DiscountPolicy{}, false
}

// ActiveAt filters policies down to those switched on and inside their window.
func ActiveAt(policies []domain.DiscountPolicy, now time.Time) []domain.DiscountPolicy {
	out := make([]domain.DiscountPolicy, 0, len(policies))
	for _, p := range policies {
		if p.IsActiveAt(now) {
			out = append(out, p)
		}
	}
	return out
}
