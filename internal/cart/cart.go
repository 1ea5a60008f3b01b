package cart

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	// MaxAddQuantity bounds a single add call.
	MaxAddQuantity = 20
	// MaxLineQuantity bounds a line; increment stops here.
	MaxLineQuantity = 21
)

var (
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 20")
	ErrQuantityLimit   = errors.New("line quantity limit reached")
	ErrLineNotFound    = errors.New("product is not in the cart")
)

// Guard gates every mutation that increases a line quantity.
type Guard interface {
	Check(ctx context.Context, listing domain.Listing, requested int) error
}

// Modifier is the session owning the cart. It is marked once per accepted call.
type Modifier interface {
	MarkModified()
}

type Line struct {
	ProductID int64           `json:"product_id"`
	ListingID int64           `json:"listing_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an insertion-ordered set of lines keyed by product id. Calls that
// return an error leave both the cart and the session untouched.
type Cart struct {
	order []int64
	lines map[int64]*Line
	guard Guard
	owner Modifier
}

func New(guard Guard, owner Modifier) *Cart {
	return &Cart{
		lines: make(map[int64]*Line),
		guard: guard,
		owner: owner,
	}
}

// Restore rebuilds a cart from persisted lines. Lines with a non-positive
// quantity and repeated products are dropped.
func Restore(lines []Line, guard Guard, owner Modifier) *Cart {
	c := New(guard, owner)
	for _, l := range lines {
		if l.Quantity < 1 {
			continue
		}
		if _, exists := c.lines[l.ProductID]; exists {
			continue
		}
		if l.Quantity > MaxLineQuantity {
			l.Quantity = MaxLineQuantity
		}
		line := l
		c.lines[l.ProductID] = &line
		c.order = append(c.order, l.ProductID)
	}
	return c
}

// Add puts quantity units of the listing's product into the cart. With replace
// the line quantity is set, otherwise it accumulates. The resulting quantity is
// checked against the listing stock; a refused check leaves the cart as is.
func (c *Cart) Add(ctx context.Context, listing domain.Listing, quantity int, replace bool) error {
	if quantity < 1 || quantity > MaxAddQuantity {
		return ErrInvalidQuantity
	}

	want := quantity
	existing, exists := c.lines[listing.ProductID]
	if exists && !replace {
		want += existing.Quantity
	}
	if want > MaxLineQuantity {
		return ErrQuantityLimit
	}

	if err := c.guard.Check(ctx, listing, want); err != nil {
		return err
	}

	if !exists {
		existing = &Line{ProductID: listing.ProductID}
		c.lines[listing.ProductID] = existing
		c.order = append(c.order, listing.ProductID)
	}
	// a different seller's listing rebinds the line and re-captures the price
	existing.ListingID = listing.ID
	existing.UnitPrice = listing.UnitPrice
	existing.Quantity = want

	c.touch()
	return nil
}

// Increment adds one unit to an existing line, stopping at MaxLineQuantity.
func (c *Cart) Increment(ctx context.Context, listing domain.Listing) error {
	line, exists := c.lines[listing.ProductID]
	if !exists || line.Quantity < 1 {
		return ErrLineNotFound
	}
	if line.Quantity < MaxLineQuantity {
		if err := c.guard.Check(ctx, listing, line.Quantity+1); err != nil {
			return err
		}
		line.Quantity++
	}

	c.touch()
	return nil
}

// Decrement removes one unit but never takes a line below 1.
func (c *Cart) Decrement(listing domain.Listing) error {
	line, exists := c.lines[listing.ProductID]
	if !exists {
		return ErrLineNotFound
	}
	if line.Quantity > 1 {
		line.Quantity--
	}

	c.touch()
	return nil
}

func (c *Cart) Remove(productID int64) error {
	if _, exists := c.lines[productID]; !exists {
		return ErrLineNotFound
	}
	delete(c.lines, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	c.touch()
	return nil
}

func (c *Cart) Clear() {
	c.lines = make(map[int64]*Line)
	c.order = nil
	c.touch()
}

// Lines returns copies of the lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.lines[id])
	}
	return out
}

func (c *Cart) Line(productID int64) (Line, bool) {
	line, ok := c.lines[productID]
	if !ok {
		return Line{}, false
	}
	return *line, true
}

func (c *Cart) Len() int {
	return len(c.order)
}

func (c *Cart) IsEmpty() bool {
	return len(c.order) == 0
}

func (c *Cart) TotalQuantity() int {
	total := 0
	for _, line := range c.lines {
		total += line.Quantity
	}
	return total
}

// Subtotal is the sum of captured prices times quantities, without discounts.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, id := range c.order {
		total = total.Add(c.lines[id].Total())
	}
	return total
}

func (c *Cart) touch() {
	if c.owner != nil {
		c.owner.MarkModified()
	}
}
