package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// Refusal reasons returned by the fake gateway.
var refusalReasons = []string{
	"bank unavailable",
	"insufficient funds",
	"invalid account",
	"payment not completed",
}

type Charge struct {
	OrderID uuid.UUID       `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
	Card    string          `json:"card"`
	// IdempotencyKey is the same for every attempt of one payment round.
	IdempotencyKey string `json:"-"`
}

// ChargeKey identifies the current payment round of the order. Reopening an
// UNPAID order updates it, so a retry after a refusal is charged anew.
func ChargeKey(o *domain.Order) string {
	return fmt.Sprintf("%s-%d", o.ID, o.UpdatedAt.UnixNano())
}

// Outcome is a definitive answer from the gateway. A transport failure is an
// error, not an Outcome.
type Outcome struct {
	Paid   bool   `json:"paid"`
	Reason string `json:"reason,omitempty"`
}

type Gateway interface {
	Charge(ctx context.Context, c Charge) (Outcome, error)
}

// FakeGateway pays any card whose number is even and does not end in 0.
// Every other card is refused with a random reason. A repeated idempotency
// key gets the first answer back without a second charge.
type FakeGateway struct {
	pick func(n int) int

	mu      sync.Mutex
	charged map[string]Outcome
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{pick: rand.Intn}
}

func (g *FakeGateway) Charge(ctx context.Context, c Charge) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if out, ok := g.charged[c.IdempotencyKey]; ok && c.IdempotencyKey != "" {
		return out, nil
	}

	out := Outcome{Reason: refusalReasons[g.pick(len(refusalReasons))]}
	if card := NormalizeCard(c.Card); card != "" {
		switch card[len(card)-1] {
		case '2', '4', '6', '8':
			out = Outcome{Paid: true}
		}
	}
	if c.IdempotencyKey != "" {
		if g.charged == nil {
			g.charged = make(map[string]Outcome)
		}
		g.charged[c.IdempotencyKey] = out
	}
	return out, nil
}

// Charges returns how many distinct payment rounds were charged.
func (g *FakeGateway) Charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charged)
}

// NormalizeCard strips spaces and returns "" when anything but digits remains.
func NormalizeCard(card string) string {
	card = strings.ReplaceAll(card, " ", "")
	for _, r := range card {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return card
}

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// idempotencyHeader lets the provider deduplicate retried charges.
const idempotencyHeader = "Idempotency-Key"

type HTTPGatewayConfig struct {
	BaseURL string
	Timeout time.Duration
	// consecutive failures before the breaker opens
	MaxFailures uint32
	OpenTimeout time.Duration
}

// HTTPGateway posts charges to an external payment provider behind a circuit breaker.
type HTTPGateway struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker[Outcome]
}

func NewHTTPGateway(cfg HTTPGatewayConfig) *HTTPGateway {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker[Outcome](gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	})

	return &HTTPGateway{client: client, breaker: breaker}
}

type chargeResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (g *HTTPGateway) Charge(ctx context.Context, c Charge) (Outcome, error) {
	out, err := g.breaker.Execute(func() (Outcome, error) {
		var body chargeResponse
		req := g.client.R()
		if c.IdempotencyKey != "" {
			req.SetHeader(idempotencyHeader, c.IdempotencyKey)
		}
		resp, err := req.
			SetContext(ctx).
			SetBody(c).
			SetResult(&body).
			SetError(&body).
			Post("/charges")
		if err != nil {
			return Outcome{}, err
		}
		switch {
		case resp.StatusCode() >= http.StatusInternalServerError:
			return Outcome{}, fmt.Errorf("gateway returned %d", resp.StatusCode())
		case resp.IsError():
			// a 4xx is a definitive refusal
			reason := body.Reason
			if reason == "" {
				reason = "payment not completed"
			}
			return Outcome{Reason: reason}, nil
		}
		if body.Status == "paid" {
			return Outcome{Paid: true}, nil
		}
		return Outcome{Reason: body.Reason}, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Outcome{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return out, err
}
