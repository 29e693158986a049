package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
)

// Gateway is a payments.Gateway double. Checkouts start PENDING; tests move
// them with Settle.
type Gateway struct {
	mu       sync.Mutex
	statuses map[string]payments.GatewayStatus

	// TTL is the checkout lifetime. Defaults to 15 minutes.
	TTL time.Duration
	// Delay is waited out inside Verify, to widen concurrency windows. A
	// cancelled context ends the wait early.
	Delay time.Duration
	// Err, when set, fails every call.
	Err error

	checkouts atomic.Int32
	verifies  atomic.Int32
}

// NewGateway returns an empty gateway double.
func NewGateway() *Gateway {
	return &Gateway{statuses: make(map[string]payments.GatewayStatus), TTL: 15 * time.Minute}
}

func (g *Gateway) CreateCheckout(ctx context.Context, req payments.CheckoutRequest) (payments.Checkout, error) {
	g.checkouts.Add(1)
	if g.Err != nil {
		return payments.Checkout{}, g.Err
	}
	g.mu.Lock()
	g.statuses[req.Reference] = payments.GatewayPending
	g.mu.Unlock()
	return payments.Checkout{
		Reference:   req.Reference,
		RedirectURL: "https://pay.test/checkout/" + req.Reference,
		ExpiresAt:   time.Now().UTC().Add(g.TTL),
	}, nil
}

func (g *Gateway) Verify(ctx context.Context, reference string) (payments.GatewayStatus, error) {
	g.verifies.Add(1)
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.Err != nil {
		return "", g.Err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[reference]
	if !ok {
		return "", fmt.Errorf("%w: unknown reference %s", payments.ErrGatewayUnavailable, reference)
	}
	return status, nil
}

// Settle sets the status the gateway reports for a reference.
func (g *Gateway) Settle(reference string, status payments.GatewayStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[reference] = status
}

// Checkouts returns how many checkouts were requested.
func (g *Gateway) Checkouts() int { return int(g.checkouts.Load()) }

// Verifications returns how many Verify calls reached the gateway.
func (g *Gateway) Verifications() int { return int(g.verifies.Load()) }
