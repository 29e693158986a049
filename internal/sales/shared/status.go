// Package shared holds the sales vocabulary used by both orders and payments.
package shared

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	common "github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// OrderStatus enumerates the lifecycle states of a sales order.
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "PENDING"
	OrderStatusConfirmed     OrderStatus = "CONFIRMED"
	OrderStatusPartiallyPaid OrderStatus = "PARTIALLY_PAID"
	OrderStatusPaid          OrderStatus = "PAID"
	OrderStatusCancelled     OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:       {OrderStatusConfirmed, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusConfirmed:     {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPartiallyPaid: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:          {OrderStatusCancelled},
	OrderStatusCancelled:     nil,
}

// ParseOrderStatus validates a status received at the boundary.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := orderTransitions[status]; !ok {
		return "", fmt.Errorf("%w: unknown order status %q", common.ErrValidation, raw)
	}
	return status, nil
}

// CanTransitionTo reports whether an explicit status change is permitted.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// DeriveStatus computes the status implied by the paid amount. Cancelled orders never change.
func DeriveStatus(current OrderStatus, paid, net decimal.Decimal) OrderStatus {
	switch {
	case current == OrderStatusCancelled:
		return current
	case paid.GreaterThanOrEqual(net):
		return OrderStatusPaid
	case paid.IsPositive():
		return OrderStatusPartiallyPaid
	case current == OrderStatusPaid || current == OrderStatusPartiallyPaid:
		return OrderStatusPending
	default:
		return current
	}
}
