// Package payments records payments against sales orders and keeps the order's
// paid amount and status reconciled with the active payment set.
package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Method enumerates how a payment is made.
type Method string

const (
	MethodCash         Method = "CASH"
	MethodQR           Method = "QR"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodCard         Method = "CARD"
)

// ParseMethod validates a method received at the boundary.
func ParseMethod(raw string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case MethodCash, MethodQR, MethodBankTransfer, MethodCard:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown payment method %q", shared.ErrValidation, raw)
}

// ViaGateway reports whether the method settles asynchronously through the gateway.
func (m Method) ViaGateway() bool {
	return m != MethodCash
}

// Status enumerates payment states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Payment is a single payment recorded against an order.
type Payment struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Method         Method          `json:"method"`
	Status         Status          `json:"status"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	RedirectURL    string          `json:"redirect_url,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	Note           string          `json:"note,omitempty"`
	IsDeleted      bool            `json:"is_deleted"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HoldsBalance reports whether the payment counts against the order's net amount.
func (p Payment) HoldsBalance() bool {
	return !p.IsDeleted && (p.Status == StatusPending || p.Status == StatusCompleted)
}

// Settled reports whether the payment counts as paid.
func (p Payment) Settled() bool {
	return !p.IsDeleted && p.Status == StatusCompleted
}

// Expired reports whether a pending gateway payment is past its expiry.
func (p Payment) Expired(now time.Time) bool {
	return p.Status == StatusPending && p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// OrderBalance is the part of an order that payments reconcile against.
type OrderBalance struct {
	OrderID   int64
	Code      string
	Status    sales.OrderStatus
	Total     decimal.Decimal
	Discount  decimal.Decimal
	Paid      decimal.Decimal
	IsDeleted bool
}

// Net returns total minus discount.
func (b OrderBalance) Net() decimal.Decimal {
	return sales.NetAmount(b.Total, b.Discount)
}

// Settlement is the reconciled payment position of an order.
type Settlement struct {
	OrderID   int64             `json:"order_id"`
	Status    sales.OrderStatus `json:"status"`
	Net       decimal.Decimal   `json:"net_amount"`
	Paid      decimal.Decimal   `json:"paid_amount"`
	Committed decimal.Decimal   `json:"committed_amount"`
	Remaining decimal.Decimal   `json:"remaining_amount"`
	FullyPaid bool              `json:"fully_paid"`
}

// Actions lists what may be done with a payment in its current state.
type Actions struct {
	CanUpdate     bool `json:"can_update"`
	CanDeactivate bool `json:"can_deactivate"`
	CanActivate   bool `json:"can_activate"`
	CanVerify     bool `json:"can_verify"`
}

// View is the payment returned to callers together with its order's settlement.
type View struct {
	Payment
	Order   Settlement `json:"order"`
	Actions Actions    `json:"actions"`
}

// CreateInput records a completed payment.
type CreateInput struct {
	OrderID int64           `json:"order_id" validate:"required,gt=0"`
	Amount  decimal.Decimal `json:"amount"`
	Method  Method          `json:"method" validate:"required"`
	PaidAt  *time.Time      `json:"paid_at,omitempty"`
	Note    string          `json:"note" validate:"max=500"`
	Actor   shared.Actor    `json:"-" validate:"-"`
}

// UpdateInput edits a completed payment. Nil fields are left unchanged.
type UpdateInput struct {
	ID     int64            `json:"-" validate:"required,gt=0"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Method *Method          `json:"method,omitempty"`
	PaidAt *time.Time       `json:"paid_at,omitempty"`
	Note   *string          `json:"note,omitempty" validate:"omitempty,max=500"`
	Actor  shared.Actor     `json:"-" validate:"-"`
}

// CreateQRInput opens a gateway checkout. A zero amount requests the remaining balance.
type CreateQRInput struct {
	OrderID int64           `json:"order_id" validate:"required,gt=0"`
	Amount  decimal.Decimal `json:"amount"`
	Actor   shared.Actor    `json:"-" validate:"-"`
}

// PaymentSnapshot is the audited state of a payment.
type PaymentSnapshot struct {
	ID             int64             `json:"id"`
	OrderID        int64             `json:"order_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Method         Method            `json:"method"`
	Status         Status            `json:"status"`
	TransactionRef string            `json:"transaction_ref,omitempty"`
	IsDeleted      bool              `json:"is_deleted"`
	OrderStatus    sales.OrderStatus `json:"order_status,omitempty"`
	OrderPaid      decimal.Decimal   `json:"order_paid"`
}

// AuditKind implements shared.AuditSnapshot.
func (PaymentSnapshot) AuditKind() string { return "payment" }

var (
	// ErrPaymentNotFound is returned for unknown payments.
	ErrPaymentNotFound = fmt.Errorf("%w: payment not found", shared.ErrNotFound)
	// ErrOrderNotFound is returned for missing or deleted orders.
	ErrOrderNotFound = fmt.Errorf("%w: order not found", shared.ErrNotFound)
	// ErrExceedsBalance is returned when payments would exceed the order's net amount.
	ErrExceedsBalance = fmt.Errorf("%w: payment exceeds remaining balance", shared.ErrConflict)
	// ErrOrderCancelled is returned when paying a cancelled order.
	ErrOrderCancelled = fmt.Errorf("%w: order is cancelled", shared.ErrConflict)
	// ErrPaymentState is returned when the payment's state does not allow the operation.
	ErrPaymentState = fmt.Errorf("%w: payment state does not allow this operation", shared.ErrConflict)
	// ErrVerificationBusy is returned when another worker holds the verification lock.
	ErrVerificationBusy = fmt.Errorf("%w: payment verification already in progress", shared.ErrConflict)
)
