package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Order is a sales order. PaidAmount is cached from the active payments.
type Order struct {
	ID             int64             `json:"id"`
	Code           string            `json:"code"`
	CustomerID     *int64            `json:"customer_id,omitempty"`
	PromotionID    *int64            `json:"promotion_id,omitempty"`
	Status         sales.OrderStatus `json:"status"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	PaidAmount     decimal.Decimal   `json:"paid_amount"`
	OrderDate      time.Time         `json:"order_date"`
	IsDeleted      bool              `json:"is_deleted"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Items          []Item            `json:"items,omitempty"`
}

// Net returns total minus discount.
func (o Order) Net() decimal.Decimal {
	return sales.NetAmount(o.TotalAmount, o.DiscountAmount)
}

// Item is an order line. Replaced items are soft-deleted, never removed.
type Item struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	IsDeleted bool            `json:"is_deleted"`
}

func linesOf(items []Item) []inventory.Line {
	lines := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// Actions lists what may be done with an order in its current state.
type Actions struct {
	CanEditContent bool `json:"can_edit_content"`
	CanConfirm     bool `json:"can_confirm"`
	CanMarkPaid    bool `json:"can_mark_paid"`
	CanCancel      bool `json:"can_cancel"`
	CanAddPayment  bool `json:"can_add_payment"`
	CanDeactivate  bool `json:"can_deactivate"`
	CanActivate    bool `json:"can_activate"`
}

// View is the order returned to callers with its computed fields.
type View struct {
	Order
	NetAmount       decimal.Decimal    `json:"net_amount"`
	RemainingAmount decimal.Decimal    `json:"remaining_amount"`
	FullyPaid       bool               `json:"fully_paid"`
	Payments        []payments.Payment `json:"payments,omitempty"`
	Actions         Actions            `json:"actions"`
}

// NewView computes the derived fields of an order.
func NewView(o Order, pays []payments.Payment) View {
	net := o.Net()
	active := !o.IsDeleted
	return View{
		Order:           o,
		NetAmount:       net,
		RemainingAmount: sales.Remaining(net, o.PaidAmount),
		FullyPaid:       sales.FullyPaid(net, o.PaidAmount),
		Payments:        pays,
		Actions: Actions{
			CanEditContent: active && o.Status == sales.OrderStatusPending,
			CanConfirm:     active && o.Status.CanTransitionTo(sales.OrderStatusConfirmed),
			CanMarkPaid:    active && o.Status.CanTransitionTo(sales.OrderStatusPaid),
			CanCancel:      active && o.Status.CanTransitionTo(sales.OrderStatusCancelled),
			CanAddPayment:  active && o.Status != sales.OrderStatusCancelled && !sales.FullyPaid(net, o.PaidAmount),
			CanDeactivate:  active,
			CanActivate:    o.IsDeleted,
		},
	}
}

// OrderSnapshot is the audited state of an order.
type OrderSnapshot struct {
	ID          int64             `json:"id"`
	Code        string            `json:"code"`
	Status      sales.OrderStatus `json:"status"`
	Total       decimal.Decimal   `json:"total_amount"`
	Discount    decimal.Decimal   `json:"discount_amount"`
	Paid        decimal.Decimal   `json:"paid_amount"`
	CustomerID  *int64            `json:"customer_id,omitempty"`
	PromotionID *int64            `json:"promotion_id,omitempty"`
	IsDeleted   bool              `json:"is_deleted"`
	Items       []ItemSnapshot    `json:"items,omitempty"`
}

// ItemSnapshot is an audited order line.
type ItemSnapshot struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// AuditKind implements shared.AuditSnapshot.
func (OrderSnapshot) AuditKind() string { return "order" }

func snapshotOf(o Order) OrderSnapshot {
	snap := OrderSnapshot{
		ID:          o.ID,
		Code:        o.Code,
		Status:      o.Status,
		Total:       o.TotalAmount,
		Discount:    o.DiscountAmount,
		Paid:        o.PaidAmount,
		CustomerID:  o.CustomerID,
		PromotionID: o.PromotionID,
		IsDeleted:   o.IsDeleted,
	}
	for _, it := range o.Items {
		snap.Items = append(snap.Items, ItemSnapshot{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return snap
}

// ListFilter narrows List results.
type ListFilter struct {
	Status         *sales.OrderStatus
	CustomerID     *int64
	IncludeDeleted bool
	Limit          int
	Offset         int
}

var (
	// ErrOrderNotFound is returned for unknown orders.
	ErrOrderNotFound = payments.ErrOrderNotFound
	// ErrCustomerNotFound is returned when the referenced customer does not exist.
	ErrCustomerNotFound = fmt.Errorf("%w: customer not found", shared.ErrNotFound)
	// ErrInvalidTransition is returned for status changes outside the transition table.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", shared.ErrConflict)
	// ErrNotEditable is returned when editing content of an order that is not pending.
	ErrNotEditable = fmt.Errorf("%w: content edit requires PENDING status", shared.ErrConflict)
	// ErrNotFullyPaid is returned when marking an order PAID before its payments cover the net.
	ErrNotFullyPaid = fmt.Errorf("%w: order is not fully paid", shared.ErrConflict)
)
