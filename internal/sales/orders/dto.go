package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// ItemInput is a requested order line. A nil unit price takes the product's price.
type ItemInput struct {
	ProductID int64            `json:"product_id" validate:"required,gt=0"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// CreateInput creates an order and reserves its stock.
type CreateInput struct {
	Items         []ItemInput     `json:"items" validate:"required,min=1,dive"`
	CustomerID    *int64          `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	PromotionID   *int64          `json:"promotion_id,omitempty" validate:"omitempty,gt=0"`
	Discount      decimal.Decimal `json:"discount"`
	PaymentMethod payments.Method `json:"payment_method,omitempty"`
	CreatePayment bool            `json:"create_payment"`
	OrderDate     *time.Time      `json:"order_date,omitempty"`
	Actor         shared.Actor    `json:"-" validate:"-"`
}

// Patch is a partial order update: either a status change or a content edit.
type Patch struct {
	Status      *string          `json:"status,omitempty"`
	Items       []ItemInput      `json:"items,omitempty" validate:"omitempty,min=1,dive"`
	Discount    *decimal.Decimal `json:"discount,omitempty"`
	CustomerID  *int64           `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	PromotionID *int64           `json:"promotion_id,omitempty" validate:"omitempty,gt=0"`
	Actor       shared.Actor     `json:"-" validate:"-"`
}

func (p Patch) hasContent() bool {
	return p.Items != nil || p.Discount != nil || p.CustomerID != nil || p.PromotionID != nil
}

// ContentInput edits a pending order. Nil items keep the current lines.
type ContentInput struct {
	Items       []ItemInput      `json:"items" validate:"omitempty,min=1,dive"`
	Discount    *decimal.Decimal `json:"discount,omitempty"`
	CustomerID  *int64           `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	PromotionID *int64           `json:"promotion_id,omitempty" validate:"omitempty,gt=0"`
	Actor       shared.Actor     `json:"-" validate:"-"`
}

// StatusInput requests a status transition.
type StatusInput struct {
	Status string       `json:"status" validate:"required"`
	Actor  shared.Actor `json:"-" validate:"-"`
}
