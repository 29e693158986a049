package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Reason tags why on-hand stock moved.
type Reason string

const (
	// ReasonSale is the reservation made when an order is created.
	ReasonSale Reason = "SALE"
	// ReasonSaleEdit records the delta of an order content edit.
	ReasonSaleEdit Reason = "SALE_EDIT"
	// ReasonSaleCancel restores stock of a cancelled order.
	ReasonSaleCancel Reason = "SALE_CANCEL"
	// ReasonReceipt is inbound stock from a stock entry.
	ReasonReceipt Reason = "RECEIPT"
	// ReasonReceiptEdit records the delta of a stock entry content edit.
	ReasonReceiptEdit Reason = "RECEIPT_EDIT"
	// ReasonReceiptCancel rolls back a cancelled stock entry.
	ReasonReceiptCancel Reason = "RECEIPT_CANCEL"
	// ReasonOpening seeds the ledger with a product's opening balance.
	ReasonOpening Reason = "OPENING"
)

// Product is the stock-bearing view of a catalogue product.
type Product struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Unit      string          `json:"unit"`
	OnHand    int             `json:"on_hand"`
	IsDeleted bool            `json:"is_deleted"`
}

// LedgerEntry is one append-only stock movement.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reason    Reason    `json:"reason"`
	RefModule string    `json:"ref_module"`
	RefID     int64     `json:"ref_id"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Posting describes the document a batch of movements belongs to.
type Posting struct {
	Reason    Reason
	RefModule string
	RefID     int64
	ActorID   string
	At        time.Time
}

// Line is a product quantity on a document.
type Line struct {
	ProductID int64
	Quantity  int
}

// Change is a signed per-product on-hand delta.
type Change struct {
	ProductID int64
	Delta     int
}

// Drift reports a product whose on-hand diverges from its ledger.
type Drift struct {
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	OnHand    int    `json:"on_hand"`
	LedgerSum int    `json:"ledger_sum"`
}

var (
	// ErrProductNotFound is returned for missing or deleted products.
	ErrProductNotFound = fmt.Errorf("%w: product not found", shared.ErrNotFound)
	// ErrInsufficientStock is returned when a movement would make on-hand negative.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", shared.ErrConflict)
)
