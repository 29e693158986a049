// Package areas tracks stock per warehouse area and moves it between areas.
package areas

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Area is a named location inside the warehouse.
type Area struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	IsDeleted bool   `json:"is_deleted"`
}

// Stock is the quantity of one product held in one area. Rows reaching zero are
// tombstoned and revived by the next increment.
type Stock struct {
	ID        int64     `json:"id"`
	AreaID    int64     `json:"warehouse_area_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	IsDeleted bool      `json:"is_deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransferInput moves quantity of a product between two areas.
type TransferInput struct {
	ProductID  int64        `json:"product_id" validate:"required,gt=0"`
	FromAreaID int64        `json:"from_area_id" validate:"required,gt=0"`
	ToAreaID   int64        `json:"to_area_id" validate:"required,gt=0,nefield=FromAreaID"`
	Quantity   int          `json:"quantity" validate:"required,gt=0"`
	Actor      shared.Actor `json:"-" validate:"-"`
}

// TransferResult is the state of both rows after a transfer.
type TransferResult struct {
	ProductID   int64 `json:"product_id"`
	Quantity    int   `json:"quantity"`
	Source      Stock `json:"source"`
	Destination Stock `json:"destination"`
}

// TransferSnapshot is the audited state of a transfer.
type TransferSnapshot struct {
	ProductID           int64 `json:"product_id"`
	FromAreaID          int64 `json:"from_area_id"`
	ToAreaID            int64 `json:"to_area_id"`
	Quantity            int   `json:"quantity"`
	SourceQuantity      int   `json:"source_quantity"`
	DestinationQuantity int   `json:"destination_quantity"`
}

// AuditKind implements shared.AuditSnapshot.
func (TransferSnapshot) AuditKind() string { return "warehouse_transfer" }

// Drift compares product on-hand with the total held across areas.
type Drift struct {
	ProductID int64 `json:"product_id"`
	OnHand    int   `json:"on_hand"`
	AreaTotal int   `json:"area_total"`
}

var (
	// ErrAreaNotFound is returned for missing or deleted areas.
	ErrAreaNotFound = fmt.Errorf("%w: warehouse area not found", shared.ErrNotFound)
	// ErrInsufficientAreaQuantity is returned when an area holds less than requested.
	ErrInsufficientAreaQuantity = fmt.Errorf("%w: insufficient quantity in source area", shared.ErrConflict)
	// ErrStockRowNotFound reports that no row exists yet for the area and product.
	ErrStockRowNotFound = fmt.Errorf("%w: area inventory row not found", shared.ErrNotFound)
)
