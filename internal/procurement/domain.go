package procurement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// EntryStatus is the lifecycle status of a stock entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "PENDING"
	EntryStatusCompleted EntryStatus = "COMPLETED"
	EntryStatusCancelled EntryStatus = "CANCELLED"
)

// ParseEntryStatus validates a status received at the boundary.
func ParseEntryStatus(raw string) (EntryStatus, error) {
	s := EntryStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case EntryStatusPending, EntryStatusCompleted, EntryStatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown stock entry status %q", shared.ErrValidation, raw)
}

// CanTransitionTo reports whether next is reachable from s.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	return s == EntryStatusPending && (next == EntryStatusCompleted || next == EntryStatusCancelled)
}

// StockEntry records inbound stock, optionally from a supplier.
type StockEntry struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	SupplierID *int64          `json:"supplier_id,omitempty"`
	Status     EntryStatus     `json:"status"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	EntryDate  time.Time       `json:"entry_date"`
	Note       string          `json:"note,omitempty"`
	IsDeleted  bool            `json:"is_deleted"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Items      []EntryItem     `json:"items,omitempty"`
}

// EntryItem is one received line. AreaID is optional; without it the units only
// raise the product's on-hand.
type EntryItem struct {
	ID        int64           `json:"id"`
	EntryID   int64           `json:"stock_entry_id"`
	ProductID int64           `json:"product_id"`
	AreaID    *int64          `json:"warehouse_area_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	IsDeleted bool            `json:"is_deleted"`
}

func linesOf(items []EntryItem) []inventory.Line {
	lines := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// Actions lists what may be done with a stock entry in its current state.
type Actions struct {
	CanEditContent bool `json:"can_edit_content"`
	CanComplete    bool `json:"can_complete"`
	CanCancel      bool `json:"can_cancel"`
	CanDeactivate  bool `json:"can_deactivate"`
	CanActivate    bool `json:"can_activate"`
}

// View is a stock entry with its permitted actions.
type View struct {
	StockEntry
	Actions Actions `json:"actions"`
}

// NewView computes the action flags of an entry.
func NewView(e StockEntry) View {
	active := !e.IsDeleted
	return View{
		StockEntry: e,
		Actions: Actions{
			CanEditContent: active && e.Status == EntryStatusPending,
			CanComplete:    active && e.Status.CanTransitionTo(EntryStatusCompleted),
			CanCancel:      active && e.Status.CanTransitionTo(EntryStatusCancelled),
			CanDeactivate:  active,
			CanActivate:    e.IsDeleted,
		},
	}
}

// ItemInput is a requested receipt line.
type ItemInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	AreaID    *int64          `json:"warehouse_area_id,omitempty" validate:"omitempty,gt=0"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// CreateInput creates a stock entry and receives its stock.
type CreateInput struct {
	SupplierID *int64       `json:"supplier_id,omitempty" validate:"omitempty,gt=0"`
	EntryDate  *time.Time   `json:"entry_date,omitempty"`
	Note       string       `json:"note,omitempty" validate:"max=500"`
	Items      []ItemInput  `json:"items" validate:"required,min=1,dive"`
	Actor      shared.Actor `json:"-" validate:"-"`
}

// ContentInput replaces the lines of a pending entry. A nil supplier keeps the current one.
type ContentInput struct {
	SupplierID *int64       `json:"supplier_id,omitempty" validate:"omitempty,gt=0"`
	Note       *string      `json:"note,omitempty" validate:"omitempty,max=500"`
	Items      []ItemInput  `json:"items" validate:"required,min=1,dive"`
	Actor      shared.Actor `json:"-" validate:"-"`
}

// StatusInput requests a status transition.
type StatusInput struct {
	Status string       `json:"status" validate:"required"`
	Actor  shared.Actor `json:"-" validate:"-"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Status         *EntryStatus
	SupplierID     *int64
	IncludeDeleted bool
	SortBy         string
	SortDir        string
	Limit          int
	Offset         int
}

// StockEntrySnapshot is the audited state of a stock entry.
type StockEntrySnapshot struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	SupplierID *int64          `json:"supplier_id,omitempty"`
	Status     EntryStatus     `json:"status"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	IsDeleted  bool            `json:"is_deleted"`
	Items      []ItemSnapshot  `json:"items,omitempty"`
}

// ItemSnapshot is an audited receipt line.
type ItemSnapshot struct {
	ProductID int64           `json:"product_id"`
	AreaID    *int64          `json:"warehouse_area_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// AuditKind implements shared.AuditSnapshot.
func (StockEntrySnapshot) AuditKind() string { return "stock_entry" }

func snapshotOf(e StockEntry) StockEntrySnapshot {
	snap := StockEntrySnapshot{
		ID:         e.ID,
		Code:       e.Code,
		SupplierID: e.SupplierID,
		Status:     e.Status,
		TotalCost:  e.TotalCost,
		IsDeleted:  e.IsDeleted,
	}
	for _, it := range e.Items {
		snap.Items = append(snap.Items, ItemSnapshot{ProductID: it.ProductID, AreaID: it.AreaID, Quantity: it.Quantity, UnitCost: it.UnitCost})
	}
	return snap
}

var (
	// ErrStockEntryNotFound is returned for unknown stock entries.
	ErrStockEntryNotFound = fmt.Errorf("%w: stock entry not found", shared.ErrNotFound)
	// ErrSupplierNotFound is returned when the referenced supplier does not exist.
	ErrSupplierNotFound = fmt.Errorf("%w: supplier not found", shared.ErrNotFound)
	// ErrInvalidTransition is returned for status changes outside the transition table.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", shared.ErrConflict)
	// ErrNotEditable is returned when editing content of an entry that is not pending.
	ErrNotEditable = fmt.Errorf("%w: content edit requires PENDING status", shared.ErrConflict)
)
