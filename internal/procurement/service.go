package procurement

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// GetStockEntry returns the entry with its active items.
	GetStockEntry(ctx context.Context, id int64) (StockEntry, error)
	ListStockEntries(ctx context.Context, filter ListFilter) ([]StockEntry, int, error)
}

// TxRepository is everything a stock entry operation touches in one
// transaction: entries, product stock with its ledger, and area rows.
type TxRepository interface {
	inventory.TxRepository
	areas.TxRepository
	SupplierExists(ctx context.Context, id int64) (bool, error)
	InsertStockEntry(ctx context.Context, e StockEntry) (StockEntry, error)
	GetStockEntryForUpdate(ctx context.Context, id int64) (StockEntry, error)
	UpdateStockEntry(ctx context.Context, e StockEntry) error
	ListStockEntryItems(ctx context.Context, entryID int64) ([]EntryItem, error)
	InsertStockEntryItems(ctx context.Context, entryID int64, items []EntryItem) ([]EntryItem, error)
	SoftDeleteStockEntryItems(ctx context.Context, entryID int64) error
}

// Service orchestrates stock entry flows.
type Service struct {
	repo   RepositoryPort
	ledger *inventory.Ledger
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = inventory.NewLedger(nil)
	}
	return &Service{
		repo:   repo,
		ledger: ledger,
		audit:  audit,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a stock entry and receives its units into on-hand stock and,
// for lines with an area, into that area.
func (s *Service) Create(ctx context.Context, in CreateInput) (View, error) {
	if err := in.Actor.Validate(); err != nil {
		return View{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return View{}, err
	}
	items, err := buildItems(in.Items)
	if err != nil {
		return View{}, err
	}
	now := s.now()
	entryDate := now
	if in.EntryDate != nil {
		entryDate = in.EntryDate.UTC()
	}

	var entry StockEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := requireSupplier(ctx, tx, in.SupplierID); err != nil {
			return err
		}
		if err := requireReferences(ctx, tx, items); err != nil {
			return err
		}
		created, err := tx.InsertStockEntry(ctx, StockEntry{
			Code:       newEntryCode(now),
			SupplierID: in.SupplierID,
			Status:     EntryStatusPending,
			TotalCost:  totalOf(items),
			EntryDate:  entryDate,
			Note:       strings.TrimSpace(in.Note),
			CreatedBy:  in.Actor.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		created.Items, err = tx.InsertStockEntryItems(ctx, created.ID, items)
		if err != nil {
			return err
		}
		receive := inventory.Diff(nil, linesOf(items))
		if err := s.ledger.Apply(ctx, tx, s.posting(inventory.ReasonReceipt, created.ID, in.Actor), receive); err != nil {
			return err
		}
		if err := applyAreaDeltas(ctx, tx, areaDeltas(nil, items)); err != nil {
			return err
		}
		entry = created
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.record(ctx, "stock_entry.create", in.Actor, nil, &entry,
		fmt.Sprintf("received stock entry %s, %s units, cost %s",
			entry.Code, shared.FormatQty(unitsOf(entry.Items)), shared.FormatAmount(entry.TotalCost)))
	return NewView(entry), nil
}

// UpdateStatus completes or cancels a pending entry. Cancelling rolls its units
// back out of on-hand and area stock, clamped at zero where they were consumed.
func (s *Service) UpdateStatus(ctx context.Context, id int64, in StatusInput) (View, error) {
	if err := in.Actor.Validate(); err != nil {
		return View{}, err
	}
	next, err := ParseEntryStatus(in.Status)
	if err != nil {
		return View{}, err
	}

	var before, after StockEntry
	var shortfall int
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		before = e
		if !e.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, e.Status, next)
		}
		if next == EntryStatusCancelled {
			rollback := inventory.Negate(inventory.Diff(nil, linesOf(e.Items)))
			applied, err := s.ledger.ApplyClamped(ctx, tx, s.posting(inventory.ReasonReceiptCancel, e.ID, in.Actor), rollback)
			if err != nil {
				return err
			}
			shortfall = unitsOf(e.Items) + netDelta(applied)
			for _, d := range areaDeltas(e.Items, nil) {
				if _, err := areas.DecreaseClamped(ctx, tx, d.AreaID, d.ProductID, -d.Delta); err != nil {
					return err
				}
			}
		}
		e.Status = next
		e.UpdatedAt = s.now()
		if err := tx.UpdateStockEntry(ctx, e); err != nil {
			return err
		}
		after = e
		return nil
	})
	if err != nil {
		return View{}, err
	}

	if shortfall > 0 {
		s.logger.Warn("stock entry cancel clamped at zero",
			slog.String("code", after.Code), slog.Int("units_not_returned", shortfall))
	}
	s.record(ctx, "stock_entry.status", in.Actor, &before, &after,
		fmt.Sprintf("stock entry %s %s -> %s", after.Code, before.Status, after.Status))
	return NewView(after), nil
}

// UpdateContent replaces the lines of a pending entry. On-hand moves by the
// per-product difference; area rows move by the net difference per area and product.
func (s *Service) UpdateContent(ctx context.Context, id int64, in ContentInput) (View, error) {
	if err := in.Actor.Validate(); err != nil {
		return View{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return View{}, err
	}
	items, err := buildItems(in.Items)
	if err != nil {
		return View{}, err
	}

	var before, after StockEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		before = e
		before.Items = append([]EntryItem(nil), e.Items...)
		if e.Status != EntryStatusPending {
			return fmt.Errorf("%w (stock entry is %s)", ErrNotEditable, e.Status)
		}
		if err := requireSupplier(ctx, tx, in.SupplierID); err != nil {
			return err
		}
		if err := requireReferences(ctx, tx, items); err != nil {
			return err
		}
		changes := inventory.Diff(linesOf(e.Items), linesOf(items))
		if err := s.ledger.Apply(ctx, tx, s.posting(inventory.ReasonReceiptEdit, e.ID, in.Actor), changes); err != nil {
			return err
		}
		if err := applyAreaDeltas(ctx, tx, areaDeltas(e.Items, items)); err != nil {
			return err
		}
		if err := tx.SoftDeleteStockEntryItems(ctx, e.ID); err != nil {
			return err
		}
		e.Items, err = tx.InsertStockEntryItems(ctx, e.ID, items)
		if err != nil {
			return err
		}
		e.TotalCost = totalOf(e.Items)
		if in.SupplierID != nil {
			e.SupplierID = in.SupplierID
		}
		if in.Note != nil {
			e.Note = strings.TrimSpace(*in.Note)
		}
		e.UpdatedAt = s.now()
		if err := tx.UpdateStockEntry(ctx, e); err != nil {
			return err
		}
		after = e
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.record(ctx, "stock_entry.update", in.Actor, &before, &after,
		fmt.Sprintf("edited stock entry %s, cost %s", after.Code, shared.FormatAmount(after.TotalCost)))
	return NewView(after), nil
}

// Deactivate tombstones an entry without moving stock.
func (s *Service) Deactivate(ctx context.Context, id int64, actor shared.Actor) (View, error) {
	return s.toggle(ctx, id, actor, true)
}

// Activate revives a tombstoned entry.
func (s *Service) Activate(ctx context.Context, id int64, actor shared.Actor) (View, error) {
	return s.toggle(ctx, id, actor, false)
}

func (s *Service) toggle(ctx context.Context, id int64, actor shared.Actor, deleted bool) (View, error) {
	if err := actor.Validate(); err != nil {
		return View{}, err
	}
	var before, after StockEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.GetStockEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e.IsDeleted == deleted {
			if deleted {
				return fmt.Errorf("%w: stock entry is already inactive", shared.ErrConflict)
			}
			return fmt.Errorf("%w: stock entry is already active", shared.ErrConflict)
		}
		before = e
		e.IsDeleted = deleted
		e.UpdatedAt = s.now()
		if err := tx.UpdateStockEntry(ctx, e); err != nil {
			return err
		}
		after = e
		return nil
	})
	if err != nil {
		return View{}, err
	}
	action := "stock_entry.activate"
	if deleted {
		action = "stock_entry.deactivate"
	}
	s.record(ctx, action, actor, &before, &after, action+" "+after.Code)
	return NewView(after), nil
}

// Get returns an entry with its active items.
func (s *Service) Get(ctx context.Context, id int64) (View, error) {
	if id <= 0 {
		return View{}, fmt.Errorf("%w: stock entry id required", shared.ErrValidation)
	}
	e, err := s.repo.GetStockEntry(ctx, id)
	if err != nil {
		return View{}, err
	}
	return NewView(e), nil
}

// List returns entries matching the filter and the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]View, int, error) {
	filter.Limit, filter.Offset = shared.NormalizePage(filter.Limit, filter.Offset)
	list, total, err := s.repo.ListStockEntries(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	views := make([]View, 0, len(list))
	for _, e := range list {
		views = append(views, NewView(e))
	}
	return views, total, nil
}

func (s *Service) posting(reason inventory.Reason, entryID int64, actor shared.Actor) inventory.Posting {
	return inventory.Posting{Reason: reason, RefModule: "stock_entries", RefID: entryID, ActorID: actor.ID, At: s.now()}
}

func (s *Service) record(ctx context.Context, action string, actor shared.Actor, before, after *StockEntry, description string) {
	entry := shared.AuditEntry{
		Code:        after.Code,
		Action:      action,
		EntityType:  "stock_entry",
		EntityID:    strconv.FormatInt(after.ID, 10),
		Description: description,
		After:       snapshotOf(*after),
		Actor:       actor,
		At:          s.now(),
	}
	if before != nil {
		entry.Before = snapshotOf(*before)
	}
	shared.RecordAudit(ctx, s.audit, s.logger, entry)
}

func buildItems(inputs []ItemInput) ([]EntryItem, error) {
	items := make([]EntryItem, 0, len(inputs))
	for i, in := range inputs {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive", shared.ErrValidation, i)
		}
		if in.UnitCost.IsNegative() {
			return nil, fmt.Errorf("%w: item %d unit cost must not be negative", shared.ErrValidation, i)
		}
		items = append(items, EntryItem{
			ProductID: in.ProductID,
			AreaID:    in.AreaID,
			Quantity:  in.Quantity,
			UnitCost:  in.UnitCost,
			Subtotal:  in.UnitCost.Mul(decimal.NewFromInt(int64(in.Quantity))),
		})
	}
	return items, nil
}

func requireReferences(ctx context.Context, tx TxRepository, items []EntryItem) error {
	for _, it := range items {
		if _, err := inventory.RequireProduct(ctx, tx, it.ProductID); err != nil {
			return err
		}
		if it.AreaID != nil {
			if _, err := areas.RequireArea(ctx, tx, *it.AreaID); err != nil {
				return err
			}
		}
	}
	return nil
}

func requireSupplier(ctx context.Context, tx TxRepository, id *int64) error {
	if id == nil {
		return nil
	}
	ok, err := tx.SupplierExists(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrSupplierNotFound, *id)
	}
	return nil
}

func loadForUpdate(ctx context.Context, tx TxRepository, id int64) (StockEntry, error) {
	e, err := tx.GetStockEntryForUpdate(ctx, id)
	if err != nil {
		return StockEntry{}, err
	}
	if e.IsDeleted {
		return StockEntry{}, fmt.Errorf("%w: %d", ErrStockEntryNotFound, id)
	}
	e.Items, err = tx.ListStockEntryItems(ctx, id)
	if err != nil {
		return StockEntry{}, err
	}
	return e, nil
}

type areaDelta struct {
	AreaID    int64
	ProductID int64
	Delta     int
}

// areaDeltas nets the area quantity change per (area, product) between two
// sets of lines. Lines without an area are ignored.
func areaDeltas(before, after []EntryItem) []areaDelta {
	type key struct{ area, product int64 }
	totals := make(map[key]int)
	for _, it := range before {
		if it.AreaID != nil {
			totals[key{*it.AreaID, it.ProductID}] -= it.Quantity
		}
	}
	for _, it := range after {
		if it.AreaID != nil {
			totals[key{*it.AreaID, it.ProductID}] += it.Quantity
		}
	}
	out := make([]areaDelta, 0, len(totals))
	for k, delta := range totals {
		if delta != 0 {
			out = append(out, areaDelta{AreaID: k.area, ProductID: k.product, Delta: delta})
		}
	}
	slices.SortFunc(out, func(a, b areaDelta) int {
		if c := cmp.Compare(a.AreaID, b.AreaID); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out
}

func applyAreaDeltas(ctx context.Context, tx TxRepository, deltas []areaDelta) error {
	for _, d := range deltas {
		var err error
		if d.Delta > 0 {
			_, err = areas.Increase(ctx, tx, d.AreaID, d.ProductID, d.Delta)
		} else {
			_, err = areas.Decrease(ctx, tx, d.AreaID, d.ProductID, -d.Delta)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func totalOf(items []EntryItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	return total
}

func unitsOf(items []EntryItem) int {
	units := 0
	for _, it := range items {
		units += it.Quantity
	}
	return units
}

func netDelta(changes []inventory.Change) int {
	sum := 0
	for _, c := range changes {
		sum += c.Delta
	}
	return sum
}

func newEntryCode(now time.Time) string {
	return fmt.Sprintf("SE-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
