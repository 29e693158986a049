package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// TxRepository exposes the product stock accessor and ledger inside a transaction.
type TxRepository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	// AdjustOnHand applies delta only if on-hand stays non-negative and returns the new on-hand.
	AdjustOnHand(ctx context.Context, productID int64, delta int) (int, error)
	// DecrementOnHandClamped removes up to quantity units and returns how many were removed.
	DecrementOnHandClamped(ctx context.Context, productID int64, quantity int) (int, error)
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error
}

// Observer receives stock movement outcomes.
type Observer interface {
	StockMoved(reason string, delta int)
	StockConflict(reason string)
}

// Ledger applies on-hand changes and appends one ledger row per changed product.
type Ledger struct {
	observer Observer
}

// NewLedger builds a Ledger. observer may be nil.
func NewLedger(observer Observer) *Ledger {
	return &Ledger{observer: observer}
}

// ProductReader loads products by id.
type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
}

// RequireProduct loads a product and rejects missing or deleted ones.
func RequireProduct(ctx context.Context, tx ProductReader, id int64) (Product, error) {
	product, err := tx.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if product.IsDeleted {
		return Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return product, nil
}

// Apply performs every change with a guarded update. Any change that would make
// on-hand negative aborts with ErrInsufficientStock.
func (l *Ledger) Apply(ctx context.Context, tx TxRepository, posting Posting, changes []Change) error {
	for _, change := range changes {
		if change.Delta == 0 {
			continue
		}
		if _, err := tx.AdjustOnHand(ctx, change.ProductID, change.Delta); err != nil {
			if errors.Is(err, ErrInsufficientStock) {
				l.conflict(posting.Reason)
				return fmt.Errorf("%w for product %d (requested %d)", ErrInsufficientStock, change.ProductID, -change.Delta)
			}
			return err
		}
		if err := tx.InsertLedgerEntry(ctx, posting.entry(change.ProductID, change.Delta)); err != nil {
			return fmt.Errorf("inventory: append ledger: %w", err)
		}
		l.moved(posting.Reason, change.Delta)
	}
	return nil
}

// ApplyClamped behaves like Apply except that decrements are limited to the
// available on-hand. The ledger records what was actually applied.
func (l *Ledger) ApplyClamped(ctx context.Context, tx TxRepository, posting Posting, changes []Change) ([]Change, error) {
	applied := make([]Change, 0, len(changes))
	for _, change := range changes {
		delta := change.Delta
		switch {
		case delta == 0:
			continue
		case delta > 0:
			if _, err := tx.AdjustOnHand(ctx, change.ProductID, delta); err != nil {
				return nil, err
			}
		default:
			removed, err := tx.DecrementOnHandClamped(ctx, change.ProductID, -delta)
			if err != nil {
				return nil, err
			}
			delta = -removed
		}
		if delta == 0 {
			continue
		}
		if err := tx.InsertLedgerEntry(ctx, posting.entry(change.ProductID, delta)); err != nil {
			return nil, fmt.Errorf("inventory: append ledger: %w", err)
		}
		l.moved(posting.Reason, delta)
		applied = append(applied, Change{ProductID: change.ProductID, Delta: delta})
	}
	return applied, nil
}

func (l *Ledger) moved(reason Reason, delta int) {
	if l != nil && l.observer != nil {
		l.observer.StockMoved(string(reason), delta)
	}
}

func (l *Ledger) conflict(reason Reason) {
	if l != nil && l.observer != nil {
		l.observer.StockConflict(string(reason))
	}
}

func (p Posting) entry(productID int64, delta int) LedgerEntry {
	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return LedgerEntry{
		ProductID: productID,
		Quantity:  delta,
		Reason:    p.Reason,
		RefModule: p.RefModule,
		RefID:     p.RefID,
		ActorID:   p.ActorID,
		CreatedAt: at,
	}
}

// Diff returns the per-product quantity change from before to after, sorted by
// product id. Products whose totals are unchanged are omitted.
func Diff(before, after []Line) []Change {
	totals := make(map[int64]int, len(before)+len(after))
	for _, line := range before {
		totals[line.ProductID] -= line.Quantity
	}
	for _, line := range after {
		totals[line.ProductID] += line.Quantity
	}
	changes := make([]Change, 0, len(totals))
	for productID, delta := range totals {
		if delta != 0 {
			changes = append(changes, Change{ProductID: productID, Delta: delta})
		}
	}
	slices.SortFunc(changes, func(a, b Change) int { return cmp.Compare(a.ProductID, b.ProductID) })
	return changes
}

// Negate flips the sign of every change.
func Negate(changes []Change) []Change {
	out := make([]Change, len(changes))
	for i, change := range changes {
		out[i] = Change{ProductID: change.ProductID, Delta: -change.Delta}
	}
	return out
}
