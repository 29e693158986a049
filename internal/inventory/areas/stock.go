package areas

import (
	"context"
	"errors"
	"fmt"
)

// TxRepository exposes area stock rows inside a transaction.
type TxRepository interface {
	GetArea(ctx context.Context, id int64) (Area, error)
	GetAreaInventoryForUpdate(ctx context.Context, areaID, productID int64) (Stock, error)
	SaveAreaInventory(ctx context.Context, row Stock) (Stock, error)
}

// RequireArea loads an area and rejects missing or deleted ones.
func RequireArea(ctx context.Context, tx TxRepository, id int64) (Area, error) {
	area, err := tx.GetArea(ctx, id)
	if err != nil {
		return Area{}, err
	}
	if area.IsDeleted {
		return Area{}, fmt.Errorf("%w: %d", ErrAreaNotFound, id)
	}
	return area, nil
}

// Increase adds quantity to the row, creating or reviving it.
func Increase(ctx context.Context, tx TxRepository, areaID, productID int64, quantity int) (Stock, error) {
	row, err := tx.GetAreaInventoryForUpdate(ctx, areaID, productID)
	switch {
	case errors.Is(err, ErrStockRowNotFound):
		row = Stock{AreaID: areaID, ProductID: productID}
	case err != nil:
		return Stock{}, err
	}
	row.Quantity += quantity
	row.IsDeleted = false
	return tx.SaveAreaInventory(ctx, row)
}

// Decrease removes quantity from the row and tombstones it at zero.
func Decrease(ctx context.Context, tx TxRepository, areaID, productID int64, quantity int) (Stock, error) {
	row, err := tx.GetAreaInventoryForUpdate(ctx, areaID, productID)
	if errors.Is(err, ErrStockRowNotFound) {
		return Stock{}, fmt.Errorf("%w: area %d holds none of product %d", ErrInsufficientAreaQuantity, areaID, productID)
	}
	if err != nil {
		return Stock{}, err
	}
	if row.IsDeleted || row.Quantity < quantity {
		return Stock{}, fmt.Errorf("%w: area %d holds %d of product %d, requested %d",
			ErrInsufficientAreaQuantity, areaID, row.Quantity, productID, quantity)
	}
	row.Quantity -= quantity
	row.IsDeleted = row.Quantity == 0
	return tx.SaveAreaInventory(ctx, row)
}

// DecreaseClamped removes up to quantity and returns how much was removed.
func DecreaseClamped(ctx context.Context, tx TxRepository, areaID, productID int64, quantity int) (int, error) {
	row, err := tx.GetAreaInventoryForUpdate(ctx, areaID, productID)
	if errors.Is(err, ErrStockRowNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if row.IsDeleted || row.Quantity == 0 {
		return 0, nil
	}
	removed := min(quantity, row.Quantity)
	row.Quantity -= removed
	row.IsDeleted = row.Quantity == 0
	if _, err := tx.SaveAreaInventory(ctx, row); err != nil {
		return 0, err
	}
	return removed, nil
}
