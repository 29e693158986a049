package areas

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TransferTx) error) error
	ListByArea(ctx context.Context, areaID int64) ([]Stock, error)
	ListByProduct(ctx context.Context, productID int64) ([]Stock, error)
	ListDrift(ctx context.Context) ([]Drift, error)
}

// TransferTx is the transactional view a transfer needs: area rows plus product lookup.
type TransferTx interface {
	TxRepository
	GetProduct(ctx context.Context, id int64) (inventory.Product, error)
}

// Service coordinates warehouse-area inventory.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Transfer moves stock between two areas atomically. Product on-hand is untouched.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if err := input.Actor.Validate(); err != nil {
		return TransferResult{}, err
	}
	if input.FromAreaID == input.ToAreaID && input.FromAreaID != 0 {
		return TransferResult{}, fmt.Errorf("%w: source and destination area must differ", shared.ErrValidation)
	}
	if err := shared.ValidateStruct(input); err != nil {
		return TransferResult{}, err
	}

	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TransferTx) error {
		if _, err := inventory.RequireProduct(ctx, tx, input.ProductID); err != nil {
			return err
		}
		if _, err := RequireArea(ctx, tx, input.FromAreaID); err != nil {
			return err
		}
		if _, err := RequireArea(ctx, tx, input.ToAreaID); err != nil {
			return err
		}
		source, err := Decrease(ctx, tx, input.FromAreaID, input.ProductID, input.Quantity)
		if err != nil {
			return err
		}
		destination, err := Increase(ctx, tx, input.ToAreaID, input.ProductID, input.Quantity)
		if err != nil {
			return err
		}
		result = TransferResult{ProductID: input.ProductID, Quantity: input.Quantity, Source: source, Destination: destination}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditEntry{
		Code:       fmt.Sprintf("TRF-%d-%d-%d", input.ProductID, input.FromAreaID, input.ToAreaID),
		Action:     "warehouse_area.transfer",
		EntityType: "area_inventory",
		EntityID:   strconv.FormatInt(input.ProductID, 10),
		Description: fmt.Sprintf("moved %s units of product %d from area %d to area %d",
			shared.FormatQty(input.Quantity), input.ProductID, input.FromAreaID, input.ToAreaID),
		Before: TransferSnapshot{
			ProductID: input.ProductID, FromAreaID: input.FromAreaID, ToAreaID: input.ToAreaID,
			SourceQuantity:      result.Source.Quantity + input.Quantity,
			DestinationQuantity: result.Destination.Quantity - input.Quantity,
		},
		After: TransferSnapshot{
			ProductID: input.ProductID, FromAreaID: input.FromAreaID, ToAreaID: input.ToAreaID,
			Quantity:            input.Quantity,
			SourceQuantity:      result.Source.Quantity,
			DestinationQuantity: result.Destination.Quantity,
		},
		Actor: input.Actor,
		At:    time.Now().UTC(),
	})
	return result, nil
}

// ListByArea returns the active rows of an area.
func (s *Service) ListByArea(ctx context.Context, areaID int64) ([]Stock, error) {
	if areaID <= 0 {
		return nil, fmt.Errorf("%w: area id required", shared.ErrValidation)
	}
	return s.repo.ListByArea(ctx, areaID)
}

// ListByProduct returns the active rows holding a product.
func (s *Service) ListByProduct(ctx context.Context, productID int64) ([]Stock, error) {
	if productID <= 0 {
		return nil, fmt.Errorf("%w: product id required", shared.ErrValidation)
	}
	return s.repo.ListByProduct(ctx, productID)
}

// CheckDrift reports products whose area total exceeds their on-hand.
// Sales do not allocate from areas, so on-hand above the area total is expected.
func (s *Service) CheckDrift(ctx context.Context) ([]Drift, error) {
	return s.repo.ListDrift(ctx)
}
