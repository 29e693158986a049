package inventory

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListLedger(ctx context.Context, productID int64, limit int) ([]LedgerEntry, error)
	ListDrift(ctx context.Context) ([]Drift, error)
}

// Service exposes read paths over products and the stock ledger.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetProduct returns the current stock view of a product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("%w: product id required", shared.ErrValidation)
	}
	return s.repo.GetProduct(ctx, id)
}

// ListLedger returns the product's movements, newest first.
func (s *Service) ListLedger(ctx context.Context, productID int64, limit int) ([]LedgerEntry, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListLedger(ctx, productID, limit)
}

// CheckConsistency lists products whose on-hand does not equal the sum of their ledger.
func (s *Service) CheckConsistency(ctx context.Context) ([]Drift, error) {
	return s.repo.ListDrift(ctx)
}
