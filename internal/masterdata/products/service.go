package products

import (
	"context"
	"errors"
)

// RepositoryPort abstracts product persistence.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context, filter ListFilter) ([]Product, int, error)
	Create(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, p Product) (Product, error)
	Delete(ctx context.Context, id int64) error
}

// Service exposes product master data operations.
type Service struct {
	repo RepositoryPort
}

// NewService constructs Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

var errMissingFields = errors.New("products: code, name and unit are required")

// Get returns one product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

// List returns a product page.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	return s.repo.List(ctx, filter)
}

// Create registers a product. Initial stock enters through an entry
// movement, so Stock always starts at zero here.
func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	if p.Code == "" || p.Name == "" || p.Unit == "" {
		return Product{}, errMissingFields
	}
	p.Stock = 0
	return s.repo.Create(ctx, p)
}

// Update writes descriptive fields. The caller passes the version it
// read; a concurrent change in between surfaces as ErrVersionConflict.
func (s *Service) Update(ctx context.Context, p Product) (Product, error) {
	if p.Code == "" || p.Name == "" || p.Unit == "" {
		return Product{}, errMissingFields
	}
	return s.repo.Update(ctx, p)
}

// Delete removes a product.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}
