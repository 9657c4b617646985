package products

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable or stockable item. Stock is the global on-hand
// quantity maintained by the movement ledger; direct writes to it go
// through movements, never through product updates.
type Product struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Unit        string          `json:"unit"`
	Stock       int64           `json:"stock"`
	MinStock    int64           `json:"minStock"`
	CostPrice   decimal.Decimal `json:"costPrice"`
	SalePrice   decimal.Decimal `json:"salePrice"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// LowStock reports whether on-hand quantity fell to the reorder level.
func (p Product) LowStock() bool {
	return p.Stock <= p.MinStock
}

// ListFilter filters product listings.
type ListFilter struct {
	Search   string
	Category string
	LowStock bool
	Page     int
	Limit    int
}

var (
	// ErrDuplicateCode indicates a create or update reusing an existing code.
	ErrDuplicateCode = errors.New("products: code already in use")
)
