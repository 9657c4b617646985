package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Status models the inventory lifecycle. The status labels are the wire
// values journal views and dashboards read; they are kept verbatim.
type Status string

const (
	// StatusInProgress is the only state accepting count mutations.
	StatusInProgress Status = "En cours"
	// StatusValidated is terminal; reaching it commits the variances.
	StatusValidated Status = "Validé"
	// StatusCancelled is terminal with no stock effect.
	StatusCancelled Status = "Annulé"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusValidated || s == StatusCancelled
}

// Type enumerates stocktake kinds.
type Type string

const (
	TypeAnnual      Type = "Annuel"
	TypeSpontaneous Type = "Spontané"
	TypeRotating    Type = "Tournant"
	TypeCycle       Type = "Cycle"
)

// Valid reports whether the inventory type is known.
func (t Type) Valid() bool {
	switch t {
	case TypeAnnual, TypeSpontaneous, TypeRotating, TypeCycle:
		return true
	}
	return false
}

// ScopePolicy selects which products are snapshotted at creation. The
// choice is frozen into the session and never re-evaluated.
type ScopePolicy string

const (
	// ScopeAllProducts snapshots every active product.
	ScopeAllProducts ScopePolicy = "all"
	// ScopeInStock snapshots only products with stock > 0.
	ScopeInStock ScopePolicy = "in_stock"
)

// Item is one product of a stocktaking session. TheoreticalQty is the
// system stock frozen when the product entered the session; PhysicalQty
// stays nil until counted.
type Item struct {
	ProductID      int64           `json:"productId"`
	ProductCode    string          `json:"productCode"`
	ProductName    string          `json:"productName"`
	TheoreticalQty int64           `json:"theoreticalQty"`
	PhysicalQty    *int64          `json:"physicalQty"`
	Variance       *int64          `json:"variance,omitempty"`
	CostPrice      decimal.Decimal `json:"costPrice"`
}

// Counted reports whether a physical count was recorded.
func (i Item) Counted() bool {
	return i.PhysicalQty != nil
}

// Inventory is one stocktaking session over a warehouse.
type Inventory struct {
	ID                   int64           `json:"id"`
	Reference            string          `json:"reference"`
	WarehouseID          int64           `json:"warehouseId"`
	Date                 time.Time       `json:"date"`
	Type                 Type            `json:"type"`
	Status               Status          `json:"status"`
	Notes                string          `json:"notes,omitempty"`
	Items                []Item          `json:"items"`
	ItemsCount           int             `json:"itemsCount"`
	CompletionPercentage float64         `json:"completionPercentage"`
	TotalVariance        decimal.Decimal `json:"totalVariance"`
	CreatedBy            int64           `json:"createdBy,omitempty"`
	ValidatedBy          int64           `json:"validatedBy,omitempty"`
	ValidatedAt          *time.Time      `json:"validatedAt,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// Refresh recomputes the derived fields from the item set: itemsCount,
// completion percentage and the total variance in value.
func (inv *Inventory) Refresh() {
	inv.ItemsCount = len(inv.Items)
	counted := 0
	total := decimal.Zero
	for _, item := range inv.Items {
		if !item.Counted() {
			continue
		}
		counted++
		if item.Variance != nil {
			total = total.Add(item.CostPrice.Mul(decimal.NewFromInt(*item.Variance)))
		}
	}
	if inv.ItemsCount == 0 {
		inv.CompletionPercentage = 0
	} else {
		inv.CompletionPercentage = float64(counted) / float64(inv.ItemsCount) * 100
	}
	inv.TotalVariance = total.Round(2)
}

var (
	// ErrNotInProgress indicates a mutation on a terminal session.
	ErrNotInProgress = fmt.Errorf("inventory: session is not 'En cours': %w", shared.ErrInvalidState)
	// ErrUnknownType indicates an unsupported inventory type.
	ErrUnknownType = errors.New("inventory: unknown inventory type")
	// ErrUnknownScope indicates an unsupported scope policy.
	ErrUnknownScope = errors.New("inventory: unknown scope policy")
	// ErrItemNotInScope indicates a count for a product outside the session.
	ErrItemNotInScope = errors.New("inventory: product not part of this session")
	// ErrDuplicateProduct indicates a late addition of an already scoped product.
	ErrDuplicateProduct = errors.New("inventory: product already part of this session")
	// ErrNegativeCount indicates a negative physical quantity.
	ErrNegativeCount = errors.New("inventory: physical quantity must be >= 0")
)
