package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementEntry represents an inbound movement.
	MovementEntry MovementType = "entry"
	// MovementExit represents an outbound movement.
	MovementExit MovementType = "exit"
	// MovementTransformation consumes stock transformed into another product.
	MovementTransformation MovementType = "transformation"
	// MovementAdjustment carries signed inventory corrections.
	MovementAdjustment MovementType = "adjustment"
	// MovementTransfer consumes stock from the source warehouse. Destination
	// settlement is handled outside this ledger.
	MovementTransfer MovementType = "transfer"
)

// Valid reports whether the movement type is known.
func (t MovementType) Valid() bool {
	switch t {
	case MovementEntry, MovementExit, MovementTransformation, MovementAdjustment, MovementTransfer:
		return true
	}
	return false
}

// MovementStatus models the movement lifecycle.
type MovementStatus string

const (
	StatusDraft     MovementStatus = "draft"
	StatusPending   MovementStatus = "pending"
	StatusValidated MovementStatus = "validated"
	StatusCancelled MovementStatus = "cancelled"
)

// MovementSource identifies what produced a movement.
type MovementSource string

const (
	SourceManual    MovementSource = "manual"
	SourceSale      MovementSource = "sale"
	SourcePurchase  MovementSource = "purchase"
	SourceInventory MovementSource = "inventory"
	SourceSystem    MovementSource = "system"
)

// Direction disambiguates adjustment items, which mix signs inside one
// movement. Quantities stay positive; direction carries the sign.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// MovementItem is one product line of a recorded movement, with the
// before/after stock snapshot taken at commit time.
type MovementItem struct {
	ProductID   int64           `json:"productId"`
	Quantity    int64           `json:"quantity"`
	CostPrice   decimal.Decimal `json:"costPrice"`
	Direction   Direction       `json:"direction,omitempty"`
	StockBefore int64           `json:"stockBefore"`
	StockAfter  int64           `json:"stockAfter"`
}

// Movement is an immutable ledger record once validated.
type Movement struct {
	ID                     int64           `json:"id"`
	Type                   MovementType    `json:"type"`
	Reference              string          `json:"reference"`
	Date                   time.Time       `json:"date"`
	WarehouseID            int64           `json:"warehouseId"`
	DestinationWarehouseID int64           `json:"warehouseDestinationId,omitempty"`
	Notes                  string          `json:"notes,omitempty"`
	Items                  []MovementItem  `json:"items"`
	Status                 MovementStatus  `json:"status"`
	Source                 MovementSource  `json:"source"`
	TotalValue             decimal.Decimal `json:"totalValue"`
	CreatedBy              int64           `json:"createdBy,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
}

// DraftItem is a movement line before commit. Direction is required for
// adjustment movements and ignored otherwise.
type DraftItem struct {
	ProductID int64
	Quantity  int64
	CostPrice decimal.Decimal
	Direction Direction
}

// MovementDraft is the input to RecordMovement.
type MovementDraft struct {
	Type                   MovementType
	Reference              string
	Date                   time.Time
	WarehouseID            int64
	DestinationWarehouseID int64
	Notes                  string
	Status                 MovementStatus
	Source                 MovementSource
	CreatedBy              int64
	Items                  []DraftItem
}

// JournalFilter filters movement listings.
type JournalFilter struct {
	From        time.Time
	To          time.Time
	Type        MovementType
	Status      MovementStatus
	Source      MovementSource
	WarehouseID int64
	ProductID   int64
	Reference   string
	Page        int
	Limit       int
}

// ProductStock is the slice of a product the ledger mutates.
type ProductStock struct {
	ID      int64
	Stock   int64
	Version int64
}

var (
	// ErrEmptyMovement indicates a submit with no items.
	ErrEmptyMovement = errors.New("ledger: movement has no items")
	// ErrInvalidQuantity indicates a non-positive item quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be > 0")
	// ErrInvalidCostPrice indicates a negative unit cost.
	ErrInvalidCostPrice = errors.New("ledger: cost price must be >= 0")
	// ErrUnknownMovementType indicates an unsupported movement type.
	ErrUnknownMovementType = errors.New("ledger: unknown movement type")
	// ErrMissingDirection indicates an adjustment item without a direction.
	ErrMissingDirection = errors.New("ledger: adjustment item requires a direction")
	// ErrDuplicateReference indicates a replayed movement. Validated
	// movements are immutable; replays are rejected, never reprocessed.
	ErrDuplicateReference = errors.New("ledger: movement reference already recorded for warehouse")
	// ErrInsufficientStock is the errors.Is target for InsufficientStockError.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
)

// InsufficientStockError names the offending product and the shortfall.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

// Shortfall is the missing quantity.
func (e *InsufficientStockError) Shortfall() int64 {
	return e.Requested - e.Available
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for product %d: requested %d, available %d (short %d)",
		e.ProductID, e.Requested, e.Available, e.Shortfall())
}

// Is lets callers match with errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// delta translates a draft item into a signed stock change. Direction
// is encoded by the movement type, never by the quantity sign.
func delta(t MovementType, item DraftItem) (int64, error) {
	switch t {
	case MovementEntry:
		return item.Quantity, nil
	case MovementExit, MovementTransformation, MovementTransfer:
		return -item.Quantity, nil
	case MovementAdjustment:
		switch item.Direction {
		case DirectionIn:
			return item.Quantity, nil
		case DirectionOut:
			return -item.Quantity, nil
		default:
			return 0, ErrMissingDirection
		}
	default:
		return 0, ErrUnknownMovementType
	}
}
