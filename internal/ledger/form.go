package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Form accumulates line items from repeated "pick a product, enter
// quantity and price, add" actions into one draft movement. Adding the
// same product twice merges the lines: quantities are summed and the
// last-entered unit cost wins.
type Form struct {
	movementType MovementType
	warehouseID  int64
	destination  int64
	reference    string
	date         time.Time
	notes        string
	source       MovementSource
	createdBy    int64
	lines        []DraftItem
	index        map[int64]int
}

// NewForm starts an empty movement form.
func NewForm(t MovementType, warehouseID int64) *Form {
	return &Form{
		movementType: t,
		warehouseID:  warehouseID,
		source:       SourceManual,
		index:        make(map[int64]int),
	}
}

// SetReference overrides the auto-generated reference.
func (f *Form) SetReference(reference string) { f.reference = reference }

// SetDate sets the movement date; zero means "now" at submit time.
func (f *Form) SetDate(date time.Time) { f.date = date }

// SetNotes attaches free-form notes.
func (f *Form) SetNotes(notes string) { f.notes = notes }

// SetDestination sets the destination warehouse for transfers.
func (f *Form) SetDestination(warehouseID int64) { f.destination = warehouseID }

// SetCreatedBy records the acting user.
func (f *Form) SetCreatedBy(userID int64) { f.createdBy = userID }

// AddLine appends a line, merging with an existing line for the same
// product: quantity accumulates, the unit cost is overwritten.
func (f *Form) AddLine(productID, quantity int64, costPrice decimal.Decimal) error {
	if productID == 0 {
		return fmt.Errorf("ledger: product required")
	}
	if quantity <= 0 {
		return fmt.Errorf("%w (product %d)", ErrInvalidQuantity, productID)
	}
	if costPrice.IsNegative() {
		return fmt.Errorf("%w (product %d)", ErrInvalidCostPrice, productID)
	}
	if i, ok := f.index[productID]; ok {
		f.lines[i].Quantity += quantity
		f.lines[i].CostPrice = costPrice
		return nil
	}
	f.index[productID] = len(f.lines)
	f.lines = append(f.lines, DraftItem{ProductID: productID, Quantity: quantity, CostPrice: costPrice})
	return nil
}

// RemoveLine drops the line for a product, if present.
func (f *Form) RemoveLine(productID int64) {
	i, ok := f.index[productID]
	if !ok {
		return
	}
	f.lines = append(f.lines[:i], f.lines[i+1:]...)
	delete(f.index, productID)
	for pid, pos := range f.index {
		if pos > i {
			f.index[pid] = pos - 1
		}
	}
}

// Lines returns a copy of the accumulated lines.
func (f *Form) Lines() []DraftItem {
	out := make([]DraftItem, len(f.lines))
	copy(out, f.lines)
	return out
}

// TotalValue is the running sum of quantity times unit cost.
func (f *Form) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, line := range f.lines {
		total = total.Add(line.CostPrice.Mul(decimal.NewFromInt(line.Quantity)))
	}
	return total.Round(2)
}

// Build produces the movement draft. An empty form is rejected; a blank
// reference is auto-generated as {TYPE}-{timestamp}.
func (f *Form) Build() (MovementDraft, error) {
	if len(f.lines) == 0 {
		return MovementDraft{}, ErrEmptyMovement
	}
	reference := f.reference
	if reference == "" {
		reference = AutoReference(f.movementType, time.Now().UTC())
	}
	return MovementDraft{
		Type:                   f.movementType,
		Reference:              reference,
		Date:                   f.date,
		WarehouseID:            f.warehouseID,
		DestinationWarehouseID: f.destination,
		Notes:                  f.notes,
		Status:                 StatusValidated,
		Source:                 f.source,
		CreatedBy:              f.createdBy,
		Items:                  f.Lines(),
	}, nil
}

// Submit builds the draft and records it through the ledger.
func (f *Form) Submit(ctx context.Context, svc *Service) (Movement, error) {
	draft, err := f.Build()
	if err != nil {
		return Movement{}, err
	}
	return svc.RecordMovement(ctx, draft)
}
