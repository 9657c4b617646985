package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	products   map[int64]ProductStock
	warehouses map[int64]bool
	movements  map[int64]Movement
	refs       map[string]bool
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:   make(map[int64]ProductStock),
		warehouses: map[int64]bool{1: true},
		movements:  make(map[int64]Movement),
		refs:       make(map[string]bool),
	}
}

func (r *memoryRepo) seedProduct(id, stock int64) {
	r.products[id] = ProductStock{ID: id, Stock: stock, Version: 1}
}

type memoryTx struct {
	repo      *memoryRepo
	products  map[int64]ProductStock
	movements map[int64]Movement
	refs      map[string]bool
	nextID    int64
}

// WithTx serializes transactions with a single mutex and stages all
// writes, committing only when fn succeeds. This mirrors the row-locked
// database transaction closely enough for the properties under test.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		repo:      r,
		products:  make(map[int64]ProductStock),
		movements: make(map[int64]Movement),
		refs:      make(map[string]bool),
		nextID:    r.nextID,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, ps := range tx.products {
		r.products[id] = ps
	}
	for id, m := range tx.movements {
		r.movements[id] = m
	}
	for ref := range tx.refs {
		r.refs[ref] = true
	}
	r.nextID = tx.nextID
	return nil
}

func (r *memoryRepo) GetMovement(ctx context.Context, id int64) (Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.movements[id]
	if !ok {
		return Movement{}, fmt.Errorf("ledger: movement %d: %w", id, shared.ErrNotFound)
	}
	return m, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter JournalFilter) ([]Movement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Movement
	for _, m := range r.movements {
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.WarehouseID != 0 && m.WarehouseID != filter.WarehouseID {
			continue
		}
		out = append(out, m)
	}
	return out, len(out), nil
}

func (tx *memoryTx) WarehouseExists(ctx context.Context, warehouseID int64) (bool, error) {
	return tx.repo.warehouses[warehouseID], nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, productID int64) (ProductStock, error) {
	if ps, ok := tx.products[productID]; ok {
		return ps, nil
	}
	ps, ok := tx.repo.products[productID]
	if !ok {
		return ProductStock{}, fmt.Errorf("ledger: product %d: %w", productID, shared.ErrNotFound)
	}
	return ps, nil
}

func (tx *memoryTx) UpdateProductStock(ctx context.Context, productID, newStock, newVersion int64) error {
	tx.products[productID] = ProductStock{ID: productID, Stock: newStock, Version: newVersion}
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	key := fmt.Sprintf("%d:%s", m.WarehouseID, m.Reference)
	if tx.repo.refs[key] || tx.refs[key] {
		return 0, ErrDuplicateReference
	}
	tx.refs[key] = true
	tx.nextID++
	m.ID = tx.nextID
	tx.movements[m.ID] = m
	return m.ID, nil
}

func (tx *memoryTx) InsertMovementItems(ctx context.Context, movementID int64, items []MovementItem) error {
	m := tx.movements[movementID]
	m.Items = items
	tx.movements[movementID] = m
	return nil
}

func (r *memoryRepo) stock(productID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[productID].Stock
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRecordEntryMovement(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedProduct(10, 0)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	movement, err := svc.RecordMovement(ctx, MovementDraft{
		Type:        MovementEntry,
		Reference:   "BL-2024-001",
		WarehouseID: 1,
		Items: []DraftItem{
			{ProductID: 10, Quantity: 10, CostPrice: price("2.50")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusValidated, movement.Status)
	require.Equal(t, SourceManual, movement.Source)
	require.Len(t, movement.Items, 1)
	require.Equal(t, int64(0), movement.Items[0].StockBefore)
	require.Equal(t, int64(10), movement.Items[0].StockAfter)
	require.True(t, movement.TotalValue.Equal(price("25.00")), "total %s", movement.TotalValue)
	require.Equal(t, int64(10), repo.stock(10))
}

func TestRecordExitInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedProduct(10, 5)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.RecordMovement(context.Background(), MovementDraft{
		Type:        MovementExit,
		Reference:   "SORTIE-1",
		WarehouseID: 1,
		Items: []DraftItem{
			{ProductID: 10, Quantity: 8, CostPrice: price("1.00")},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(10), insufficient.ProductID)
	require.Equal(t, int64(3), insufficient.Shortfall())

	require.Equal(t, int64(5), repo.stock(10), "stock must be unchanged after rejection")
	require.Empty(t, repo.movements)
}

func TestRecordMovementRejectsPartialApplication(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedProduct(1, 100)
	repo.seedProduct(2, 2)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.RecordMovement(context.Background(), MovementDraft{
		Type:        MovementExit,
		Reference:   "SORTIE-2",
		WarehouseID: 1,
		Items: []DraftItem{
			{ProductID: 1, Quantity: 10, CostPrice: price("1.00")},
			{ProductID: 2, Quantity: 5, CostPrice: price("1.00")},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(100), repo.stock(1), "no partial application across items")
	require.Equal(t, int64(2), repo.stock(2))
}

func TestRecordMovementReplayRejected(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedProduct(10, 0)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	draft := MovementDraft{
		Type:        MovementEntry,
		Reference:   "BL-2024-002",
		WarehouseID: 1,
		Items:       []DraftItem{{ProductID: 10, Quantity: 4, CostPrice: price("1.00")}},
	}
	_, err := svc.RecordMovement(ctx, draft)
	require.NoError(t, err)

	_, err = svc.RecordMovement(ctx, draft)
	require.ErrorIs(t, err, ErrDuplicateReference)
	require.Equal(t, int64(4), repo.stock(10), "replay must not double-apply")
}

func TestRecordAdjustmentMixedDirections(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedProduct(1, 50)
	repo.seedProduct(2, 10)
	svc := NewService(repo, nil, nil, nil)

	movement, err := svc.RecordMovement(context.Background(), MovementDraft{
		Type:        MovementAdjustment,
		Reference:   "INV-ADJ-1",
		WarehouseID: 1,
		Source:      SourceInventory,
		Items: []DraftItem{
			{ProductID: 1, Quantity: 3, CostPrice: price("2.00"), Direction: DirectionOut},
			{ProductID: 2, Quantity: 7, CostPrice: price("0.50"), Direction: DirectionIn},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(47), repo.stock(1))
	require.Equal(t, int64(17), repo.stock(2))
	require.Equal(t, DirectionOut, movement.Items[0].Direction)
	require.Equal(t, DirectionIn, movement.Items[1].Direction)
}

func TestRecordAdjustmentRequiresDirection(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedProduct(1, 5)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.RecordMovement(context.Background(), MovementDraft{
		Type:        MovementAdjustment,
		WarehouseID: 1,
		Items:       []DraftItem{{ProductID: 1, Quantity: 1, CostPrice: price("1.00")}},
	})
	require.ErrorIs(t, err, ErrMissingDirection)
}

func TestRecordMovementEmpty(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	_, err := svc.RecordMovement(context.Background(), MovementDraft{Type: MovementEntry, WarehouseID: 1})
	require.ErrorIs(t, err, ErrEmptyMovement)
}

func TestRecordMovementUnknownWarehouse(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedProduct(1, 5)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.RecordMovement(context.Background(), MovementDraft{
		Type:        MovementEntry,
		WarehouseID: 99,
		Items:       []DraftItem{{ProductID: 1, Quantity: 1, CostPrice: price("1.00")}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

// Two concurrent exits racing on the same product must never both
// succeed when the combined quantity exceeds the available stock.
func TestConcurrentExitsNeverDriveStockNegative(t *testing.T) {
	for round := 0; round < 50; round++ {
		repo := newMemoryRepo()
		repo.seedProduct(10, 6)
		svc := NewService(repo, nil, nil, nil)

		results := make(chan error, 2)
		var wg sync.WaitGroup
		for i, qty := range []int64{5, 3} {
			wg.Add(1)
			go func(i int, qty int64) {
				defer wg.Done()
				_, err := svc.RecordMovement(context.Background(), MovementDraft{
					Type:        MovementExit,
					Reference:   fmt.Sprintf("RACE-%d-%d", round, i),
					WarehouseID: 1,
					Items:       []DraftItem{{ProductID: 10, Quantity: qty, CostPrice: price("1.00")}},
				})
				results <- err
			}(i, qty)
		}
		wg.Wait()
		close(results)

		var failures, successes int
		for err := range results {
			if err == nil {
				successes++
			} else {
				require.ErrorIs(t, err, ErrInsufficientStock)
				failures++
			}
		}
		require.Equal(t, 1, successes, "exactly one writer must win")
		require.Equal(t, 1, failures)
		require.GreaterOrEqual(t, repo.stock(10), int64(0))
	}
}

func TestJournalFiltersByType(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedProduct(1, 10)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementDraft{
		Type: MovementEntry, Reference: "E-1", WarehouseID: 1,
		Items: []DraftItem{{ProductID: 1, Quantity: 2, CostPrice: price("1.00")}},
	})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, MovementDraft{
		Type: MovementExit, Reference: "S-1", WarehouseID: 1,
		Items: []DraftItem{{ProductID: 1, Quantity: 1, CostPrice: price("1.00")}},
	})
	require.NoError(t, err)

	entries, total, err := svc.Journal(ctx, JournalFilter{Type: MovementEntry})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, entries, 1)
	require.Equal(t, "E-1", entries[0].Reference)
}
