package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir-erp/internal/ledger"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// store backs both sides of the workflow in memory: inventory sessions,
// the product catalog and the ledger repository, so validation runs
// through the real ledger service.
type store struct {
	mu          sync.Mutex
	products    map[int64]*productRec
	warehouses  map[int64]bool
	inventories map[int64]Inventory
	nextInvID   int64
	movements   []ledger.Movement
	refs        map[string]bool

	// onMovementInserted fires after a movement is staged, before the
	// transaction completes, to interleave writers mid-validation.
	onMovementInserted func()
}

type productRec struct {
	Code    string
	Name    string
	Stock   int64
	Cost    decimal.Decimal
	Version int64
}

func newStore() *store {
	return &store{
		products:    make(map[int64]*productRec),
		warehouses:  map[int64]bool{1: true},
		inventories: make(map[int64]Inventory),
		refs:        make(map[string]bool),
	}
}

func (s *store) seedProduct(id int64, code string, stock int64, cost string) {
	s.products[id] = &productRec{
		Code:  code,
		Name:  "Produit " + code,
		Stock: stock,
		Cost:  decimal.RequireFromString(cost),
	}
}

func (s *store) stock(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = item
		if item.PhysicalQty != nil {
			qty := *item.PhysicalQty
			out[i].PhysicalQty = &qty
		}
		if item.Variance != nil {
			v := *item.Variance
			out[i].Variance = &v
		}
	}
	return out
}

func (s *store) Create(ctx context.Context, inv Inventory) (Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextInvID++
	inv.ID = s.nextInvID
	inv.Items = cloneItems(inv.Items)
	s.inventories[inv.ID] = inv
	out := inv
	out.Items = cloneItems(inv.Items)
	return out, nil
}

func (s *store) Get(ctx context.Context, id int64) (Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventories[id]
	if !ok {
		return Inventory{}, fmt.Errorf("inventory: session %d: %w", id, shared.ErrNotFound)
	}
	out := inv
	out.Items = cloneItems(inv.Items)
	out.Refresh()
	return out, nil
}

func (s *store) List(ctx context.Context, filter ListFilter) ([]Inventory, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Inventory
	for _, inv := range s.inventories {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.Type != "" && inv.Type != filter.Type {
			continue
		}
		if filter.WarehouseID != 0 && inv.WarehouseID != filter.WarehouseID {
			continue
		}
		copied := inv
		copied.Items = cloneItems(inv.Items)
		copied.Refresh()
		out = append(out, copied)
	}
	return out, len(out), nil
}

func (s *store) UpdateCount(ctx context.Context, inventoryID, productID, physicalQty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventories[inventoryID]
	if !ok {
		return fmt.Errorf("inventory: session %d: %w", inventoryID, shared.ErrNotFound)
	}
	if inv.Status != StatusInProgress {
		return ErrNotInProgress
	}
	for i := range inv.Items {
		if inv.Items[i].ProductID != productID {
			continue
		}
		qty := physicalQty
		variance := qty - inv.Items[i].TheoreticalQty
		inv.Items[i].PhysicalQty = &qty
		inv.Items[i].Variance = &variance
		s.inventories[inventoryID] = inv
		return nil
	}
	return fmt.Errorf("%w: product %d", ErrItemNotInScope, productID)
}

func (s *store) AddItem(ctx context.Context, inventoryID int64, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventories[inventoryID]
	if !ok {
		return fmt.Errorf("inventory: session %d: %w", inventoryID, shared.ErrNotFound)
	}
	if inv.Status != StatusInProgress {
		return ErrNotInProgress
	}
	for _, existing := range inv.Items {
		if existing.ProductID == item.ProductID {
			return fmt.Errorf("%w: product %d", ErrDuplicateProduct, item.ProductID)
		}
	}
	inv.Items = append(cloneItems(inv.Items), item)
	s.inventories[inventoryID] = inv
	return nil
}

func (s *store) RemoveItem(ctx context.Context, inventoryID, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventories[inventoryID]
	if !ok {
		return fmt.Errorf("inventory: session %d: %w", inventoryID, shared.ErrNotFound)
	}
	if inv.Status != StatusInProgress {
		return ErrNotInProgress
	}
	kept := make([]Item, 0, len(inv.Items))
	found := false
	for _, existing := range inv.Items {
		if existing.ProductID == productID {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		return fmt.Errorf("%w: product %d", ErrItemNotInScope, productID)
	}
	inv.Items = cloneItems(kept)
	s.inventories[inventoryID] = inv
	return nil
}

func (s *store) Transition(ctx context.Context, id int64, from, to Status, by int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventories[id]
	if !ok {
		return fmt.Errorf("inventory: session %d: %w", id, shared.ErrNotFound)
	}
	if inv.Status != from {
		return ErrNotInProgress
	}
	inv.Status = to
	if to == StatusValidated {
		inv.ValidatedBy = by
		inv.ValidatedAt = &at
	}
	inv.UpdatedAt = at
	s.inventories[id] = inv
	return nil
}

func (s *store) WarehouseExists(ctx context.Context, warehouseID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warehouses[warehouseID], nil
}

func (s *store) SnapshotProducts(ctx context.Context, scope ScopePolicy) ([]ProductSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProductSnapshot
	for id, p := range s.products {
		if scope == ScopeInStock && p.Stock <= 0 {
			continue
		}
		out = append(out, ProductSnapshot{ID: id, Code: p.Code, Name: p.Name, Stock: p.Stock, CostPrice: p.Cost})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *store) SnapshotProduct(ctx context.Context, productID int64) (ProductSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return ProductSnapshot{}, fmt.Errorf("inventory: product %d: %w", productID, shared.ErrNotFound)
	}
	return ProductSnapshot{ID: productID, Code: p.Code, Name: p.Name, Stock: p.Stock, CostPrice: p.Cost}, nil
}

// ledger repository side. WithTx undoes the callback's own writes on
// failure, mirroring a rolled-back transaction; writes committed by
// other callers in between (a concurrent cancel) are left alone.
func (s *store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.mu.Lock()
	savedProducts := make(map[int64]productRec, len(s.products))
	for id, p := range s.products {
		savedProducts[id] = *p
	}
	savedMovements := len(s.movements)
	savedRefs := make(map[string]bool, len(s.refs))
	for ref := range s.refs {
		savedRefs[ref] = true
	}
	s.mu.Unlock()

	if err := fn(ctx, (*storeTx)(s)); err != nil {
		s.mu.Lock()
		for id, p := range savedProducts {
			rec := p
			s.products[id] = &rec
		}
		s.movements = s.movements[:savedMovements]
		s.refs = savedRefs
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *store) GetMovement(ctx context.Context, id int64) (ledger.Movement, error) {
	return ledger.Movement{}, shared.ErrNotFound
}

func (s *store) ListMovements(ctx context.Context, filter ledger.JournalFilter) ([]ledger.Movement, int, error) {
	return nil, 0, nil
}

type storeTx store

func (t *storeTx) WarehouseExists(ctx context.Context, warehouseID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warehouses[warehouseID], nil
}

func (t *storeTx) GetProductForUpdate(ctx context.Context, productID int64) (ledger.ProductStock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.products[productID]
	if !ok {
		return ledger.ProductStock{}, fmt.Errorf("ledger: product %d: %w", productID, shared.ErrNotFound)
	}
	return ledger.ProductStock{ID: productID, Stock: p.Stock, Version: p.Version}, nil
}

func (t *storeTx) UpdateProductStock(ctx context.Context, productID, newStock, newVersion int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.products[productID]
	if !ok {
		return fmt.Errorf("ledger: product %d: %w", productID, shared.ErrNotFound)
	}
	p.Stock = newStock
	p.Version = newVersion
	return nil
}

func (t *storeTx) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	t.mu.Lock()
	key := fmt.Sprintf("%d:%s", m.WarehouseID, m.Reference)
	if t.refs[key] {
		t.mu.Unlock()
		return 0, ledger.ErrDuplicateReference
	}
	t.refs[key] = true
	m.ID = int64(len(t.movements) + 1)
	t.movements = append(t.movements, m)
	t.mu.Unlock()
	if t.onMovementInserted != nil {
		t.onMovementInserted()
	}
	return m.ID, nil
}

func (t *storeTx) InsertMovementItems(ctx context.Context, movementID int64, items []ledger.MovementItem) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.movements[movementID-1].Items = items
	return nil
}

type failingLedger struct{}

func (failingLedger) RecordMovementWith(ctx context.Context, draft ledger.MovementDraft, follow func(context.Context) error) (ledger.Movement, error) {
	return ledger.Movement{}, errors.New("ledger unavailable")
}

func newTestService(s *store) *Service {
	ledgerSvc := ledger.NewService(s, nil, nil, nil)
	return NewService(nil, s, s, ledgerSvc, nil, nil)
}

func mustCreate(t *testing.T, svc *Service, scope ScopePolicy) Inventory {
	t.Helper()
	inv, err := svc.Create(context.Background(), CreateInput{
		WarehouseID: 1,
		Type:        TypeAnnual,
		Scope:       scope,
	})
	require.NoError(t, err)
	return inv
}

func TestCreateSnapshotsInStockProducts(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	s.seedProduct(2, "P2", 5, "2.00")
	s.seedProduct(3, "P3", 0, "1.00")
	svc := newTestService(s)

	inv := mustCreate(t, svc, ScopeInStock)
	require.Equal(t, StatusInProgress, inv.Status)
	require.Equal(t, 2, inv.ItemsCount, "zero-stock product excluded")
	require.Zero(t, inv.CompletionPercentage)
	require.NotEmpty(t, inv.Reference)
	for _, item := range inv.Items {
		require.Nil(t, item.PhysicalQty)
		require.Nil(t, item.Variance)
	}
}

func TestCreateScopeAllProducts(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	s.seedProduct(3, "P3", 0, "1.00")
	svc := newTestService(s)

	inv := mustCreate(t, svc, ScopeAllProducts)
	require.Equal(t, 2, inv.ItemsCount)
}

func TestCreateUnknownWarehouse(t *testing.T) {
	s := newStore()
	svc := newTestService(s)

	_, err := svc.Create(context.Background(), CreateInput{WarehouseID: 9, Type: TypeCycle})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateUnknownType(t *testing.T) {
	s := newStore()
	svc := newTestService(s)

	_, err := svc.Create(context.Background(), CreateInput{WarehouseID: 1, Type: "Mensuel"})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestTheoreticalQuantityFrozenAtCreation(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := newTestService(s)

	inv := mustCreate(t, svc, ScopeInStock)
	s.products[1].Stock = 35 // movement after session opened

	inv, err := svc.RecordCount(context.Background(), inv.ID, 1, 18)
	require.NoError(t, err)
	require.Equal(t, int64(20), inv.Items[0].TheoreticalQty)
	require.Equal(t, int64(-2), *inv.Items[0].Variance, "variance against the frozen baseline")
}

func TestRecordCountComputesVariance(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	s.seedProduct(2, "P2", 5, "2.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	inv, err := svc.RecordCount(context.Background(), inv.ID, 1, 18)
	require.NoError(t, err)

	var counted Item
	for _, item := range inv.Items {
		if item.ProductID == 1 {
			counted = item
		}
	}
	require.Equal(t, int64(18), *counted.PhysicalQty)
	require.Equal(t, int64(-2), *counted.Variance)
	require.InDelta(t, 50.0, inv.CompletionPercentage, 0.01)
	require.True(t, inv.TotalVariance.Equal(decimal.RequireFromString("-8.00")), "got %s", inv.TotalVariance)
}

func TestRecordCountLastWriteWins(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	_, err := svc.RecordCount(context.Background(), inv.ID, 1, 18)
	require.NoError(t, err)
	inv, err = svc.RecordCount(context.Background(), inv.ID, 1, 19)
	require.NoError(t, err)
	require.Equal(t, int64(19), *inv.Items[0].PhysicalQty)
	require.Equal(t, int64(-1), *inv.Items[0].Variance)
}

func TestRecordCountOutsideScope(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	_, err := svc.RecordCount(context.Background(), inv.ID, 99, 3)
	require.ErrorIs(t, err, ErrItemNotInScope)
}

func TestRecordCountNegative(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	_, err := svc.RecordCount(context.Background(), inv.ID, 1, -1)
	require.ErrorIs(t, err, ErrNegativeCount)
}

// The reconciliation path end to end: counted shortages become an
// adjustment movement through the ledger, zero variances move nothing.
func TestValidateCommitsVariances(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	s.seedProduct(2, "P2", 5, "2.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	_, err := svc.RecordCount(ctx, inv.ID, 1, 18)
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, inv.ID, 2, 5)
	require.NoError(t, err)

	validated, err := svc.Validate(ctx, inv.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, validated.Status)
	require.Equal(t, int64(42), validated.ValidatedBy)
	require.NotNil(t, validated.ValidatedAt)

	require.Equal(t, int64(18), s.stock(1), "physical count becomes the new stock")
	require.Equal(t, int64(5), s.stock(2), "zero variance leaves stock alone")

	require.Len(t, s.movements, 1)
	m := s.movements[0]
	require.Equal(t, ledger.MovementAdjustment, m.Type)
	require.Equal(t, ledger.SourceInventory, m.Source)
	require.Equal(t, "ADJ-"+inv.Reference, m.Reference)
	require.Len(t, m.Items, 1, "only non-zero variances produce lines")
	require.Equal(t, int64(1), m.Items[0].ProductID)
	require.Equal(t, int64(2), m.Items[0].Quantity)
	require.Equal(t, ledger.DirectionOut, m.Items[0].Direction)
	require.Equal(t, int64(20), m.Items[0].StockBefore)
	require.Equal(t, int64(18), m.Items[0].StockAfter)
}

func TestValidateMixedDirections(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	s.seedProduct(2, "P2", 5, "2.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	_, err := svc.RecordCount(ctx, inv.ID, 1, 17)
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, inv.ID, 2, 9)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, inv.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(17), s.stock(1))
	require.Equal(t, int64(9), s.stock(2))
	require.Len(t, s.movements, 1)
	require.Len(t, s.movements[0].Items, 2)
}

func TestValidateNoVarianceSkipsLedger(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	_, err := svc.RecordCount(ctx, inv.ID, 1, 20)
	require.NoError(t, err)

	validated, err := svc.Validate(ctx, inv.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, validated.Status)
	require.Empty(t, s.movements, "no movement for an all-zero variance session")
}

func TestValidateLeavesUncountedUntouched(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	s.seedProduct(2, "P2", 5, "2.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	_, err := svc.RecordCount(ctx, inv.ID, 1, 18)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, inv.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), s.stock(2), "uncounted product keeps its stock")
	require.Len(t, s.movements[0].Items, 1)
}

func TestValidateTwiceRejected(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	_, err := svc.RecordCount(ctx, inv.ID, 1, 18)
	require.NoError(t, err)
	_, err = svc.Validate(ctx, inv.ID, 1)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, inv.ID, 1)
	require.ErrorIs(t, err, ErrNotInProgress)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Len(t, s.movements, 1, "variance committed exactly once")
	require.Equal(t, int64(18), s.stock(1))
}

func TestValidateLedgerFailureLeavesInProgress(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := NewService(nil, s, s, failingLedger{}, nil, nil)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	_, err := svc.RecordCount(ctx, inv.ID, 1, 18)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, inv.ID, 1)
	require.Error(t, err)

	current, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, current.Status, "failed commit keeps the session open")
	require.Equal(t, int64(20), s.stock(1))
}

// A cancel landing after the adjustment is staged but before the status
// flips must abort the whole validation: the movement rolls back, the
// session stays Annulé and stock is untouched.
func TestCancelDuringValidateRollsBackAdjustment(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	_, err := svc.RecordCount(ctx, inv.ID, 1, 18)
	require.NoError(t, err)

	s.onMovementInserted = func() {
		s.onMovementInserted = nil
		_, err := svc.Cancel(ctx, inv.ID, 9)
		require.NoError(t, err)
	}

	_, err = svc.Validate(ctx, inv.ID, 42)
	require.ErrorIs(t, err, ErrNotInProgress)

	current, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, current.Status)
	require.Equal(t, int64(20), s.stock(1), "cancelled session must have no stock effect")
	require.Empty(t, s.movements, "staged adjustment rolled back with the transition")
}

// Two clerks counting different products at the same time must both
// land; a count may only ever be overwritten by a re-count of the same
// product.
func TestConcurrentCountsOnDistinctProducts(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	s.seedProduct(2, "P2", 5, "2.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	const rounds = 25
	for round := 0; round < rounds; round++ {
		qty1, qty2 := int64(10+round), int64(3+round)
		errs := make(chan error, 2)
		go func() {
			_, err := svc.RecordCount(ctx, inv.ID, 1, qty1)
			errs <- err
		}()
		go func() {
			_, err := svc.RecordCount(ctx, inv.ID, 2, qty2)
			errs <- err
		}()
		require.NoError(t, <-errs)
		require.NoError(t, <-errs)

		current, err := svc.Get(ctx, inv.ID)
		require.NoError(t, err)
		for _, item := range current.Items {
			require.NotNil(t, item.PhysicalQty, "count lost for product %d", item.ProductID)
		}
		require.Equal(t, qty1, *itemFor(t, current, 1).PhysicalQty)
		require.Equal(t, qty2, *itemFor(t, current, 2).PhysicalQty)
	}

	final, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.InDelta(t, 100.0, final.CompletionPercentage, 0.01)
}

func itemFor(t *testing.T, inv Inventory, productID int64) Item {
	t.Helper()
	for _, item := range inv.Items {
		if item.ProductID == productID {
			return item
		}
	}
	t.Fatalf("product %d not in session", productID)
	return Item{}
}

func TestCancelHasNoStockEffect(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	_, err := svc.RecordCount(ctx, inv.ID, 1, 12)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, inv.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, int64(20), s.stock(1))
	require.Empty(t, s.movements)

	_, err = svc.RecordCount(ctx, inv.ID, 1, 15)
	require.ErrorIs(t, err, ErrNotInProgress)
	_, err = svc.Validate(ctx, inv.ID, 7)
	require.ErrorIs(t, err, ErrNotInProgress)
}

func TestAddProductSnapshotsAtAddTime(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	s.seedProduct(3, "P3", 0, "1.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)
	require.Equal(t, 1, inv.ItemsCount)

	ctx := context.Background()
	s.products[3].Stock = 7 // restocked after the session opened

	inv, err := svc.AddProduct(ctx, inv.ID, 3)
	require.NoError(t, err)
	require.Equal(t, 2, inv.ItemsCount)
	require.Equal(t, int64(7), inv.Items[1].TheoreticalQty)

	_, err = svc.AddProduct(ctx, inv.ID, 3)
	require.ErrorIs(t, err, ErrDuplicateProduct)
}

func TestRemoveProduct(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	s.seedProduct(2, "P2", 5, "2.00")
	svc := newTestService(s)
	inv := mustCreate(t, svc, ScopeInStock)

	ctx := context.Background()
	inv, err := svc.RemoveProduct(ctx, inv.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 1, inv.ItemsCount)

	_, err = svc.RemoveProduct(ctx, inv.ID, 2)
	require.ErrorIs(t, err, ErrItemNotInScope)
}
