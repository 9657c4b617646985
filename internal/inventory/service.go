package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/ledger"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// RepositoryPort abstracts inventory persistence.
type RepositoryPort interface {
	Create(ctx context.Context, inv Inventory) (Inventory, error)
	Get(ctx context.Context, id int64) (Inventory, error)
	List(ctx context.Context, filter ListFilter) ([]Inventory, int, error)
	// UpdateCount stores one product's physical count and variance. The
	// write is guarded on session status and touches only that item's
	// row, so concurrent counts on different products never overwrite
	// each other.
	UpdateCount(ctx context.Context, inventoryID, productID, physicalQty int64) error
	// AddItem appends one product snapshot to an in-progress session.
	AddItem(ctx context.Context, inventoryID int64, item Item) error
	// RemoveItem drops one product from an in-progress session.
	RemoveItem(ctx context.Context, inventoryID, productID int64) error
	// Transition moves a session from one status to another. The guard
	// on the source status makes concurrent transitions lose cleanly.
	// When the context carries an open transaction the update joins it.
	Transition(ctx context.Context, id int64, from, to Status, by int64, at time.Time) error
}

// CatalogPort supplies product snapshots when sessions are created or
// products are added later.
type CatalogPort interface {
	WarehouseExists(ctx context.Context, warehouseID int64) (bool, error)
	SnapshotProducts(ctx context.Context, scope ScopePolicy) ([]ProductSnapshot, error)
	SnapshotProduct(ctx context.Context, productID int64) (ProductSnapshot, error)
}

// ProductSnapshot is a product's identity and stock at snapshot time.
type ProductSnapshot struct {
	ID        int64
	Code      string
	Name      string
	Stock     int64
	CostPrice decimal.Decimal
}

func snapshotItem(p ProductSnapshot) Item {
	return Item{
		ProductID:      p.ID,
		ProductCode:    p.Code,
		ProductName:    p.Name,
		TheoreticalQty: p.Stock,
		CostPrice:      p.CostPrice,
	}
}

// LedgerPort is the slice of the stock ledger the committer uses. follow
// runs inside the posting transaction; its failure rolls the movement
// back.
type LedgerPort interface {
	RecordMovementWith(ctx context.Context, draft ledger.MovementDraft, follow func(context.Context) error) (ledger.Movement, error)
}

// MetricsPort records validation outcomes.
type MetricsPort interface {
	ObserveValidation(outcome string)
}

// AuditPort records who validated or cancelled which session.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ListFilter filters inventory listings.
type ListFilter struct {
	Status      Status
	Type        Type
	WarehouseID int64
	Page        int
	Limit       int
}

// Service implements the stocktaking workflow: snapshot, count, commit.
type Service struct {
	logger  *slog.Logger
	repo    RepositoryPort
	catalog CatalogPort
	ledger  LedgerPort
	audit   AuditPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs Service. audit and metrics may be nil.
func NewService(logger *slog.Logger, repo RepositoryPort, catalog CatalogPort, ledgerPort LedgerPort, audit AuditPort, metrics MetricsPort) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		repo:    repo,
		catalog: catalog,
		ledger:  ledgerPort,
		audit:   audit,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput is the input to Create.
type CreateInput struct {
	WarehouseID int64
	Type        Type
	Scope       ScopePolicy
	Reference   string
	Date        time.Time
	Notes       string
	CreatedBy   int64
}

// Create opens a stocktaking session. The theoretical quantities are
// snapshotted here and never refreshed; movements recorded after this
// point do not shift the session's baseline.
func (s *Service) Create(ctx context.Context, in CreateInput) (Inventory, error) {
	if !in.Type.Valid() {
		return Inventory{}, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
	scope := in.Scope
	if scope == "" {
		scope = ScopeInStock
	}
	if scope != ScopeAllProducts && scope != ScopeInStock {
		return Inventory{}, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	ok, err := s.catalog.WarehouseExists(ctx, in.WarehouseID)
	if err != nil {
		return Inventory{}, fmt.Errorf("inventory: check warehouse: %w", err)
	}
	if !ok {
		return Inventory{}, fmt.Errorf("inventory: warehouse %d: %w", in.WarehouseID, shared.ErrNotFound)
	}

	snapshots, err := s.catalog.SnapshotProducts(ctx, scope)
	if err != nil {
		return Inventory{}, fmt.Errorf("inventory: snapshot products: %w", err)
	}

	now := s.now()
	inv := Inventory{
		Reference:   in.Reference,
		WarehouseID: in.WarehouseID,
		Date:        in.Date,
		Type:        in.Type,
		Status:      StatusInProgress,
		Notes:       in.Notes,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if inv.Date.IsZero() {
		inv.Date = now
	}
	if inv.Reference == "" {
		inv.Reference = AutoReference(now)
	}
	for _, p := range snapshots {
		inv.Items = append(inv.Items, snapshotItem(p))
	}
	inv.Refresh()

	created, err := s.repo.Create(ctx, inv)
	if err != nil {
		return Inventory{}, err
	}
	s.logger.Info("inventory opened",
		slog.Int64("id", created.ID),
		slog.String("reference", created.Reference),
		slog.Int("items", created.ItemsCount))
	return created, nil
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, id int64) (Inventory, error) {
	return s.repo.Get(ctx, id)
}

// List returns a session page matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Inventory, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	return s.repo.List(ctx, filter)
}

// RecordCount stores a physical count for one product of the session.
// Re-counting the same product overwrites the previous value; the last
// count before validation wins. Only the counted item's row is written,
// so clerks counting different products never undo each other.
func (s *Service) RecordCount(ctx context.Context, inventoryID, productID, physicalQty int64) (Inventory, error) {
	if physicalQty < 0 {
		return Inventory{}, ErrNegativeCount
	}
	if err := s.repo.UpdateCount(ctx, inventoryID, productID, physicalQty); err != nil {
		return Inventory{}, err
	}
	return s.repo.Get(ctx, inventoryID)
}

// AddProduct widens an in-progress session with one more product. The
// theoretical quantity is snapshotted at add time, not session creation.
func (s *Service) AddProduct(ctx context.Context, inventoryID, productID int64) (Inventory, error) {
	snap, err := s.catalog.SnapshotProduct(ctx, productID)
	if err != nil {
		return Inventory{}, err
	}
	if err := s.repo.AddItem(ctx, inventoryID, snapshotItem(snap)); err != nil {
		return Inventory{}, err
	}
	return s.repo.Get(ctx, inventoryID)
}

// RemoveProduct narrows an in-progress session.
func (s *Service) RemoveProduct(ctx context.Context, inventoryID, productID int64) (Inventory, error) {
	if err := s.repo.RemoveItem(ctx, inventoryID, productID); err != nil {
		return Inventory{}, err
	}
	return s.repo.Get(ctx, inventoryID)
}

// Validate commits the session: counted non-zero variances become one
// adjustment movement on the ledger and the session turns Validé in the
// same transaction. Uncounted items are left untouched. Any failure,
// ledger rejection or a concurrent transition alike, rolls the whole
// validation back and the session keeps its current status.
func (s *Service) Validate(ctx context.Context, inventoryID, validatedBy int64) (Inventory, error) {
	inv, err := s.repo.Get(ctx, inventoryID)
	if err != nil {
		return Inventory{}, err
	}
	if inv.Status != StatusInProgress {
		s.observeValidation("rejected")
		return Inventory{}, ErrNotInProgress
	}

	now := s.now()
	draft := adjustmentDraft(inv, validatedBy, now)
	transition := func(ctx context.Context) error {
		return s.repo.Transition(ctx, inv.ID, StatusInProgress, StatusValidated, validatedBy, now)
	}
	if len(draft.Items) == 0 {
		if err := transition(ctx); err != nil {
			s.observeValidation("failed")
			return Inventory{}, err
		}
	} else {
		movement, err := s.ledger.RecordMovementWith(ctx, draft, transition)
		if err != nil {
			s.observeValidation("failed")
			s.logger.Warn("inventory validation rolled back",
				slog.Int64("inventory_id", inv.ID),
				slog.Any("error", err))
			return Inventory{}, fmt.Errorf("inventory: commit variances: %w", err)
		}
		s.logger.Info("inventory variances committed",
			slog.Int64("inventory_id", inv.ID),
			slog.Int64("movement_id", movement.ID),
			slog.Int("lines", len(movement.Items)))
	}
	s.observeValidation("validated")
	s.recordAudit(ctx, validatedBy, "inventory:validate", inv)

	inv.Status = StatusValidated
	inv.ValidatedBy = validatedBy
	inv.ValidatedAt = &now
	inv.UpdatedAt = now
	inv.Refresh()
	return inv, nil
}

// Cancel closes the session without any stock effect.
func (s *Service) Cancel(ctx context.Context, inventoryID, cancelledBy int64) (Inventory, error) {
	inv, err := s.repo.Get(ctx, inventoryID)
	if err != nil {
		return Inventory{}, err
	}
	if inv.Status != StatusInProgress {
		return Inventory{}, ErrNotInProgress
	}

	now := s.now()
	if err := s.repo.Transition(ctx, inv.ID, StatusInProgress, StatusCancelled, cancelledBy, now); err != nil {
		return Inventory{}, err
	}
	s.observeValidation("cancelled")
	s.recordAudit(ctx, cancelledBy, "inventory:cancel", inv)

	inv.Status = StatusCancelled
	inv.UpdatedAt = now
	return inv, nil
}

// adjustmentDraft turns counted non-zero variances into adjustment
// lines. Quantities are absolute; the sign moves into the direction.
func adjustmentDraft(inv Inventory, validatedBy int64, at time.Time) ledger.MovementDraft {
	draft := ledger.MovementDraft{
		Type:        ledger.MovementAdjustment,
		Reference:   "ADJ-" + inv.Reference,
		Date:        at,
		WarehouseID: inv.WarehouseID,
		Notes:       fmt.Sprintf("Régularisation inventaire %s", inv.Reference),
		Status:      ledger.StatusValidated,
		Source:      ledger.SourceInventory,
		CreatedBy:   validatedBy,
	}
	for _, item := range inv.Items {
		if !item.Counted() || item.Variance == nil || *item.Variance == 0 {
			continue
		}
		line := ledger.DraftItem{
			ProductID: item.ProductID,
			CostPrice: item.CostPrice,
		}
		if *item.Variance > 0 {
			line.Quantity = *item.Variance
			line.Direction = ledger.DirectionIn
		} else {
			line.Quantity = -*item.Variance
			line.Direction = ledger.DirectionOut
		}
		draft.Items = append(draft.Items, line)
	}
	return draft
}

// AutoReference builds the default session reference.
func AutoReference(at time.Time) string {
	return fmt.Sprintf("INV-%d", at.UnixMilli())
}

func (s *Service) observeValidation(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveValidation(outcome)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, inv Inventory) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory",
		EntityID: inv.Reference,
		Meta: map[string]any{
			"inventory_id": inv.ID,
			"warehouse_id": inv.WarehouseID,
			"type":         string(inv.Type),
		},
	})
}
