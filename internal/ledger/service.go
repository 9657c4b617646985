package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, id int64) (Movement, error)
	ListMovements(ctx context.Context, filter JournalFilter) ([]Movement, int, error)
}

// TxRepository exposes the transactional operations used while posting
// a movement. GetProductForUpdate must take a row lock so that stock
// delta application is serialized per product.
type TxRepository interface {
	WarehouseExists(ctx context.Context, warehouseID int64) (bool, error)
	GetProductForUpdate(ctx context.Context, productID int64) (ProductStock, error)
	UpdateProductStock(ctx context.Context, productID, newStock, newVersion int64) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	InsertMovementItems(ctx context.Context, movementID int64, items []MovementItem) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed postings.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort counts posted and rejected movements.
type MetricsPort interface {
	ObserveMovement(movementType, outcome string)
}

// Service is the single authority for translating a movement into a
// stock delta and persisting both as one unit.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     MetricsPort
}

// NewService builds the ledger Service. audit, idempotency and metrics
// are optional.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics}
}

// RecordMovement validates the draft, computes before/after quantities
// under per-product row locks and commits the movement record together
// with the product stock updates in one transaction. Either the whole
// movement commits, or none of it does.
func (s *Service) RecordMovement(ctx context.Context, draft MovementDraft) (Movement, error) {
	return s.record(ctx, draft, nil)
}

// RecordMovementWith posts the movement and then runs follow inside the
// same transaction, after the stock writes. An error from follow rolls
// the whole movement back. Callers use it to flip their own state
// together with the posting as one atomic unit.
func (s *Service) RecordMovementWith(ctx context.Context, draft MovementDraft, follow func(context.Context) error) (Movement, error) {
	return s.record(ctx, draft, follow)
}

func (s *Service) record(ctx context.Context, draft MovementDraft, follow func(context.Context) error) (Movement, error) {
	if !draft.Type.Valid() {
		return Movement{}, ErrUnknownMovementType
	}
	if len(draft.Items) == 0 {
		return Movement{}, ErrEmptyMovement
	}
	if draft.WarehouseID == 0 {
		return Movement{}, fmt.Errorf("ledger: warehouse required: %w", shared.ErrNotFound)
	}
	for _, item := range draft.Items {
		if item.ProductID == 0 {
			return Movement{}, fmt.Errorf("ledger: product required: %w", shared.ErrNotFound)
		}
		if item.Quantity <= 0 {
			return Movement{}, fmt.Errorf("%w (product %d)", ErrInvalidQuantity, item.ProductID)
		}
		if item.CostPrice.IsNegative() {
			return Movement{}, fmt.Errorf("%w (product %d)", ErrInvalidCostPrice, item.ProductID)
		}
		if _, err := delta(draft.Type, item); err != nil {
			return Movement{}, err
		}
	}

	now := time.Now().UTC()
	date := draft.Date
	if date.IsZero() {
		date = now
	}
	reference := draft.Reference
	if reference == "" {
		reference = AutoReference(draft.Type, now)
	}
	status := draft.Status
	if status == "" {
		status = StatusValidated
	}
	source := draft.Source
	if source == "" {
		source = SourceManual
	}

	key := fmt.Sprintf("%d:%s", draft.WarehouseID, reference)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				s.observe(draft.Type, "rejected")
				return Movement{}, ErrDuplicateReference
			}
			return Movement{}, err
		}
		insertedKey = true
	}

	movement := Movement{
		Type:                   draft.Type,
		Reference:              reference,
		Date:                   date,
		WarehouseID:            draft.WarehouseID,
		DestinationWarehouseID: draft.DestinationWarehouseID,
		Notes:                  draft.Notes,
		Status:                 status,
		Source:                 source,
		CreatedBy:              draft.CreatedBy,
		CreatedAt:              now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.WarehouseExists(ctx, draft.WarehouseID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ledger: warehouse %d: %w", draft.WarehouseID, shared.ErrNotFound)
		}

		applied, total, err := s.applyItems(ctx, tx, draft)
		if err != nil {
			return err
		}
		movement.Items = applied
		movement.TotalValue = total

		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		if err := tx.InsertMovementItems(ctx, id, applied); err != nil {
			return err
		}
		if follow != nil {
			return follow(ctx)
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		s.observe(draft.Type, "rejected")
		return Movement{}, err
	}

	s.observe(draft.Type, "posted")
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  draft.CreatedBy,
			Action:   fmt.Sprintf("ledger:%s", draft.Type),
			Entity:   "stock_movement",
			EntityID: reference,
			Meta: map[string]any{
				"warehouse_id": draft.WarehouseID,
				"items":        len(movement.Items),
				"total_value":  movement.TotalValue.String(),
				"source":       string(source),
			},
		})
	}
	return movement, nil
}

// applyItems locks products in id order, computes before/after
// snapshots and writes the new stock levels. Locking per product, in a
// stable order, keeps concurrent movements on unrelated products from
// waiting on each other and avoids lock-order deadlocks.
func (s *Service) applyItems(ctx context.Context, tx TxRepository, draft MovementDraft) ([]MovementItem, decimal.Decimal, error) {
	order := make([]int, len(draft.Items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return draft.Items[order[a]].ProductID < draft.Items[order[b]].ProductID
	})

	applied := make([]MovementItem, len(draft.Items))
	stocks := make(map[int64]ProductStock)
	total := decimal.Zero

	for _, idx := range order {
		item := draft.Items[idx]
		current, ok := stocks[item.ProductID]
		if !ok {
			loaded, err := tx.GetProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return nil, decimal.Zero, err
			}
			current = loaded
		}

		change, err := delta(draft.Type, item)
		if err != nil {
			return nil, decimal.Zero, err
		}
		before := current.Stock
		after := before + change
		if after < 0 {
			return nil, decimal.Zero, &InsufficientStockError{
				ProductID: item.ProductID,
				Requested: -change,
				Available: before,
			}
		}

		current.Stock = after
		current.Version++
		stocks[item.ProductID] = current

		applied[idx] = MovementItem{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			CostPrice:   item.CostPrice.Round(2),
			Direction:   directionFor(draft.Type, item),
			StockBefore: before,
			StockAfter:  after,
		}
		total = total.Add(item.CostPrice.Mul(decimal.NewFromInt(item.Quantity)))
	}

	for productID, ps := range stocks {
		if err := tx.UpdateProductStock(ctx, productID, ps.Stock, ps.Version); err != nil {
			return nil, decimal.Zero, err
		}
	}
	return applied, total.Round(2), nil
}

// GetMovement loads one movement with its items.
func (s *Service) GetMovement(ctx context.Context, id int64) (Movement, error) {
	if id <= 0 {
		return Movement{}, fmt.Errorf("ledger: movement %d: %w", id, shared.ErrNotFound)
	}
	return s.repo.GetMovement(ctx, id)
}

// Journal lists movements matching the filter, newest first.
func (s *Service) Journal(ctx context.Context, filter JournalFilter) ([]Movement, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	return s.repo.ListMovements(ctx, filter)
}

// AutoReference builds the default reference for a movement left blank
// by the caller, e.g. ENTRY-1724832000000.
func AutoReference(t MovementType, at time.Time) string {
	return fmt.Sprintf("%s-%d", strings.ToUpper(string(t)), at.UnixMilli())
}

func directionFor(t MovementType, item DraftItem) Direction {
	if t == MovementAdjustment {
		return item.Direction
	}
	return ""
}

func (s *Service) observe(t MovementType, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveMovement(string(t), outcome)
	}
}
