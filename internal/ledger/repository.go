package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir-erp/internal/platform/db"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. The
// callback's context carries the transaction so repositories of other
// packages can join it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(db.ContextWithTx(ctx, tx), &txRepo{tx: tx})
	})
}

const movementColumns = `id, type, reference, movement_date, warehouse_id, COALESCE(destination_warehouse_id, 0), notes, status, source, total_value, created_by, created_at`

// GetMovement loads one movement with its items.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id = $1`, id)
	m, err := scanMovement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, fmt.Errorf("ledger: movement %d: %w", id, shared.ErrNotFound)
		}
		return Movement{}, err
	}
	items, err := r.loadItems(ctx, m.ID)
	if err != nil {
		return Movement{}, err
	}
	m.Items = items
	return m, nil
}

// ListMovements returns the journal page matching the filter, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter JournalFilter) ([]Movement, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		where += ` AND ` + clause + `$` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		add(`movement_date >= `, filter.From)
	}
	if !filter.To.IsZero() {
		add(`movement_date <= `, filter.To)
	}
	if filter.Type != "" {
		add(`type = `, string(filter.Type))
	}
	if filter.Status != "" {
		add(`status = `, string(filter.Status))
	}
	if filter.Source != "" {
		add(`source = `, string(filter.Source))
	}
	if filter.WarehouseID != 0 {
		add(`warehouse_id = `, filter.WarehouseID)
	}
	if filter.Reference != "" {
		add(`reference = `, filter.Reference)
	}
	if filter.ProductID != 0 {
		add(`id IN (SELECT movement_id FROM stock_movement_items WHERE product_id = `, filter.ProductID)
		where += `)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := (filter.Page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := `SELECT ` + movementColumns + ` FROM stock_movements` + where +
		` ORDER BY movement_date DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range movements {
		items, err := r.loadItems(ctx, movements[i].ID)
		if err != nil {
			return nil, 0, err
		}
		movements[i].Items = items
	}
	return movements, total, nil
}

func (r *Repository) loadItems(ctx context.Context, movementID int64) ([]MovementItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, quantity, cost_price, COALESCE(direction, ''), stock_before, stock_after FROM stock_movement_items WHERE movement_id = $1 ORDER BY id`, movementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []MovementItem
	for rows.Next() {
		var item MovementItem
		var direction string
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.CostPrice, &direction, &item.StockBefore, &item.StockAfter); err != nil {
			return nil, err
		}
		item.Direction = Direction(direction)
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (Movement, error) {
	var m Movement
	var typ, status, source string
	err := row.Scan(&m.ID, &typ, &m.Reference, &m.Date, &m.WarehouseID, &m.DestinationWarehouseID, &m.Notes, &status, &source, &m.TotalValue, &m.CreatedBy, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	m.Type = MovementType(typ)
	m.Status = MovementStatus(status)
	m.Source = MovementSource(source)
	return m, nil
}

func (t *txRepo) WarehouseExists(ctx context.Context, warehouseID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)`, warehouseID).Scan(&exists)
	return exists, err
}

// GetProductForUpdate locks the product row for the rest of the
// transaction, serializing stock writes per product.
func (t *txRepo) GetProductForUpdate(ctx context.Context, productID int64) (ProductStock, error) {
	var ps ProductStock
	err := t.tx.QueryRow(ctx, `SELECT id, stock, version FROM products WHERE id = $1 FOR UPDATE`, productID).
		Scan(&ps.ID, &ps.Stock, &ps.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductStock{}, fmt.Errorf("ledger: product %d: %w", productID, shared.ErrNotFound)
		}
		return ProductStock{}, err
	}
	return ps, nil
}

func (t *txRepo) UpdateProductStock(ctx context.Context, productID, newStock, newVersion int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = $1, version = $2, updated_at = NOW() WHERE id = $3`, newStock, newVersion, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: product %d: %w", productID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var destination any
	if m.DestinationWarehouseID != 0 {
		destination = m.DestinationWarehouseID
	}
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO stock_movements (type, reference, movement_date, warehouse_id, destination_warehouse_id, notes, status, source, total_value, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		string(m.Type), m.Reference, m.Date, m.WarehouseID, destination, m.Notes, string(m.Status), string(m.Source), m.TotalValue, m.CreatedBy, m.CreatedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateReference
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) InsertMovementItems(ctx context.Context, movementID int64, items []MovementItem) error {
	for _, item := range items {
		var direction any
		if item.Direction != "" {
			direction = string(item.Direction)
		}
		_, err := t.tx.Exec(ctx,
			`INSERT INTO stock_movement_items (movement_id, product_id, quantity, cost_price, direction, stock_before, stock_after)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			movementID, item.ProductID, item.Quantity, item.CostPrice, direction, item.StockBefore, item.StockAfter,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
