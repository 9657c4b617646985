package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir-erp/internal/platform/db"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Repository persists inventory sessions in PostgreSQL. It also serves
// as the product catalog for snapshotting.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier joins the transaction carried by ctx when there is one, so
// guarded updates can run inside a caller's transaction.
func (r *Repository) querier(ctx context.Context) db.Executor {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

const inventoryColumns = `id, reference, warehouse_id, inventory_date, type, status, notes, COALESCE(created_by, 0), COALESCE(validated_by, 0), validated_at, created_at, updated_at`

// Create stores the session and its item snapshot.
func (r *Repository) Create(ctx context.Context, inv Inventory) (Inventory, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO inventories (reference, warehouse_id, inventory_date, type, status, notes, created_by, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			inv.Reference, inv.WarehouseID, inv.Date, string(inv.Type), string(inv.Status), inv.Notes, nullableID(inv.CreatedBy), inv.CreatedAt, inv.UpdatedAt,
		).Scan(&inv.ID)
		if err != nil {
			return err
		}
		return insertItems(ctx, tx, inv.ID, inv.Items)
	})
	if err != nil {
		return Inventory{}, err
	}
	return inv, nil
}

// Get loads one session with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Inventory, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+inventoryColumns+` FROM inventories WHERE id = $1`, id)
	inv, err := scanInventory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inventory{}, fmt.Errorf("inventory: session %d: %w", id, shared.ErrNotFound)
		}
		return Inventory{}, err
	}
	items, err := r.loadItems(ctx, inv.ID)
	if err != nil {
		return Inventory{}, err
	}
	inv.Items = items
	inv.Refresh()
	return inv, nil
}

// List returns a session page matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Inventory, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		where += ` AND ` + clause + `$` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		add(`status = `, string(filter.Status))
	}
	if filter.Type != "" {
		add(`type = `, string(filter.Type))
	}
	if filter.WarehouseID != 0 {
		add(`warehouse_id = `, filter.WarehouseID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventories`+where, args...).Scan(&total); err != nil {
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
	query := `SELECT ` + inventoryColumns + ` FROM inventories` + where +
		` ORDER BY inventory_date DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range sessions {
		items, err := r.loadItems(ctx, sessions[i].ID)
		if err != nil {
			return nil, 0, err
		}
		sessions[i].Items = items
		sessions[i].Refresh()
	}
	return sessions, total, nil
}

// UpdateCount writes one product's physical count. Only that item's row
// changes; the variance is computed against the frozen theoretical
// quantity in place, so concurrent counts on other products are never
// overwritten. The status guard on the parent row keeps terminal
// sessions frozen.
func (r *Repository) UpdateCount(ctx context.Context, inventoryID, productID, physicalQty int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := guardInProgress(ctx, tx, inventoryID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE inventory_items SET physical_qty = $1, variance = $1 - theoretical_qty WHERE inventory_id = $2 AND product_id = $3`,
			physicalQty, inventoryID, productID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: product %d", ErrItemNotInScope, productID)
		}
		return nil
	})
}

// AddItem appends one product snapshot to an in-progress session. The
// unique (inventory_id, product_id) constraint rejects duplicates.
func (r *Repository) AddItem(ctx context.Context, inventoryID int64, item Item) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := guardInProgress(ctx, tx, inventoryID); err != nil {
			return err
		}
		if err := insertItems(ctx, tx, inventoryID, []Item{item}); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: product %d", ErrDuplicateProduct, item.ProductID)
			}
			return err
		}
		return nil
	})
}

// RemoveItem drops one product from an in-progress session.
func (r *Repository) RemoveItem(ctx context.Context, inventoryID, productID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := guardInProgress(ctx, tx, inventoryID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM inventory_items WHERE inventory_id = $1 AND product_id = $2`, inventoryID, productID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: product %d", ErrItemNotInScope, productID)
		}
		return nil
	})
}

// guardInProgress touches the parent row, failing when the session is
// missing or terminal.
func guardInProgress(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `UPDATE inventories SET updated_at = NOW() WHERE id = $1 AND status = $2`, id, string(StatusInProgress))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return guardFailure(ctx, tx, id)
	}
	return nil
}

// Transition moves a session between statuses, guarded on the source
// status so concurrent transitions lose with ErrNotInProgress. When ctx
// carries an open transaction (the ledger posting an adjustment) the
// update joins it, making the movement and the status flip one unit.
func (r *Repository) Transition(ctx context.Context, id int64, from, to Status, by int64, at time.Time) error {
	var validatedBy, validatedAt any
	if to == StatusValidated {
		validatedBy = by
		validatedAt = at
	}
	q := r.querier(ctx)
	tag, err := q.Exec(ctx,
		`UPDATE inventories SET status = $1, validated_by = $2, validated_at = $3, updated_at = $4 WHERE id = $5 AND status = $6`,
		string(to), validatedBy, validatedAt, at, id, string(from),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return guardFailure(ctx, q, id)
	}
	return nil
}

// guardFailure tells a missing session apart from a terminal one.
func guardFailure(ctx context.Context, q db.Executor, id int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventories WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("inventory: session %d: %w", id, shared.ErrNotFound)
	}
	return ErrNotInProgress
}

func (r *Repository) loadItems(ctx context.Context, inventoryID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT product_id, product_code, product_name, theoretical_qty, physical_qty, variance, cost_price
		 FROM inventory_items WHERE inventory_id = $1 ORDER BY id`, inventoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.ProductCode, &item.ProductName, &item.TheoreticalQty, &item.PhysicalQty, &item.Variance, &item.CostPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func insertItems(ctx context.Context, tx pgx.Tx, inventoryID int64, items []Item) error {
	for _, item := range items {
		_, err := tx.Exec(ctx,
			`INSERT INTO inventory_items (inventory_id, product_id, product_code, product_name, theoretical_qty, physical_qty, variance, cost_price)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			inventoryID, item.ProductID, item.ProductCode, item.ProductName, item.TheoreticalQty, item.PhysicalQty, item.Variance, item.CostPrice,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInventory(row rowScanner) (Inventory, error) {
	var inv Inventory
	var typ, status string
	err := row.Scan(&inv.ID, &inv.Reference, &inv.WarehouseID, &inv.Date, &typ, &status, &inv.Notes, &inv.CreatedBy, &inv.ValidatedBy, &inv.ValidatedAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Inventory{}, err
	}
	inv.Type = Type(typ)
	inv.Status = Status(status)
	return inv, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// WarehouseExists implements CatalogPort.
func (r *Repository) WarehouseExists(ctx context.Context, warehouseID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)`, warehouseID).Scan(&exists)
	return exists, err
}

// SnapshotProducts freezes the theoretical quantities for a new session.
func (r *Repository) SnapshotProducts(ctx context.Context, scope ScopePolicy) ([]ProductSnapshot, error) {
	query := `SELECT id, code, name, stock, cost_price FROM products`
	if scope == ScopeInStock {
		query += ` WHERE stock > 0`
	}
	query += ` ORDER BY name, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []ProductSnapshot
	for rows.Next() {
		var p ProductSnapshot
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Stock, &p.CostPrice); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, p)
	}
	return snapshots, rows.Err()
}

// SnapshotProduct freezes one product's quantity at add time.
func (r *Repository) SnapshotProduct(ctx context.Context, productID int64) (ProductSnapshot, error) {
	var p ProductSnapshot
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, stock, cost_price FROM products WHERE id = $1`, productID).
		Scan(&p.ID, &p.Code, &p.Name, &p.Stock, &p.CostPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductSnapshot{}, fmt.Errorf("inventory: product %d: %w", productID, shared.ErrNotFound)
		}
		return ProductSnapshot{}, err
	}
	return p, nil
}
