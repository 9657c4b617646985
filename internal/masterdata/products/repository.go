package products

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, code, name, COALESCE(description, ''), COALESCE(category, ''), unit, stock, min_stock, cost_price, sale_price, version, created_at, updated_at`

// Get loads one product.
func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("products: product %d: %w", id, shared.ErrNotFound)
		}
		return Product{}, err
	}
	return p, nil
}

// List returns a product page matching the filter.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (code ILIKE $` + n + ` OR name ILIKE $` + n + `)`
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where += ` AND category = $` + strconv.Itoa(len(args))
	}
	if filter.LowStock {
		where += ` AND stock <= min_stock`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
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
	query := `SELECT ` + productColumns + ` FROM products` + where +
		` ORDER BY name, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Create inserts a product at version 1.
func (r *Repository) Create(ctx context.Context, p Product) (Product, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (code, name, description, category, unit, stock, min_stock, cost_price, sale_price, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, NOW(), NOW()) RETURNING id, version, created_at, updated_at`,
		p.Code, p.Name, p.Description, p.Category, p.Unit, p.Stock, p.MinStock, p.CostPrice, p.SalePrice,
	).Scan(&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Product{}, fmt.Errorf("%w: %s", ErrDuplicateCode, p.Code)
		}
		return Product{}, err
	}
	return p, nil
}

// Update writes descriptive fields guarded by the version the caller
// read. A stale version loses with ErrVersionConflict; stock is never
// written here, only the ledger touches it.
func (r *Repository) Update(ctx context.Context, p Product) (Product, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE products
		 SET code = $1, name = $2, description = $3, category = $4, unit = $5, min_stock = $6, cost_price = $7, sale_price = $8, version = version + 1, updated_at = NOW()
		 WHERE id = $9 AND version = $10
		 RETURNING `+productColumns,
		p.Code, p.Name, p.Description, p.Category, p.Unit, p.MinStock, p.CostPrice, p.SalePrice, p.ID, p.Version,
	)
	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, r.updateFailure(ctx, p.ID)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Product{}, fmt.Errorf("%w: %s", ErrDuplicateCode, p.Code)
		}
		return Product{}, err
	}
	return updated, nil
}

// Delete removes a product with no movement history.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("products: product %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// updateFailure tells a missing product apart from a lost update.
func (r *Repository) updateFailure(ctx context.Context, id int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("products: product %d: %w", id, shared.ErrNotFound)
	}
	return fmt.Errorf("products: product %d: %w", id, shared.ErrVersionConflict)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Category, &p.Unit, &p.Stock, &p.MinStock, &p.CostPrice, &p.SalePrice, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}
