package warehouses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir-erp/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Warehouse is a physical stock location movements and inventories
// reference.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ErrDuplicateCode indicates a create reusing an existing code.
var ErrDuplicateCode = errors.New("warehouses: code already in use")

// Repository persists warehouses in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const warehouseColumns = `id, code, name, COALESCE(address, ''), created_at, updated_at`

// List returns all warehouses; the fleet is small enough not to page.
func (r *Repository) List(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+warehouseColumns+` FROM warehouses ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Warehouse
	for rows.Next() {
		var wh Warehouse
		if err := rows.Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Address, &wh.CreatedAt, &wh.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

// Get loads one warehouse.
func (r *Repository) Get(ctx context.Context, id int64) (Warehouse, error) {
	var wh Warehouse
	err := r.pool.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id).
		Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Address, &wh.CreatedAt, &wh.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, fmt.Errorf("warehouses: warehouse %d: %w", id, shared.ErrNotFound)
		}
		return Warehouse{}, err
	}
	return wh, nil
}

// Create inserts a warehouse.
func (r *Repository) Create(ctx context.Context, wh Warehouse) (Warehouse, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO warehouses (code, name, address, created_at, updated_at) VALUES ($1, $2, $3, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		wh.Code, wh.Name, wh.Address,
	).Scan(&wh.ID, &wh.CreatedAt, &wh.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Warehouse{}, fmt.Errorf("%w: %s", ErrDuplicateCode, wh.Code)
		}
		return Warehouse{}, err
	}
	return wh, nil
}

// Update rewrites the descriptive fields.
func (r *Repository) Update(ctx context.Context, wh Warehouse) (Warehouse, error) {
	err := r.pool.QueryRow(ctx,
		`UPDATE warehouses SET code = $1, name = $2, address = $3, updated_at = NOW() WHERE id = $4 RETURNING updated_at`,
		wh.Code, wh.Name, wh.Address, wh.ID,
	).Scan(&wh.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, fmt.Errorf("warehouses: warehouse %d: %w", wh.ID, shared.ErrNotFound)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Warehouse{}, fmt.Errorf("%w: %s", ErrDuplicateCode, wh.Code)
		}
		return Warehouse{}, err
	}
	return wh, nil
}

// Handler wires HTTP endpoints for warehouses.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler constructs the warehouses handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers warehouse routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
}

type warehouseRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list warehouses failed", slog.Any("error", err))
		respondWarehouseError(w, err)
		return
	}
	if items == nil {
		items = []Warehouse{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "warehouse id must be numeric")
		return
	}
	wh, err := h.repo.Get(r.Context(), id)
	if err != nil {
		respondWarehouseError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wh)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req warehouseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if req.Code == "" || req.Name == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "code and name are required")
		return
	}
	wh, err := h.repo.Create(r.Context(), Warehouse{Code: req.Code, Name: req.Name, Address: req.Address})
	if err != nil {
		respondWarehouseError(w, err)
		return
	}
	h.logger.Info("warehouse created", slog.Int64("id", wh.ID), slog.String("code", wh.Code))
	httpx.JSON(w, http.StatusCreated, wh)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "warehouse id must be numeric")
		return
	}
	var req warehouseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if req.Code == "" || req.Name == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "code and name are required")
		return
	}
	wh, err := h.repo.Update(r.Context(), Warehouse{ID: id, Code: req.Code, Name: req.Name, Address: req.Address})
	if err != nil {
		respondWarehouseError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wh)
}

func respondWarehouseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate Code", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
