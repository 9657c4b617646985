package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/comptoir-erp/comptoir-erp/internal/ledger"
	"github.com/comptoir-erp/comptoir-erp/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Handler wires HTTP endpoints for stocktaking sessions.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Put("/{id}/counts/{productId}", h.recordCount)
	r.Post("/{id}/products", h.addProduct)
	r.Delete("/{id}/products/{productId}", h.removeProduct)
	r.Post("/{id}/validate", h.validateSession)
	r.Post("/{id}/cancel", h.cancel)
}

type createRequest struct {
	WarehouseID int64     `json:"warehouseId" validate:"required,gt=0"`
	Type        string    `json:"type" validate:"required,oneof=Annuel Spontané Tournant Cycle"`
	Scope       string    `json:"scope" validate:"omitempty,oneof=all in_stock"`
	Reference   string    `json:"reference"`
	Date        time.Time `json:"date"`
	Notes       string    `json:"notes"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.Create(r.Context(), CreateInput{
		WarehouseID: req.WarehouseID,
		Type:        Type(req.Type),
		Scope:       ScopePolicy(req.Scope),
		Reference:   req.Reference,
		Date:        req.Date,
		Notes:       req.Notes,
		CreatedBy:   actorID(r),
	})
	if err != nil {
		h.logger.Warn("create inventory failed",
			slog.Int64("warehouse_id", req.WarehouseID),
			slog.Any("error", err))
		respondInventoryError(w, err)
		return
	}
	h.logger.Info("inventory created",
		slog.Int64("id", inv.ID),
		slog.String("reference", inv.Reference))
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondInventoryError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type listResponse struct {
	Inventories []Inventory       `json:"inventories"`
	Pagination  shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status: Status(q.Get("status")),
		Type:   Type(q.Get("type")),
	}
	if v := q.Get("warehouseId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "warehouseId must be numeric")
			return
		}
		filter.WarehouseID = id
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	// defaults applied here so the response metadata reports the page
	// size actually queried
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	sessions, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list inventories failed", slog.Any("error", err))
		respondInventoryError(w, err)
		return
	}
	if sessions == nil {
		sessions = []Inventory{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Inventories: sessions,
		Pagination:  shared.NewPagination(filter.Page, filter.Limit, total),
	})
}

type countRequest struct {
	PhysicalQty int64 `json:"physicalQty" validate:"gte=0"`
}

func (h *Handler) recordCount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productId")
	if !ok {
		return
	}
	var req countRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.RecordCount(r.Context(), id, productID, req.PhysicalQty)
	if err != nil {
		respondInventoryError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type addProductRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
}

func (h *Handler) addProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req addProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.AddProduct(r.Context(), id, req.ProductID)
	if err != nil {
		respondInventoryError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) removeProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productId"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "product id must be numeric")
		return
	}

	inv, err := h.service.RemoveProduct(r.Context(), id, productID)
	if err != nil {
		respondInventoryError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) validateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.service.Validate(r.Context(), id, actorID(r))
	if err != nil {
		h.logger.Warn("validate inventory failed",
			slog.Int64("id", id),
			slog.Any("error", err))
		respondInventoryError(w, err)
		return
	}
	h.logger.Info("inventory validated",
		slog.Int64("id", inv.ID),
		slog.String("reference", inv.Reference))
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.service.Cancel(r.Context(), id, actorID(r))
	if err != nil {
		respondInventoryError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

// respondInventoryError maps inventory and ledger errors onto problem
// responses.
func respondInventoryError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientStockError
	switch {
	case errors.Is(err, ErrNotInProgress):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrUnknownType), errors.Is(err, ErrUnknownScope),
		errors.Is(err, ErrNegativeCount), errors.Is(err, ErrDuplicateProduct):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrItemNotInScope):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ledger.ErrDuplicateReference):
		httpx.Problem(w, http.StatusConflict, "Duplicate Movement", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrVersionConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", name+" must be numeric")
		return 0, false
	}
	return id, true
}

// actorID extracts the acting user from the X-Actor-Id header set by
// the authenticating proxy.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-Id"), 10, 64)
	return id
}
