package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock movement journal.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers movement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
}

type movementItemRequest struct {
	ProductID int64           `json:"productId" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	CostPrice decimal.Decimal `json:"costPrice"`
	Direction string          `json:"direction,omitempty" validate:"omitempty,oneof=in out"`
}

type movementRequest struct {
	Type                   string                `json:"type" validate:"required,oneof=entry exit transformation adjustment transfer"`
	Reference              string                `json:"reference"`
	Date                   time.Time             `json:"date"`
	WarehouseID            int64                 `json:"warehouseId" validate:"required,gt=0"`
	DestinationWarehouseID int64                 `json:"warehouseDestinationId"`
	Notes                  string                `json:"notes"`
	Status                 string                `json:"status" validate:"omitempty,oneof=pending validated"`
	Source                 string                `json:"source" validate:"omitempty,oneof=manual sale purchase inventory system"`
	Items                  []movementItemRequest `json:"items"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	draft := MovementDraft{
		Type:                   MovementType(req.Type),
		Reference:              req.Reference,
		Date:                   req.Date,
		WarehouseID:            req.WarehouseID,
		DestinationWarehouseID: req.DestinationWarehouseID,
		Notes:                  req.Notes,
		Status:                 MovementStatus(req.Status),
		Source:                 MovementSource(req.Source),
		CreatedBy:              actorID(r),
	}
	for _, item := range req.Items {
		draft.Items = append(draft.Items, DraftItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			CostPrice: item.CostPrice,
			Direction: Direction(item.Direction),
		})
	}

	movement, err := h.service.RecordMovement(r.Context(), draft)
	if err != nil {
		h.logger.Warn("record movement failed",
			slog.String("type", req.Type),
			slog.Int64("warehouse_id", req.WarehouseID),
			slog.Any("error", err))
		respondLedgerError(w, err)
		return
	}
	h.logger.Info("movement recorded",
		slog.Int64("id", movement.ID),
		slog.String("reference", movement.Reference),
		slog.String("type", string(movement.Type)))
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "movement id must be numeric")
		return
	}
	movement, err := h.service.GetMovement(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}

type journalResponse struct {
	Movements  []Movement        `json:"movements"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJournalFilter(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	movements, total, err := h.service.Journal(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements failed", slog.Any("error", err))
		respondLedgerError(w, err)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, journalResponse{
		Movements:  movements,
		Pagination: shared.NewPagination(filter.Page, filter.Limit, total),
	})
}

func parseJournalFilter(r *http.Request) (JournalFilter, error) {
	q := r.URL.Query()
	filter := JournalFilter{
		Type:      MovementType(q.Get("type")),
		Status:    MovementStatus(q.Get("status")),
		Source:    MovementSource(q.Get("source")),
		Reference: q.Get("reference"),
	}
	if v := q.Get("dateFrom"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			return JournalFilter{}, errors.New("dateFrom must be YYYY-MM-DD")
		}
		filter.From = from
	}
	if v := q.Get("dateTo"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			return JournalFilter{}, errors.New("dateTo must be YYYY-MM-DD")
		}
		// end of day
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if v := q.Get("warehouseId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return JournalFilter{}, errors.New("warehouseId must be numeric")
		}
		filter.WarehouseID = id
	}
	if v := q.Get("productId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return JournalFilter{}, errors.New("productId must be numeric")
		}
		filter.ProductID = id
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
	return filter, nil
}

// respondLedgerError maps ledger domain errors onto problem responses.
// Every error stays scoped to the single operation; nothing here is
// fatal to the process.
func respondLedgerError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrDuplicateReference):
		httpx.Problem(w, http.StatusConflict, "Duplicate Movement", err.Error())
	case errors.Is(err, ErrEmptyMovement):
		httpx.Problem(w, http.StatusBadRequest, "Empty Movement", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidCostPrice),
		errors.Is(err, ErrUnknownMovementType), errors.Is(err, ErrMissingDirection):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrVersionConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

// actorID extracts the acting user from the X-Actor-Id header set by
// the authenticating proxy. Authorization itself is out of scope here.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-Id"), 10, 64)
	return id
}
