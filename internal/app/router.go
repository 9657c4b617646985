package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/comptoir-erp/comptoir-erp/internal/inventory"
	"github.com/comptoir-erp/comptoir-erp/internal/ledger"
	"github.com/comptoir-erp/comptoir-erp/internal/masterdata/products"
	"github.com/comptoir-erp/comptoir-erp/internal/masterdata/warehouses"
	"github.com/comptoir-erp/comptoir-erp/internal/observability"
	"github.com/comptoir-erp/comptoir-erp/internal/stats"
	"github.com/comptoir-erp/comptoir-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	ProductsHandler   *products.Handler
	WarehousesHandler *warehouses.Handler
	LedgerHandler     *ledger.Handler
	InventoryHandler  *inventory.Handler
	StatsHandler      *stats.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router serving the JSON API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.ProductsHandler != nil {
			api.Route("/products", params.ProductsHandler.MountRoutes)
		}
		if params.WarehousesHandler != nil {
			api.Route("/warehouses", params.WarehousesHandler.MountRoutes)
		}
		if params.LedgerHandler != nil {
			api.Route("/stock-movements", params.LedgerHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			api.Route("/inventories", params.InventoryHandler.MountRoutes)
		}
		if params.StatsHandler != nil {
			api.Route("/stock", params.StatsHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
