package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/comptoir-erp/comptoir-erp/internal/platform/httpx"
)

// StockStats is the dashboard snapshot of the stock position.
type StockStats struct {
	TotalValue       decimal.Decimal `json:"totalValue"`
	TotalItems       int64           `json:"totalItems"`
	LowStockItems    int64           `json:"lowStockItems"`
	OutOfStockItems  int64           `json:"outOfStockItems"`
	LastMovementDate *time.Time      `json:"lastMovementDate"`
	ComputedAt       time.Time       `json:"computedAt"`
}

// SourcePort computes the stats from primary storage.
type SourcePort interface {
	Compute(ctx context.Context) (StockStats, error)
}

// Repository computes stock statistics from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Compute aggregates the current stock position.
func (r *Repository) Compute(ctx context.Context) (StockStats, error) {
	var s StockStats
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(stock * cost_price), 0),
		       COALESCE(SUM(stock), 0),
		       COUNT(*) FILTER (WHERE stock > 0 AND stock <= min_stock),
		       COUNT(*) FILTER (WHERE stock = 0)
		FROM products`).
		Scan(&s.TotalValue, &s.TotalItems, &s.LowStockItems, &s.OutOfStockItems)
	if err != nil {
		return StockStats{}, err
	}
	err = r.pool.QueryRow(ctx, `SELECT MAX(movement_date) FROM stock_movements`).Scan(&s.LastMovementDate)
	if err != nil {
		return StockStats{}, err
	}
	s.TotalValue = s.TotalValue.Round(2)
	s.ComputedAt = time.Now().UTC()
	return s, nil
}

const cacheKey = "comptoir:stats:stock"

// Service serves stock stats with a Redis cache in front of the SQL
// aggregation. Concurrent cache misses are collapsed through
// singleflight so the aggregate query runs once.
type Service struct {
	logger *slog.Logger
	source SourcePort
	cache  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewService constructs Service. cache may be nil, in which case every
// read recomputes.
func NewService(logger *slog.Logger, source SourcePort, cache *redis.Client, ttl time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{logger: logger, source: source, cache: cache, ttl: ttl}
}

// StockStats returns the cached snapshot, recomputing on miss.
func (s *Service) StockStats(ctx context.Context) (StockStats, error) {
	if s.cache != nil {
		payload, err := s.cache.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var cached StockStats
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("stats cache read failed", slog.Any("error", err))
		}
	}

	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		computed, err := s.source.Compute(ctx)
		if err != nil {
			return nil, err
		}
		s.store(ctx, computed)
		return computed, nil
	})
	if err != nil {
		return StockStats{}, err
	}
	return v.(StockStats), nil
}

// Refresh recomputes and rewrites the cache, bypassing the TTL. The
// background warmup job calls this.
func (s *Service) Refresh(ctx context.Context) (StockStats, error) {
	computed, err := s.source.Compute(ctx)
	if err != nil {
		return StockStats{}, err
	}
	s.store(ctx, computed)
	return computed, nil
}

// Invalidate drops the cached snapshot, typically after a movement.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey).Err(); err != nil {
		s.logger.Warn("stats cache invalidate failed", slog.Any("error", err))
	}
}

func (s *Service) store(ctx context.Context, stats StockStats) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey, payload, s.ttl).Err(); err != nil {
		s.logger.Warn("stats cache write failed", slog.Any("error", err))
	}
}

// Handler serves GET /stock/stats.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the stats handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the stats route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stats", h.stockStats)
}

func (h *Handler) stockStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.StockStats(r.Context())
	if err != nil {
		h.logger.Error("compute stock stats failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}
