package inventory

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestListReportsQueriedPageSize(t *testing.T) {
	s := newStore()
	s.seedProduct(1, "P1", 20, "4.00")
	svc := newTestService(s)
	mustCreate(t, svc, ScopeInStock)

	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	router := chi.NewRouter()
	h.MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Pagination.Page)
	require.Equal(t, 50, resp.Pagination.PerPage, "metadata must match the page size actually queried")
	require.Len(t, resp.Inventories, 1)
}
