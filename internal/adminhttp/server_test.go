package adminhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/pipeline/internal/clock"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/store"
)

func testEngine(t *testing.T) *queue.Engine {
	t.Helper()
	return queue.NewEngine(store.NewMemory(), clock.Real{})
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	h := New(testEngine(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandleStatsReturnsJSON(t *testing.T) {
	h := New(testEngine(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.String())
}

func TestHandleStatsRejectsWrongMethod(t *testing.T) {
	h := New(testEngine(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/stats", nil)

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
