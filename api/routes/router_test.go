package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"scanpilot/internal/metrics"
	"scanpilot/internal/registry"
	"scanpilot/internal/services"
	"scanpilot/pkg/engine"
	"scanpilot/pkg/logger"
	"scanpilot/pkg/runner"
	"scanpilot/pkg/testutil"
	"scanpilot/pkg/tools"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newRouterWithLogger(t, logger.Discard())
}

func newRouterWithLogger(t *testing.T, log *logger.Logger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New(log)
	executor := engine.NewExecutor(runner.NewToolRunner(testutil.NewMockCommandRunner(), log), nil, log)
	orch := services.NewOrchestrator(reg, tools.DefaultCatalog(), executor, log)

	return InitRouter(Dependencies{
		Scans:          orch,
		Metrics:        metrics.New(),
		AllowedOrigins: []string{"http://localhost:5173"},
		Logger:         log,
	})
}

func TestRouterServesAmbientEndpoints(t *testing.T) {
	router := newRouter(t)

	for _, path := range []string{"/healthz", "/metrics", "/", "/api/scans", "/api/tools", "/api/findings"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouterUnknownScan(t *testing.T) {
	router := newRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/scans/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/scans/missing/cancel", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scans/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterCORS(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/scans", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterTagsRequestsWithID(t *testing.T) {
	log := logger.Discard()
	log.SetLevel(logrus.DebugLevel)
	hook := test.NewLocal(log.Logger)
	router := newRouterWithLogger(t, log)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	generated := w.Header().Get("X-Request-ID")
	require.NotEmpty(t, generated)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "HTTP request", entry.Message)
	assert.Equal(t, generated, entry.Data["request_id"])
	assert.Equal(t, "/healthz", entry.Data["path"])

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-42", hook.LastEntry().Data["request_id"])
}
