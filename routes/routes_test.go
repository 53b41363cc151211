package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"minidrive/config"
	"minidrive/services"
	"minidrive/storage"
	"minidrive/store"
	"minidrive/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, origins []string) (*gin.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.JWTSecret = "router-test-secret"
	cfg.AllowedOrigins = origins

	st := store.NewMemoryStore()
	blobs := storage.NewMemoryStorage()
	perms := services.NewPermissionService(st)
	container := &ServiceContainer{
		NodeService:      services.NewNodeService(st, blobs, perms, cfg.MaxFileSize),
		ShareService:     services.NewShareService(st, perms, nil, nil),
		TrashService:     services.NewTrashService(st, cfg.TrashRetention),
		ArchiveService:   services.NewArchiveService(st, blobs, perms, nil, nil),
		AnalyticsService: services.NewAnalyticsService(st),
	}
	return NewRouter(container, cfg), cfg
}

func TestPublicEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	r, cfg := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := utils.GenerateToken("u1", "u1@example.com", "U1", cfg.JWTSecret, cfg.JWTIssuer, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCORS(t *testing.T) {
	r, _ := newTestRouter(t, []string{"https://app.example.com"})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/files", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := preflight("https://app.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight("https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
