package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/config"
)

func newTestServer(t *testing.T) *Server {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)

	cfg := config.Config{
		Environment:    "test",
		HTTPPort:       "0",
		TokenSecret:    "test-token-secret",
		AdSecret:       "test-ad-secret",
		AdminJWTSecret: "test-admin-secret",
	}

	srv, err := New(db, cfg)
	assert.NoError(t, err)
	return srv
}

func adminToken(t *testing.T, secret string, admin bool) string {
	claims := jwt.MapClaims{
		"admin": admin,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	assert.NoError(t, err)
	return token
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServer_VerifyTokenRoute(t *testing.T) {
	srv := newTestServer(t)

	t.Run("malformed body", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/api/v1/verify/token", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.Engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("incomplete claim rejected", func(t *testing.T) {
		body := `{"deviceFingerprint":"device-1"}`
		req, _ := http.NewRequest("POST", "/api/v1/verify/token", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.Engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"success":false`)
		assert.Contains(t, w.Body.String(), "missing required fields")
	})
}

func TestServer_AdminAuth(t *testing.T) {
	srv := newTestServer(t)

	t.Run("no token", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/api/v1/admin/security/stats", nil)
		w := httptest.NewRecorder()
		srv.Engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("non-admin token", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/api/v1/admin/security/stats", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "test-admin-secret", false))
		w := httptest.NewRecorder()
		srv.Engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin token", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/api/v1/admin/security/stats", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "test-admin-secret", true))
		w := httptest.NewRecorder()
		srv.Engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"totalEvents"`)
	})
}

func TestServer_RequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
