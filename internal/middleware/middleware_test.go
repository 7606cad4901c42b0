package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/moderation/internal/auth"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		id, _ := UserID(c)
		c.String(http.StatusOK, id.String())
	})
	r.GET("/", handlers...)
	return r
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	jwtService := auth.NewJWTService("secret", 1)
	userID := uuid.New()
	token, err := jwtService.GenerateToken(userID, "mod@example.com", models.RoleModerator)
	require.NoError(t, err)

	r := newRouter(AuthMiddleware(jwtService))

	w := do(r, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID.String(), w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "garbage").Code)
}

func TestRequireModerator(t *testing.T) {
	jwtService := auth.NewJWTService("secret", 1)
	r := newRouter(AuthMiddleware(jwtService), RequireModerator())

	tests := []struct {
		role string
		want int
	}{
		{models.RoleModerator, http.StatusOK},
		{models.RoleAdmin, http.StatusOK},
		{models.RoleMember, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			token, err := jwtService.GenerateToken(uuid.New(), "u@example.com", tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.want, do(r, token).Code)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	jwtService := auth.NewJWTService("secret", 1)
	token, err := jwtService.GenerateToken(uuid.New(), "u@example.com", models.RoleMember)
	require.NoError(t, err)

	r := newRouter(AuthMiddleware(jwtService), RateLimitMiddleware(NewRateLimiter(1)))

	// burst is 2x rps
	assert.Equal(t, http.StatusOK, do(r, token).Code)
	assert.Equal(t, http.StatusOK, do(r, token).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, token).Code)
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	rl.allow(uuid.New(), now.Add(-time.Hour))
	fresh := uuid.New()
	rl.allow(fresh, now)

	rl.evict(now.Add(-time.Minute))
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, fresh)
}

type stubLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (s *stubLimiter) AllowAction(context.Context, uuid.UUID, string, int, int) (bool, error) {
	s.calls++
	return s.allowed, s.err
}

func TestSharedRateLimitMiddleware(t *testing.T) {
	jwtService := auth.NewJWTService("secret", 1)
	token, err := jwtService.GenerateToken(uuid.New(), "u@example.com", models.RoleMember)
	require.NoError(t, err)

	tests := []struct {
		name    string
		limiter *stubLimiter
		want    int
	}{
		{"allowed", &stubLimiter{allowed: true}, http.StatusOK},
		{"limited", &stubLimiter{allowed: false}, http.StatusTooManyRequests},
		{"redis down fails open", &stubLimiter{err: errors.New("down")}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(AuthMiddleware(jwtService), SharedRateLimitMiddleware(tt.limiter, "flag", 5, zap.NewNop()))
			assert.Equal(t, tt.want, do(r, token).Code)
			assert.Equal(t, 1, tt.limiter.calls)
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:3000", "*.example.com"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:3000", "http://localhost:3000"},
		{"https://app.example.com", "https://app.example.com"},
		{"https://evilexample.com", ""},
		{"http://other.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := gin.New()
	r.Use(RequestLogger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/boom"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "/boom", entries[1].ContextMap()["path"])
}
