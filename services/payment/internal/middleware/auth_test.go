package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"example.com/chess-portal/services/payment/internal/domain"
)

// fakeValidator — мок TokenValidator.
type fakeValidator struct {
	claims *Claims
	err    error
}

func (f *fakeValidator) ValidateToken(_ string) (*Claims, error) {
	return f.claims, f.err
}

func setupAuthRouter(validator TokenValidator, adminOnly bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handlers := []gin.HandlerFunc{NewAuthMiddleware(validator).Handle()}
	if adminOnly {
		handlers = append(handlers, RequireAdmin())
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": UserIDFromContext(c),
			"role":    string(RoleFromContext(c)),
		})
	})

	router.GET("/protected", handlers...)
	return router
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("без токена — 401", func(t *testing.T) {
		router := setupAuthRouter(&fakeValidator{}, false)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("невалидный токен — 401", func(t *testing.T) {
		router := setupAuthRouter(&fakeValidator{err: errors.New("подпись не сходится")}, false)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("валидный токен кладёт пользователя в контекст", func(t *testing.T) {
		router := setupAuthRouter(&fakeValidator{claims: &Claims{UserID: "user-1", Role: "PLAYER"}}, false)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "user-1")
		assert.Contains(t, w.Body.String(), "PLAYER")
	})

	t.Run("заголовок без префикса Bearer — 401", func(t *testing.T) {
		router := setupAuthRouter(&fakeValidator{claims: &Claims{UserID: "user-1"}}, false)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Basic dGVzdDo=")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	t.Run("игрок — 403", func(t *testing.T) {
		router := setupAuthRouter(&fakeValidator{claims: &Claims{UserID: "user-1", Role: string(domain.RolePlayer)}}, true)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("администратор проходит", func(t *testing.T) {
		router := setupAuthRouter(&fakeValidator{claims: &Claims{UserID: "admin-1", Role: string(domain.RoleAdmin)}}, true)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
