// Package middleware содержит HTTP middleware платёжного сервиса.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/chess-portal/pkg/jwt"
	"example.com/chess-portal/pkg/logger"
	"example.com/chess-portal/services/payment/internal/domain"
)

// Ключи Gin контекста, заполняемые после аутентификации.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

// TokenValidator проверяет JWT токен и возвращает его claims.
// Реализуется pkg/jwt.Manager; интерфейс нужен для моков в тестах.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims — минимальный набор данных токена, нужный платёжному сервису.
type Claims struct {
	UserID string
	Role   string
}

// JWTValidator адаптирует pkg/jwt.Manager под TokenValidator.
type JWTValidator struct {
	manager *jwt.Manager
}

// NewJWTValidator создаёт валидатор поверх менеджера JWT.
func NewJWTValidator(manager *jwt.Manager) *JWTValidator {
	return &JWTValidator{manager: manager}
}

// ValidateToken проверяет подпись и срок действия токена.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := v.manager.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &Claims{UserID: claims.UserID, Role: claims.Role}, nil
}

// AuthMiddleware проверяет JWT токены портала.
// Токены подписаны RS256 ключом сервиса учётных записей, платёжный
// сервис валидирует их локально по публичному ключу.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware создаёт middleware аутентификации.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c.Request.Context())

		token := extractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			log.Warn().Err(err).Msg("Невалидный токен")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Токен недействителен",
			})
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)

		log.Debug().
			Str("user_id", claims.UserID).
			Str("role", claims.Role).
			Msg("Пользователь аутентифицирован")

		c.Next()
	}
}

// RequireAdmin пропускает только администраторов.
// Ставится после AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if RoleFromContext(c) != domain.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Операция доступна только администратору",
			})
			return
		}
		c.Next()
	}
}

// UserIDFromContext возвращает ID аутентифицированного пользователя.
func UserIDFromContext(c *gin.Context) string {
	return c.GetString(CtxUserID)
}

// RoleFromContext возвращает роль аутентифицированного пользователя.
func RoleFromContext(c *gin.Context) domain.UserRole {
	return domain.UserRole(c.GetString(CtxRole))
}

// extractBearerToken извлекает токен из заголовка Authorization.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
