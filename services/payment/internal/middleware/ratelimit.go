package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/chess-portal/pkg/logger"
)

// RateLimitMiddleware ограничивает частоту запросов по IP адресу.
// Счётчики живут в Redis (fixed window counter). Инициация платежей —
// дорогая операция с походом к провайдеру, без лимита её легко
// использовать для забивания платёжной сессии мусором.
type RateLimitMiddleware struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

// RateLimitConfig — конфигурация rate limiter.
type RateLimitConfig struct {
	Redis  *redis.Client
	Limit  int           // Лимит запросов (по умолчанию 60)
	Window time.Duration // Временное окно (по умолчанию 1 минута)
}

// NewRateLimitMiddleware создаёт middleware ограничения частоты запросов.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimitMiddleware{
		redis:  cfg.Redis,
		limit:  cfg.Limit,
		window: cfg.Window,
	}
}

// incrScript атомарно инкрементирует счётчик окна и выставляет TTL
// при первом запросе.
var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// Handle возвращает Gin handler function для middleware.
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		key := fmt.Sprintf("payment:rate:%s", c.ClientIP())

		count, err := incrScript.Run(ctx, m.redis, []string{key}, int(m.window.Seconds())).Int()
		if err != nil {
			// Redis недоступен — запросы пропускаем (fail-open):
			// платёжный сервис важнее лимита.
			log.Warn().Err(err).Msg("Ошибка проверки rate limit, запрос пропущен")
			c.Next()
			return
		}

		remaining := m.limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", m.limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > m.limit {
			log.Warn().
				Str("client_ip", c.ClientIP()).
				Int("limit", m.limit).
				Msg("Rate limit превышен")

			c.Header("Retry-After", fmt.Sprintf("%d", int(m.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", int(m.window.Seconds())),
			})
			return
		}

		c.Next()
	}
}
