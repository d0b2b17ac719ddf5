// Package handler содержит HTTP обработчики REST API платёжного сервиса.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/chess-portal/pkg/logger"
	"example.com/chess-portal/services/payment/internal/domain"
	"example.com/chess-portal/services/payment/internal/gateway"
	"example.com/chess-portal/services/payment/internal/service"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleServiceError преобразует ошибку бизнес-логики в HTTP ответ.
// Используется всеми handlers для единообразной обработки ошибок.
func HandleServiceError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	var httpStatus int
	var errorCode string
	message := err.Error()

	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrTournamentNotFound),
		errors.Is(err, domain.ErrRegistrationNotFound):
		httpStatus = http.StatusNotFound
		errorCode = "not_found"

	case errors.Is(err, domain.ErrForbidden):
		httpStatus = http.StatusForbidden
		errorCode = "forbidden"

	case errors.Is(err, domain.ErrDuplicateOrder):
		httpStatus = http.StatusConflict
		errorCode = "already_exists"

	case errors.Is(err, domain.ErrRefundNotAllowed),
		errors.Is(err, domain.ErrInvalidTransition):
		httpStatus = http.StatusConflict
		errorCode = "conflict"

	case errors.Is(err, domain.ErrInvalidAmount):
		httpStatus = http.StatusBadRequest
		errorCode = "invalid_request"

	case errors.Is(err, service.ErrPaymentInitFailed):
		httpStatus = http.StatusBadGateway
		errorCode = "payment_init_failed"

	case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, gateway.ErrTimeout):
		httpStatus = http.StatusServiceUnavailable
		errorCode = "gateway_unavailable"
		message = "Платёжный шлюз временно недоступен, попробуйте позже"

	default:
		httpStatus = http.StatusInternalServerError
		errorCode = "internal_error"
		message = "Внутренняя ошибка сервера"
		log.Error().Err(err).Str("method", method).Msg("Необработанная ошибка")
	}

	c.JSON(httpStatus, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
