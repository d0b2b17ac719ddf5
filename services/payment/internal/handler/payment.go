package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/chess-portal/pkg/logger"
	"example.com/chess-portal/services/payment/internal/domain"
	"example.com/chess-portal/services/payment/internal/middleware"
	"example.com/chess-portal/services/payment/internal/reconcile"
	"example.com/chess-portal/services/payment/internal/service"
)

// PaymentService — операции бизнес-логики, нужные обработчику.
type PaymentService interface {
	InitiateMembership(ctx context.Context, userID string) (*service.InitiateResult, error)
	InitiateTournament(ctx context.Context, userID, registrationID string) (*service.InitiateResult, error)
	InitiateCertification(ctx context.Context, userID string) (*service.InitiateResult, error)
	HandleCallback(ctx context.Context, params map[string]string) (*reconcile.Result, error)
	GetStatus(ctx context.Context, userID string, role domain.UserRole, gatewayOrderID string) (*service.StatusResult, error)
	GetHistory(ctx context.Context, userID string, page, limit int) ([]*domain.PaymentOrder, int64, error)
	Refund(ctx context.Context, gatewayOrderID string) (*domain.PaymentOrder, error)
}

// PaymentHandler — обработчик платёжных запросов.
type PaymentHandler struct {
	service PaymentService
}

// NewPaymentHandler создаёт обработчик платежей.
func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{service: svc}
}

// === Request/Response DTOs ===

// InitiateTournamentRequest — запрос на оплату турнирного взноса.
type InitiateTournamentRequest struct {
	RegistrationID string `json:"registration_id" binding:"required"`
}

// PaymentLinksResponse — ссылки на страницу оплаты.
type PaymentLinksResponse struct {
	Web    string `json:"web"`
	Mobile string `json:"mobile,omitempty"`
	Iframe string `json:"iframe,omitempty"`
}

// InitiateResponse — ответ на инициацию платежа.
type InitiateResponse struct {
	OrderID      string               `json:"order_id"`
	Purpose      string               `json:"purpose"`
	Amount       int64                `json:"amount"`
	Currency     string               `json:"currency"`
	Status       string               `json:"status"`
	PaymentLinks PaymentLinksResponse `json:"payment_links"`
}

// StatusResponse — ответ на проверку статуса заказа.
type StatusResponse struct {
	OrderID    string `json:"order_id"`
	Purpose    string `json:"purpose"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	ReceiptNo  string `json:"receipt_no,omitempty"`
	DistrictID string `json:"district_id,omitempty"`
	Stale      bool   `json:"stale,omitempty"`
}

// HistoryResponse — страница платёжной истории.
type HistoryResponse struct {
	Payments   []StatusResponse   `json:"payments"`
	Pagination PaginationResponse `json:"pagination"`
}

// PaginationResponse — информация о пагинации.
type PaginationResponse struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
}

// orderResponse собирает DTO заказа.
func orderResponse(order *domain.PaymentOrder) StatusResponse {
	resp := StatusResponse{
		OrderID:  order.GatewayOrderID,
		Purpose:  string(order.Purpose),
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   string(order.Status),
	}
	if order.ReceiptNo != nil {
		resp.ReceiptNo = *order.ReceiptNo
	}
	return resp
}

func initiateResponse(result *service.InitiateResult) InitiateResponse {
	return InitiateResponse{
		OrderID:  result.Order.GatewayOrderID,
		Purpose:  string(result.Order.Purpose),
		Amount:   result.Order.Amount,
		Currency: result.Order.Currency,
		Status:   string(result.Order.Status),
		PaymentLinks: PaymentLinksResponse{
			Web:    result.PaymentLinks.Web,
			Mobile: result.PaymentLinks.Mobile,
			Iframe: result.PaymentLinks.Iframe,
		},
	}
}

// === Handlers ===

// InitiateMembership начинает оплату членского взноса.
// POST /api/v1/payments/membership
func (h *PaymentHandler) InitiateMembership(c *gin.Context) {
	result, err := h.service.InitiateMembership(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		HandleServiceError(c, err, "InitiateMembership")
		return
	}
	c.JSON(http.StatusCreated, initiateResponse(result))
}

// InitiateTournament начинает оплату турнирного взноса.
// POST /api/v1/payments/tournament
func (h *PaymentHandler) InitiateTournament(c *gin.Context) {
	var req InitiateTournamentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log := logger.FromContext(c.Request.Context())
		log.Debug().Err(err).Msg("Невалидный запрос на оплату турнира")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	result, err := h.service.InitiateTournament(c.Request.Context(),
		middleware.UserIDFromContext(c), req.RegistrationID)
	if err != nil {
		HandleServiceError(c, err, "InitiateTournament")
		return
	}
	c.JSON(http.StatusCreated, initiateResponse(result))
}

// InitiateCertification начинает оплату сбора за сертификацию арбитра.
// POST /api/v1/payments/certification
func (h *PaymentHandler) InitiateCertification(c *gin.Context) {
	result, err := h.service.InitiateCertification(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		HandleServiceError(c, err, "InitiateCertification")
		return
	}
	c.JSON(http.StatusCreated, initiateResponse(result))
}

// Callback принимает уведомление провайдера о результате платежа.
// POST /api/v1/payments/callback
//
// Публичный endpoint без аутентификации: провайдер не умеет JWT.
// По найденному заказу всегда отвечаем 200, иначе провайдер будет
// ретраить доставку бесконечно. Невалидная подпись и нераспознанный
// статус тоже подтверждаются — но заказ при этом не сверяется, его
// добирает фоновый опрос.
func (h *PaymentHandler) Callback(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())

	params := callbackParams(c)

	result, err := h.service.HandleCallback(c.Request.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			log.Warn().Str("order_id", params["order_id"]).Msg("Callback по неизвестному заказу")
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Заказ не найден",
			})
		case errors.Is(err, domain.ErrSignatureInvalid), errors.Is(err, domain.ErrAmbiguousStatus):
			c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
		default:
			HandleServiceError(c, err, "Callback")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"order_id": result.Order.GatewayOrderID,
		"outcome":  result.Outcome.String(),
	})
}

// GetStatus возвращает актуальный статус заказа.
// GET /api/v1/payments/status/:orderId
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	result, err := h.service.GetStatus(c.Request.Context(),
		middleware.UserIDFromContext(c), middleware.RoleFromContext(c), c.Param("orderId"))
	if err != nil {
		HandleServiceError(c, err, "GetStatus")
		return
	}

	resp := orderResponse(result.Order)
	resp.Stale = result.Stale
	c.JSON(http.StatusOK, resp)
}

// GetHistory возвращает страницу платёжной истории пользователя.
// GET /api/v1/payments/history?page=1&limit=20
func (h *PaymentHandler) GetHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	orders, total, err := h.service.GetHistory(c.Request.Context(), middleware.UserIDFromContext(c), page, limit)
	if err != nil {
		HandleServiceError(c, err, "GetHistory")
		return
	}

	payments := make([]StatusResponse, 0, len(orders))
	for _, order := range orders {
		payments = append(payments, orderResponse(order))
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Payments: payments,
		Pagination: PaginationResponse{
			CurrentPage: page,
			PageSize:    limit,
			TotalItems:  total,
		},
	})
}

// Refund выполняет возврат средств по заказу.
// POST /api/v1/payments/:orderId/refund (только администратор)
func (h *PaymentHandler) Refund(c *gin.Context) {
	order, err := h.service.Refund(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		HandleServiceError(c, err, "Refund")
		return
	}
	c.JSON(http.StatusOK, orderResponse(order))
}

// callbackParams собирает параметры callback из form тела и query.
// Провайдер шлёт form-encoded POST; часть интеграций дублирует
// параметры в query строке return_url.
func callbackParams(c *gin.Context) map[string]string {
	params := make(map[string]string)

	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	if err := c.Request.ParseForm(); err == nil {
		for key, values := range c.Request.PostForm {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
	}
	return params
}
