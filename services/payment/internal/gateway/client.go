// Package gateway — HTTP клиент платёжного шлюза (HDFC SmartGateway, API в стиле Juspay).
// Инкапсулирует всё сетевое взаимодействие с провайдером: создание платёжной
// сессии, запрос статуса заказа, возврат средств. В БД не пишет.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/chess-portal/pkg/circuitbreaker"
	"example.com/chess-portal/pkg/config"
	"example.com/chess-portal/pkg/logger"
	"example.com/chess-portal/pkg/metrics"
)

// Ошибки транспортного уровня. Для вызывающего кода это инфраструктурные
// сбои, а не результат платежа: заказ при них не считается оплаченным
// или отклонённым провайдером.
var (
	// ErrUnavailable — провайдер недоступен или вернул неразборчивый ответ.
	ErrUnavailable = errors.New("платёжный шлюз недоступен")

	// ErrTimeout — запрос к провайдеру прерван по таймауту.
	ErrTimeout = errors.New("таймаут запроса к платёжному шлюзу")
)

// Customer — данные покупателя для платёжной сессии.
type Customer struct {
	ID        string
	Email     string
	Phone     string
	FirstName string
	LastName  string
}

// SessionRequest — параметры создания платёжной сессии.
type SessionRequest struct {
	OrderID     string   // Внешний идентификатор заказа (DCA_...)
	Amount      int64    // Сумма в рупиях, > 0
	Currency    string   // ISO 4217
	Customer    Customer // Данные покупателя
	ReturnURL   string   // Абсолютный URL возврата с order_id в query
	Description string   // Описание на странице оплаты
}

// PaymentLinks — ссылки на страницу оплаты провайдера.
type PaymentLinks struct {
	Web    string `json:"web"`
	Mobile string `json:"mobile"`
	Iframe string `json:"iframe"`
}

// SessionResult — результат создания платёжной сессии.
type SessionResult struct {
	ProviderStatus  string          `json:"status"`
	ProviderOrderID string          `json:"order_id"`
	PaymentLinks    PaymentLinks    `json:"payment_links"`
	SDKPayload      json.RawMessage `json:"sdk_payload"`
}

// OrderStatusResult — статус заказа по данным провайдера.
// Poll API отдаёт числовой код статуса, webhook — строковый;
// здесь присутствуют оба представления.
type OrderStatusResult struct {
	Status        string  `json:"status"`
	StatusID      int     `json:"status_id"`
	TxnID         string  `json:"txn_id"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	Raw           []byte  `json:"-"` // Сырой ответ для аудита
}

// RefundResult — результат запроса на возврат.
type RefundResult struct {
	Status    string `json:"status"`
	RefundID  string `json:"refund_id"`
	RequestID string `json:"-"` // Использованный ключ идемпотентности
	Raw       []byte `json:"-"`
}

// Client — HTTP клиент провайдера. Потокобезопасен.
type Client struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClient создаёт клиент платёжного шлюза.
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			// Жёсткий таймаут: медленный провайдер не должен
			// исчерпать соединения сервера.
			Timeout: cfg.Timeout,
		},
		breaker: circuitbreaker.New("payment-gateway"),
	}
}

// CreateSession открывает платёжную сессию у провайдера.
// Любой не-2xx ответ или неразборчивый JSON — ErrUnavailable:
// инфраструктурный сбой, не результат платежа.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("сумма платёжной сессии должна быть больше нуля")
	}
	if !strings.HasPrefix(req.ReturnURL, "http://") && !strings.HasPrefix(req.ReturnURL, "https://") {
		return nil, fmt.Errorf("return_url должен быть абсолютным URL: %s", req.ReturnURL)
	}

	body := map[string]any{
		"order_id":               req.OrderID,
		"amount":                 fmt.Sprintf("%d.00", req.Amount),
		"currency":               req.Currency,
		"customer_id":            req.Customer.ID,
		"customer_email":         req.Customer.Email,
		"customer_phone":         req.Customer.Phone,
		"first_name":             req.Customer.FirstName,
		"last_name":              req.Customer.LastName,
		"payment_page_client_id": c.cfg.ClientID,
		"action":                 "paymentPage",
		"return_url":             req.ReturnURL,
		"description":            req.Description,
	}

	data, status, err := c.doJSON(ctx, http.MethodPost, "/session", body)
	if err != nil {
		return nil, c.classifyTransportErr("create_session", err)
	}
	if status < 200 || status >= 300 {
		metrics.GatewayErrors.WithLabelValues("create_session", "unavailable").Inc()
		log := logger.FromContext(ctx)
		log.Error().
			Int("http_status", status).
			Str("gateway_order_id", req.OrderID).
			Msg("Провайдер отклонил создание платёжной сессии")
		return nil, fmt.Errorf("создание сессии: статус %d: %w", status, ErrUnavailable)
	}

	var result SessionResult
	if err := json.Unmarshal(data, &result); err != nil {
		metrics.GatewayErrors.WithLabelValues("create_session", "unavailable").Inc()
		return nil, fmt.Errorf("неразборчивый ответ провайдера: %w", ErrUnavailable)
	}
	return &result, nil
}

// OrderStatus запрашивает статус заказа у провайдера.
// Используется и для poll-пути, и как источник истины поверх
// потенциально подделанного callback.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*OrderStatusResult, error) {
	data, status, err := c.doForm(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, c.classifyTransportErr("order_status", err)
	}
	if status < 200 || status >= 300 {
		metrics.GatewayErrors.WithLabelValues("order_status", "unavailable").Inc()
		return nil, fmt.Errorf("статус заказа %s: статус %d: %w", orderID, status, ErrUnavailable)
	}

	var result OrderStatusResult
	if err := json.Unmarshal(data, &result); err != nil {
		metrics.GatewayErrors.WithLabelValues("order_status", "unavailable").Inc()
		return nil, fmt.Errorf("неразборчивый ответ провайдера: %w", ErrUnavailable)
	}
	result.Raw = data
	return &result, nil
}

// Refund запрашивает возврат средств.
// requestID — ключ идемпотентности: при пустом значении генерируется
// временной, чтобы повтор запроса не привёл к двойному возврату.
func (c *Client) Refund(ctx context.Context, orderID string, amount int64, requestID string) (*RefundResult, error) {
	if requestID == "" {
		requestID = fmt.Sprintf("rfnd_%d", time.Now().UnixNano())
	}

	form := url.Values{}
	form.Set("unique_request_id", requestID)
	form.Set("amount", fmt.Sprintf("%d.00", amount))

	data, status, err := c.doForm(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/refunds", form)
	if err != nil {
		return nil, c.classifyTransportErr("refund", err)
	}
	if status < 200 || status >= 300 {
		metrics.GatewayErrors.WithLabelValues("refund", "unavailable").Inc()
		return nil, fmt.Errorf("возврат по заказу %s: статус %d: %w", orderID, status, ErrUnavailable)
	}

	var result RefundResult
	if err := json.Unmarshal(data, &result); err != nil {
		metrics.GatewayErrors.WithLabelValues("refund", "unavailable").Inc()
		return nil, fmt.Errorf("неразборчивый ответ провайдера: %w", ErrUnavailable)
	}
	result.RequestID = requestID
	result.Raw = data
	return &result, nil
}

// doJSON выполняет запрос с JSON телом.
func (c *Client) doJSON(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("сериализация тела запроса: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(encoded), "application/json")
}

// doForm выполняет запрос с form-encoded телом (формат провайдера по умолчанию).
func (c *Client) doForm(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}
	return c.do(ctx, method, path, reader, "application/x-www-form-urlencoded")
}

// do выполняет HTTP запрос через circuit breaker.
// Транспортные ошибки и 5xx учитываются в статистике breaker,
// бизнес-ответы провайдера (4xx) — нет.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("создание запроса: %w", err)
	}

	// Basic-auth из API ключа, пароль пустой.
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.cfg.APIKey+":")))
	req.Header.Set("x-merchantid", c.cfg.MerchantID)
	req.Header.Set("version", c.cfg.Version)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	var (
		data       []byte
		statusCode int
	)

	execErr := c.breaker.Execute(func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("чтение ответа провайдера: %w", err)
		}
		statusCode = resp.StatusCode

		// 5xx открывает breaker, 4xx — бизнес-ответ провайдера.
		if resp.StatusCode >= 500 {
			return fmt.Errorf("провайдер вернул %d", resp.StatusCode)
		}
		return nil
	})

	if execErr != nil {
		// 5xx дошёл до вызывающего кода вместе с телом ответа.
		if statusCode >= 500 {
			return data, statusCode, nil
		}
		return nil, 0, execErr
	}

	return data, statusCode, nil
}

// classifyTransportErr переводит транспортную ошибку в типизированную.
func (c *Client) classifyTransportErr(operation string, err error) error {
	if isTimeout(err) {
		metrics.GatewayErrors.WithLabelValues(operation, "timeout").Inc()
		return fmt.Errorf("%s: %w", operation, ErrTimeout)
	}
	metrics.GatewayErrors.WithLabelValues(operation, "unavailable").Inc()
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%s: %w: %w", operation, circuitbreaker.ErrOpen, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", operation, err, ErrUnavailable)
}

// isTimeout распознаёт таймаут среди транспортных ошибок.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
