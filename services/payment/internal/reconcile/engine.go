// Package reconcile реализует сверку платёжных заказов с провайдером.
// Единственная точка, через которую callback и фоновый опрос приводят
// заказ к финальному статусу: вся идемпотентность и защита от гонок
// живут здесь и в транзакции репозитория.
package reconcile

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/chess-portal/pkg/logger"
	"example.com/chess-portal/pkg/metrics"
	"example.com/chess-portal/services/payment/internal/domain"
	"example.com/chess-portal/services/payment/internal/gateway"
	"example.com/chess-portal/services/payment/internal/repository"
)

// lockTTL — время жизни advisory блокировки сверки в Redis.
// Страхует от зависшей блокировки при падении воркера.
const lockTTL = 30 * time.Second

// StatusPoller запрашивает авторитетный статус заказа у провайдера.
type StatusPoller interface {
	OrderStatus(ctx context.Context, gatewayOrderID string) (*gateway.OrderStatusResult, error)
}

// Result — итог одного прохода сверки.
type Result struct {
	Order   *domain.PaymentOrder
	Outcome gateway.Outcome

	// Applied=true означает, что именно этот проход перевёл заказ
	// в финальный статус и выполнил побочные эффекты.
	Applied bool

	// DistrictID — членский номер, выданный этим проходом (если выдан).
	DistrictID string
}

// Engine выполняет сверку статуса заказа с провайдером.
type Engine struct {
	orders    repository.OrderRepository
	poller    StatusPoller
	validator *gateway.SignatureValidator
	redis     *redis.Client
}

// NewEngine создаёт движок сверки.
// redisClient может быть nil: advisory блокировка фонового опроса
// тогда отключена, корректность обеспечивает транзакция репозитория.
func NewEngine(orders repository.OrderRepository, poller StatusPoller, validator *gateway.SignatureValidator, redisClient *redis.Client) *Engine {
	return &Engine{
		orders:    orders,
		poller:    poller,
		validator: validator,
		redis:     redisClient,
	}
}

// ReconcileCallback обрабатывает callback провайдера.
// Порядок строгий: существование заказа → подпись → классификация →
// финализация. Невалидная подпись не меняет заказ — он остаётся
// PENDING и будет добран фоновым опросом.
func (e *Engine) ReconcileCallback(ctx context.Context, gatewayOrderID string, params map[string]string) (*Result, error) {
	log := logger.FromContext(ctx)

	order, err := e.orders.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}

	// Повторный callback по финализированному заказу — штатная ситуация
	// (провайдер ретраит доставку), отвечаем без повторной сверки.
	if order.Status.IsTerminal() {
		log.Info().
			Str("gateway_order_id", gatewayOrderID).
			Str("status", string(order.Status)).
			Msg("Callback по финализированному заказу, сверка не требуется")
		return &Result{Order: order, Outcome: outcomeForStatus(order.Status), Applied: false}, nil
	}

	if !e.validator.Validate(params) {
		log.Warn().
			Str("gateway_order_id", gatewayOrderID).
			Msg("Callback с невалидной подписью отклонён")
		return nil, domain.ErrSignatureInvalid
	}

	outcome, paymentID, raw := e.classify(ctx, gatewayOrderID, params)
	return e.finalize(ctx, order, outcome, paymentID, raw)
}

// ReconcilePoll сверяет заказ по прямому запросу статуса у провайдера.
// Используется endpoint'ом проверки статуса и фоновым обходом зависших
// PENDING заказов.
func (e *Engine) ReconcilePoll(ctx context.Context, gatewayOrderID string) (*Result, error) {
	order, err := e.orders.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}

	if order.Status.IsTerminal() {
		return &Result{Order: order, Outcome: outcomeForStatus(order.Status), Applied: false}, nil
	}

	// Advisory блокировка против дублирующего опроса из нескольких
	// реплик. Redis недоступен — работаем без неё: финализация в БД
	// идемпотентна, блокировка лишь экономит запросы к провайдеру.
	acquired, release := e.tryLock(ctx, gatewayOrderID)
	if !acquired {
		log := logger.FromContext(ctx)
		log.Debug().
			Str("gateway_order_id", gatewayOrderID).
			Msg("Сверка уже выполняется другим воркером, пропуск")
		return &Result{Order: order, Outcome: gateway.OutcomePending, Applied: false}, nil
	}
	defer release()

	status, err := e.poller.OrderStatus(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}

	return e.finalize(ctx, order, gateway.ClassifyResult(status), status.TxnID, status.Raw)
}

// classify определяет исход платежа для callback.
// Первичный источник — прямой опрос провайдера: callback приходит по
// открытому каналу и его тело доверия не заслуживает даже с подписью.
// Опрос недоступен — деградируем до классификации тела callback.
func (e *Engine) classify(ctx context.Context, gatewayOrderID string, params map[string]string) (gateway.Outcome, string, []byte) {
	log := logger.FromContext(ctx)

	status, err := e.poller.OrderStatus(ctx, gatewayOrderID)
	if err == nil {
		return gateway.ClassifyResult(status), status.TxnID, status.Raw
	}

	log.Warn().Err(err).
		Str("gateway_order_id", gatewayOrderID).
		Msg("Опрос статуса недоступен, классификация по телу callback")

	if code, convErr := strconv.Atoi(params["status_id"]); convErr == nil && code != 0 {
		return gateway.ClassifyCode(code), params["txn_id"], nil
	}
	return gateway.ClassifyStatus(params["status"]), params["txn_id"], nil
}

// finalize применяет классифицированный исход к заказу.
func (e *Engine) finalize(ctx context.Context, order *domain.PaymentOrder, outcome gateway.Outcome, paymentID string, raw []byte) (*Result, error) {
	log := logger.FromContext(ctx)
	now := time.Now()

	switch outcome {
	case gateway.OutcomeSuccess:
		fin, err := e.orders.FinalizeSuccess(ctx, repository.FinalizeSuccessParams{
			GatewayOrderID:   order.GatewayOrderID,
			GatewayPaymentID: paymentID,
			GatewayResponse:  raw,
			Now:              now,
		})
		if err != nil {
			return nil, err
		}
		if fin.Applied {
			metrics.PaymentsReconciled.WithLabelValues(string(order.Purpose), outcome.String()).Inc()
			log.Info().
				Str("gateway_order_id", order.GatewayOrderID).
				Str("purpose", string(order.Purpose)).
				Str("receipt_no", derefString(fin.Order.ReceiptNo)).
				Msg("Платёж успешно финализирован")
		}
		return &Result{Order: fin.Order, Outcome: outcome, Applied: fin.Applied, DistrictID: fin.DistrictID}, nil

	case gateway.OutcomeFailed:
		fin, err := e.orders.FinalizeFailure(ctx, repository.FinalizeFailureParams{
			GatewayOrderID:   order.GatewayOrderID,
			Status:           domain.OrderStatusFailed,
			GatewayPaymentID: paymentID,
			GatewayResponse:  raw,
			Now:              now,
		})
		if err != nil {
			return nil, err
		}
		if fin.Applied {
			metrics.PaymentsReconciled.WithLabelValues(string(order.Purpose), outcome.String()).Inc()
			log.Info().
				Str("gateway_order_id", order.GatewayOrderID).
				Msg("Платёж отклонён провайдером, заказ переведён в FAILED")
		}
		return &Result{Order: fin.Order, Outcome: outcome, Applied: fin.Applied}, nil

	case gateway.OutcomePending:
		log.Info().
			Str("gateway_order_id", order.GatewayOrderID).
			Msg("Платёж ещё в обработке у провайдера, заказ остаётся PENDING")
		return &Result{Order: order, Outcome: outcome, Applied: false}, nil
	}

	// Нераспознанный статус: заказ не трогаем, деньги могли списаться.
	// Решение об исходе принимает оператор или следующий проход опроса.
	metrics.PaymentsReconciled.WithLabelValues(string(order.Purpose), "ambiguous").Inc()
	log.Warn().
		Str("gateway_order_id", order.GatewayOrderID).
		Msg("Нераспознанный статус провайдера, заказ оставлен в PENDING")
	return nil, domain.ErrAmbiguousStatus
}

// tryLock берёт advisory блокировку сверки заказа в Redis.
// Возвращает флаг захвата и функцию освобождения.
func (e *Engine) tryLock(ctx context.Context, gatewayOrderID string) (bool, func()) {
	if e.redis == nil {
		return true, func() {}
	}

	key := "payment:reconcile:" + gatewayOrderID

	ok, err := e.redis.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		// Redis недоступен — сверку не блокируем.
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Msg("Redis недоступен для блокировки сверки, продолжаем без неё")
		return true, func() {}
	}
	if !ok {
		return false, func() {}
	}

	return true, func() {
		if err := e.redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil && !errors.Is(err, redis.Nil) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).
				Msg("Не удалось снять блокировку сверки")
		}
	}
}

// outcomeForStatus отображает финальный статус заказа в исход сверки.
func outcomeForStatus(s domain.OrderStatus) gateway.Outcome {
	switch s {
	case domain.OrderStatusSuccess, domain.OrderStatusRefunded:
		return gateway.OutcomeSuccess
	case domain.OrderStatusFailed, domain.OrderStatusCancelled:
		return gateway.OutcomeFailed
	}
	return gateway.OutcomePending
}

// derefString возвращает значение указателя или пустую строку.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
