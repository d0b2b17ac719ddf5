// Package service содержит бизнес-логику платёжного сервиса:
// инициация платежей с серверным расчётом суммы, обработка callback,
// проверка статуса, история и административные возвраты.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"example.com/chess-portal/pkg/config"
	"example.com/chess-portal/pkg/logger"
	"example.com/chess-portal/pkg/metrics"
	"example.com/chess-portal/services/payment/internal/domain"
	"example.com/chess-portal/services/payment/internal/gateway"
	"example.com/chess-portal/services/payment/internal/reconcile"
	"example.com/chess-portal/services/payment/internal/repository"
)

// ErrPaymentInitFailed — обобщённая ошибка инициации платежа.
// Сырой текст ошибки провайдера наружу не выходит: он может содержать
// внутренние детали интеграции.
var ErrPaymentInitFailed = errors.New("не удалось инициировать платёж, попробуйте позже")

// GatewayClient — операции провайдера, нужные сервису напрямую.
// Статус заказа опрашивает движок сверки.
type GatewayClient interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.SessionResult, error)
	Refund(ctx context.Context, orderID string, amount int64, requestID string) (*gateway.RefundResult, error)
}

// Reconciler — движок сверки платежей.
type Reconciler interface {
	ReconcileCallback(ctx context.Context, gatewayOrderID string, params map[string]string) (*reconcile.Result, error)
	ReconcilePoll(ctx context.Context, gatewayOrderID string) (*reconcile.Result, error)
}

// InitiateResult — ответ на инициацию платежа.
type InitiateResult struct {
	Order        *domain.PaymentOrder
	PaymentLinks gateway.PaymentLinks
	SDKPayload   []byte
}

// StatusResult — ответ на проверку статуса заказа.
type StatusResult struct {
	Order   *domain.PaymentOrder
	Outcome gateway.Outcome

	// Stale=true означает, что провайдер был недоступен и показан
	// последний известный статус из БД.
	Stale bool
}

// PaymentService — бизнес-логика платежей.
type PaymentService struct {
	orders      repository.OrderRepository
	users       repository.UserRepository
	tournaments repository.TournamentRepository
	gateway     GatewayClient
	reconciler  Reconciler
	cfg         config.GatewayConfig
}

// NewPaymentService создаёт платёжный сервис.
func NewPaymentService(
	orders repository.OrderRepository,
	users repository.UserRepository,
	tournaments repository.TournamentRepository,
	gatewayClient GatewayClient,
	reconciler Reconciler,
	cfg config.GatewayConfig,
) *PaymentService {
	return &PaymentService{
		orders:      orders,
		users:       users,
		tournaments: tournaments,
		gateway:     gatewayClient,
		reconciler:  reconciler,
		cfg:         cfg,
	}
}

// InitiateMembership начинает оплату членского взноса.
// Первичное членство или продление определяется по наличию членства
// у пользователя, сумма — по его роли. Суммы с клиента не принимаются.
func (s *PaymentService) InitiateMembership(ctx context.Context, userID string) (*InitiateResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	amount, err := membershipFee(user.Role)
	if err != nil {
		return nil, err
	}

	membership, err := s.users.GetMembership(ctx, userID)
	if err != nil {
		return nil, err
	}

	purpose := domain.PurposeMembershipNew
	description := "Членский взнос окружной шахматной ассоциации"
	if membership != nil {
		purpose = domain.PurposeMembershipRenewal
		description = "Продление членства окружной шахматной ассоциации"
	}

	return s.initiate(ctx, user, purpose, amount, description, nil, nil)
}

// InitiateTournament начинает оплату турнирного взноса по регистрации.
// Сумма берётся из турнира, регистрация должна принадлежать пользователю
// и быть неоплаченной.
func (s *PaymentService) InitiateTournament(ctx context.Context, userID, registrationID string) (*InitiateResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	registration, err := s.tournaments.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if registration.UserID != userID {
		return nil, domain.ErrForbidden
	}
	if registration.Status == domain.RegistrationConfirmed {
		return nil, domain.ErrDuplicateOrder
	}

	tournament, err := s.tournaments.GetByID(ctx, registration.TournamentID)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Турнирный взнос: %s", tournament.Name)
	return s.initiate(ctx, user, domain.PurposeTournamentRegistration,
		tournament.EntryFee, description, &tournament.ID, &registration.ID)
}

// InitiateCertification начинает оплату сбора за сертификацию арбитра.
func (s *PaymentService) InitiateCertification(ctx context.Context, userID string) (*InitiateResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	description := "Сбор за сертификацию арбитра"
	return s.initiate(ctx, user, domain.PurposeArbiterCertification,
		FeeArbiterCertification, description, nil, nil)
}

// initiate — общий путь инициации: заказ PENDING в БД, затем платёжная
// сессия у провайдера. При отказе провайдера заказ сразу закрывается
// как FAILED, чтобы не копить мусорные PENDING для фонового опроса.
func (s *PaymentService) initiate(
	ctx context.Context,
	user *domain.User,
	purpose domain.PaymentPurpose,
	amount int64,
	description string,
	tournamentID, registrationID *string,
) (*InitiateResult, error) {
	log := logger.FromContext(ctx)

	order := &domain.PaymentOrder{
		GatewayOrderID: domain.NewGatewayOrderID(purpose),
		UserID:         user.ID,
		Purpose:        purpose,
		Amount:         amount,
		Currency:       "INR",
		Status:         domain.OrderStatusPending,
		Description:    description,
		TournamentID:   tournamentID,
		RegistrationID: registrationID,
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	metrics.PaymentsInitiated.WithLabelValues(string(purpose)).Inc()
	log.Info().
		Str("gateway_order_id", order.GatewayOrderID).
		Str("user_id", user.ID).
		Str("purpose", string(purpose)).
		Int64("amount", amount).
		Msg("Платёж инициирован")

	session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		OrderID:  order.GatewayOrderID,
		Amount:   amount,
		Currency: order.Currency,
		Customer: gateway.Customer{
			ID:        user.ID,
			Email:     user.Email,
			Phone:     user.Phone,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		},
		ReturnURL:   s.returnURL(order.GatewayOrderID),
		Description: description,
	})
	if err != nil {
		log.Error().Err(err).
			Str("gateway_order_id", order.GatewayOrderID).
			Msg("Провайдер не открыл платёжную сессию, заказ закрыт")

		if _, finErr := s.orders.FinalizeFailure(ctx, repository.FinalizeFailureParams{
			GatewayOrderID: order.GatewayOrderID,
			Status:         domain.OrderStatusFailed,
		}); finErr != nil {
			log.Error().Err(finErr).
				Str("gateway_order_id", order.GatewayOrderID).
				Msg("Не удалось закрыть заказ после отказа провайдера")
		}
		return nil, ErrPaymentInitFailed
	}

	return &InitiateResult{
		Order:        order,
		PaymentLinks: session.PaymentLinks,
		SDKPayload:   session.SDKPayload,
	}, nil
}

// returnURL добавляет order_id в настроенный URL возврата.
func (s *PaymentService) returnURL(gatewayOrderID string) string {
	u, err := url.Parse(s.cfg.ReturnURL)
	if err != nil {
		return s.cfg.ReturnURL
	}
	q := u.Query()
	q.Set("order_id", gatewayOrderID)
	u.RawQuery = q.Encode()
	return u.String()
}

// HandleCallback обрабатывает callback провайдера о результате платежа.
func (s *PaymentService) HandleCallback(ctx context.Context, params map[string]string) (*reconcile.Result, error) {
	gatewayOrderID := params["order_id"]
	if gatewayOrderID == "" {
		return nil, domain.ErrOrderNotFound
	}
	return s.reconciler.ReconcileCallback(ctx, gatewayOrderID, params)
}

// GetStatus возвращает актуальный статус заказа, сверяясь с провайдером.
// Доступ — владельцу заказа и администратору. Недоступный провайдер
// деградирует до последнего известного статуса из БД.
func (s *PaymentService) GetStatus(ctx context.Context, userID string, role domain.UserRole, gatewayOrderID string) (*StatusResult, error) {
	order, err := s.orders.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID && role != domain.RoleAdmin {
		return nil, domain.ErrForbidden
	}

	result, err := s.reconciler.ReconcilePoll(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) || errors.Is(err, gateway.ErrTimeout) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).
				Str("gateway_order_id", gatewayOrderID).
				Msg("Провайдер недоступен, показан статус из БД")
			return &StatusResult{Order: order, Outcome: gateway.OutcomePending, Stale: true}, nil
		}
		if errors.Is(err, domain.ErrAmbiguousStatus) {
			return &StatusResult{Order: order, Outcome: gateway.OutcomeUnknown}, nil
		}
		return nil, err
	}

	return &StatusResult{Order: result.Order, Outcome: result.Outcome}, nil
}

// GetHistory возвращает страницу платёжной истории пользователя.
func (s *PaymentService) GetHistory(ctx context.Context, userID string, page, limit int) ([]*domain.PaymentOrder, int64, error) {
	return s.orders.ListByUser(ctx, userID, page, limit)
}

// Refund выполняет административный возврат по успешно оплаченному заказу.
func (s *PaymentService) Refund(ctx context.Context, gatewayOrderID string) (*domain.PaymentOrder, error) {
	log := logger.FromContext(ctx)

	order, err := s.orders.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if !order.CanTransitionTo(domain.OrderStatusRefunded) {
		return nil, domain.ErrRefundNotAllowed
	}

	refund, err := s.gateway.Refund(ctx, gatewayOrderID, order.Amount, "")
	if err != nil {
		log.Error().Err(err).
			Str("gateway_order_id", gatewayOrderID).
			Msg("Провайдер не принял запрос на возврат")
		return nil, err
	}

	refunded, err := s.orders.MarkRefunded(ctx, gatewayOrderID, refund.RefundID, refund.Raw)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("gateway_order_id", gatewayOrderID).
		Str("refund_id", refund.RefundID).
		Int64("amount", order.Amount).
		Msg("Возврат средств выполнен")
	return refunded, nil
}
