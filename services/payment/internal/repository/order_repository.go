// Package repository содержит доступ к данным платёжного сервиса.
// Единственное место, которому разрешено писать статус платёжного заказа.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/chess-portal/pkg/kafka"
	"example.com/chess-portal/pkg/outbox"
	"example.com/chess-portal/services/payment/internal/domain"
)

// OrderRepository определяет методы работы с платёжными заказами.
type OrderRepository interface {
	// Create создаёт новый заказ в статусе PENDING.
	Create(ctx context.Context, order *domain.PaymentOrder) error

	// GetByGatewayOrderID возвращает заказ по внешнему идентификатору.
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.PaymentOrder, error)

	// ListByUser возвращает страницу заказов пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, page, limit int) ([]*domain.PaymentOrder, int64, error)

	// GetStuckPending возвращает заказы в статусе PENDING старше указанного времени.
	GetStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.PaymentOrder, error)

	// FinalizeSuccess атомарно переводит заказ PENDING → SUCCESS: статус,
	// побочные эффекты (активация членства, членский номер, подтверждение
	// регистрации) и outbox событие в одной транзакции под FOR UPDATE.
	// Повторный вызов для финализированного заказа — no-op с Applied=false.
	FinalizeSuccess(ctx context.Context, p FinalizeSuccessParams) (*FinalizeOutcome, error)

	// FinalizeFailure атомарно переводит заказ PENDING → FAILED/CANCELLED
	// без побочных эффектов, с outbox событием payment.failed.
	FinalizeFailure(ctx context.Context, p FinalizeFailureParams) (*FinalizeOutcome, error)

	// MarkRefunded переводит SUCCESS → REFUNDED (административный возврат).
	MarkRefunded(ctx context.Context, gatewayOrderID, refundID string, gatewayResponse []byte) (*domain.PaymentOrder, error)
}

// FinalizeSuccessParams — параметры успешной финализации.
type FinalizeSuccessParams struct {
	GatewayOrderID   string
	GatewayPaymentID string
	GatewayResponse  []byte
	Now              time.Time
}

// FinalizeFailureParams — параметры неуспешной финализации.
type FinalizeFailureParams struct {
	GatewayOrderID   string
	Status           domain.OrderStatus // FAILED или CANCELLED
	GatewayPaymentID string
	GatewayResponse  []byte
	Now              time.Time
}

// FinalizeOutcome — результат финализации.
// Applied=false означает, что заказ уже был в финальном статусе и
// транзакция ничего не меняла: побочные эффекты не выполнялись повторно.
type FinalizeOutcome struct {
	Order      *domain.PaymentOrder
	Applied    bool
	DistrictID string // Членский номер, если членство активировано этой транзакцией
}

// =============================================================================
// GORM модели
// =============================================================================

// OrderModel — GORM модель для таблицы payment_orders.
type OrderModel struct {
	ID               string     `gorm:"column:id;type:varchar(36);primaryKey"`
	GatewayOrderID   string     `gorm:"column:gateway_order_id;type:varchar(64);not null;uniqueIndex"`
	UserID           string     `gorm:"column:user_id;type:varchar(36);not null;index"`
	Purpose          string     `gorm:"column:purpose;type:varchar(30);not null"`
	Amount           int64      `gorm:"column:amount;not null"`
	Currency         string     `gorm:"column:currency;type:varchar(3);not null"`
	Status           string     `gorm:"column:status;type:varchar(20);not null;index"`
	Description      string     `gorm:"column:description;type:text"`
	TournamentID     *string    `gorm:"column:tournament_id;type:varchar(36)"`
	RegistrationID   *string    `gorm:"column:registration_id;type:varchar(36)"`
	GatewayPaymentID *string    `gorm:"column:gateway_payment_id;type:varchar(64)"`
	GatewayResponse  []byte     `gorm:"column:gateway_response;type:jsonb"`
	ReceiptNo        *string    `gorm:"column:receipt_no;type:varchar(32);uniqueIndex"`
	CompletedAt      *time.Time `gorm:"column:completed_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "payment_orders"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *OrderModel) toDomain() *domain.PaymentOrder {
	return &domain.PaymentOrder{
		ID:               m.ID,
		GatewayOrderID:   m.GatewayOrderID,
		UserID:           m.UserID,
		Purpose:          domain.PaymentPurpose(m.Purpose),
		Amount:           m.Amount,
		Currency:         m.Currency,
		Status:           domain.OrderStatus(m.Status),
		Description:      m.Description,
		TournamentID:     m.TournamentID,
		RegistrationID:   m.RegistrationID,
		GatewayPaymentID: m.GatewayPaymentID,
		GatewayResponse:  m.GatewayResponse,
		ReceiptNo:        m.ReceiptNo,
		CompletedAt:      m.CompletedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// orderModelFromDomain конвертирует доменную сущность в GORM модель.
func orderModelFromDomain(o *domain.PaymentOrder) *OrderModel {
	return &OrderModel{
		ID:               o.ID,
		GatewayOrderID:   o.GatewayOrderID,
		UserID:           o.UserID,
		Purpose:          string(o.Purpose),
		Amount:           o.Amount,
		Currency:         o.Currency,
		Status:           string(o.Status),
		Description:      o.Description,
		TournamentID:     o.TournamentID,
		RegistrationID:   o.RegistrationID,
		GatewayPaymentID: o.GatewayPaymentID,
		GatewayResponse:  o.GatewayResponse,
		ReceiptNo:        o.ReceiptNo,
		CompletedAt:      o.CompletedAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт новый репозиторий платёжных заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create создаёт новый заказ.
func (r *orderRepository) Create(ctx context.Context, order *domain.PaymentOrder) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	model := orderModelFromDomain(order)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateOrder
		}
		return err
	}

	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByGatewayOrderID возвращает заказ по внешнему идентификатору.
func (r *orderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.PaymentOrder, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListByUser возвращает страницу заказов пользователя, новые первыми.
func (r *orderRepository) ListByUser(ctx context.Context, userID string, page, limit int) ([]*domain.PaymentOrder, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []OrderModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*domain.PaymentOrder, 0, len(models))
	for i := range models {
		orders = append(orders, models[i].toDomain())
	}
	return orders, total, nil
}

// GetStuckPending возвращает заказы в статусе PENDING старше указанного времени.
func (r *orderRepository) GetStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.PaymentOrder, error) {
	var models []OrderModel

	threshold := time.Now().Add(-olderThan)

	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(domain.OrderStatusPending), threshold).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.PaymentOrder, 0, len(models))
	for i := range models {
		orders = append(orders, models[i].toDomain())
	}
	return orders, nil
}

// FinalizeSuccess — атомарная финализация успешной оплаты.
// Одна транзакция: статус заказа, побочные эффекты по назначению платежа
// и outbox событие. Конкурирующая сверка (callback + poll) видит заказ
// под FOR UPDATE: проигравший гонку наблюдает финальный статус и выходит
// с Applied=false, побочные эффекты не дублируются.
func (r *orderRepository) FinalizeSuccess(ctx context.Context, p FinalizeSuccessParams) (*FinalizeOutcome, error) {
	if p.Now.IsZero() {
		p.Now = time.Now()
	}

	outcome := &FinalizeOutcome{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("gateway_order_id = ?", p.GatewayOrderID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		order := model.toDomain()

		// Заказ уже финализирован: идемпотентный no-op.
		if order.Status.IsTerminal() {
			outcome.Order = order
			outcome.Applied = false
			return nil
		}

		receiptNo := domain.NewReceiptNo(p.Now)
		updates := map[string]any{
			"status":       string(domain.OrderStatusSuccess),
			"receipt_no":   receiptNo,
			"completed_at": p.Now,
			"updated_at":   p.Now,
		}
		if p.GatewayPaymentID != "" {
			updates["gateway_payment_id"] = p.GatewayPaymentID
		}
		if len(p.GatewayResponse) > 0 {
			updates["gateway_response"] = p.GatewayResponse
		}

		if err := tx.Model(&OrderModel{}).
			Where("id = ?", model.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		// Побочные эффекты по назначению платежа.
		var districtID string
		switch order.Purpose {
		case domain.PurposeMembershipNew, domain.PurposeMembershipRenewal:
			id, err := activateMembership(tx, order, p.Now)
			if err != nil {
				return err
			}
			districtID = id
		case domain.PurposeTournamentRegistration:
			if err := confirmRegistration(tx, order, p.Now); err != nil {
				return err
			}
		}

		order.Status = domain.OrderStatusSuccess
		order.ReceiptNo = &receiptNo
		order.CompletedAt = &p.Now
		if p.GatewayPaymentID != "" {
			order.GatewayPaymentID = &p.GatewayPaymentID
		}
		if len(p.GatewayResponse) > 0 {
			order.GatewayResponse = p.GatewayResponse
		}

		if err := createPaymentEvent(tx, order, kafka.EventPaymentCompleted, districtID, p.Now); err != nil {
			return err
		}

		outcome.Order = order
		outcome.Applied = true
		outcome.DistrictID = districtID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// FinalizeFailure — атомарная финализация неуспешной оплаты.
// Побочных эффектов нет; заказ остаётся в истории для поддержки и аудита.
func (r *orderRepository) FinalizeFailure(ctx context.Context, p FinalizeFailureParams) (*FinalizeOutcome, error) {
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	if p.Status != domain.OrderStatusFailed && p.Status != domain.OrderStatusCancelled {
		return nil, domain.ErrInvalidTransition
	}

	outcome := &FinalizeOutcome{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("gateway_order_id = ?", p.GatewayOrderID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		order := model.toDomain()

		if order.Status.IsTerminal() {
			outcome.Order = order
			outcome.Applied = false
			return nil
		}

		updates := map[string]any{
			"status":     string(p.Status),
			"updated_at": p.Now,
		}
		if p.GatewayPaymentID != "" {
			updates["gateway_payment_id"] = p.GatewayPaymentID
		}
		if len(p.GatewayResponse) > 0 {
			updates["gateway_response"] = p.GatewayResponse
		}

		if err := tx.Model(&OrderModel{}).
			Where("id = ?", model.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		order.Status = p.Status
		if p.GatewayPaymentID != "" {
			order.GatewayPaymentID = &p.GatewayPaymentID
		}
		if len(p.GatewayResponse) > 0 {
			order.GatewayResponse = p.GatewayResponse
		}

		if err := createPaymentEvent(tx, order, kafka.EventPaymentFailed, "", p.Now); err != nil {
			return err
		}

		outcome.Order = order
		outcome.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// MarkRefunded переводит успешно оплаченный заказ в REFUNDED.
func (r *orderRepository) MarkRefunded(ctx context.Context, gatewayOrderID, refundID string, gatewayResponse []byte) (*domain.PaymentOrder, error) {
	var refunded *domain.PaymentOrder

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("gateway_order_id = ?", gatewayOrderID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		order := model.toDomain()
		if !order.CanTransitionTo(domain.OrderStatusRefunded) {
			return domain.ErrRefundNotAllowed
		}

		now := time.Now()
		updates := map[string]any{
			"status":     string(domain.OrderStatusRefunded),
			"updated_at": now,
		}
		if len(gatewayResponse) > 0 {
			updates["gateway_response"] = gatewayResponse
		}

		if err := tx.Model(&OrderModel{}).
			Where("id = ?", model.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		order.Status = domain.OrderStatusRefunded
		if len(gatewayResponse) > 0 {
			order.GatewayResponse = gatewayResponse
		}
		refunded = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// =============================================================================
// Побочные эффекты успешной оплаты (внутри транзакции финализации)
// =============================================================================

// activateMembership активирует членство и при первичном членстве выдаёт
// членский номер. Возвращает выданный номер (пустая строка, если номер
// уже был у пользователя).
func activateMembership(tx *gorm.DB, order *domain.PaymentOrder, now time.Time) (string, error) {
	var user UserModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", order.UserID).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrUserNotFound
		}
		return "", err
	}

	var issuedID string
	if user.DistrictID == nil {
		// Атомарный счётчик per (taluk_code, year): upsert с инкрементом
		// гарантирует отсутствие коллизий при конкурентных активациях.
		var seq int
		if err := tx.Raw(`
			INSERT INTO district_id_sequences (taluk_code, year, last_seq)
			VALUES (?, ?, 1)
			ON CONFLICT (taluk_code, year)
			DO UPDATE SET last_seq = district_id_sequences.last_seq + 1
			RETURNING last_seq`,
			user.TalukCode, now.Year()).Scan(&seq).Error; err != nil {
			return "", err
		}

		issuedID = domain.FormatDistrictID(seq, user.TalukCode, now.Year())
		if err := tx.Model(&UserModel{}).
			Where("id = ?", user.ID).
			Updates(map[string]any{"district_id": issuedID, "updated_at": now}).Error; err != nil {
			return "", err
		}
	}

	// Окно действия членства — текущий календарный год.
	validFrom, validTo := domain.MembershipWindow(now)

	result := tx.Model(&MembershipModel{}).
		Where("user_id = ?", user.ID).
		Updates(map[string]any{
			"status":     string(domain.MembershipActive),
			"valid_from": validFrom,
			"valid_to":   validTo,
			"updated_at": now,
		})
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		membership := &MembershipModel{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			Status:    string(domain.MembershipActive),
			ValidFrom: validFrom,
			ValidTo:   validTo,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(membership).Error; err != nil {
			return "", err
		}
	}

	return issuedID, nil
}

// confirmRegistration подтверждает регистрацию на турнир.
func confirmRegistration(tx *gorm.DB, order *domain.PaymentOrder, now time.Time) error {
	if order.RegistrationID == nil {
		return domain.ErrRegistrationNotFound
	}

	result := tx.Model(&RegistrationModel{}).
		Where("id = ?", *order.RegistrationID).
		Updates(map[string]any{
			"status":     string(domain.RegistrationConfirmed),
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRegistrationNotFound
	}
	return nil
}

// createPaymentEvent пишет событие платежа в outbox той же транзакцией.
func createPaymentEvent(tx *gorm.DB, order *domain.PaymentOrder, eventType, districtID string, now time.Time) error {
	event := domain.PaymentEvent{
		EventType:      eventType,
		OrderID:        order.ID,
		GatewayOrderID: order.GatewayOrderID,
		UserID:         order.UserID,
		Purpose:        string(order.Purpose),
		Amount:         order.Amount,
		Currency:       order.Currency,
		Status:         string(order.Status),
		DistrictID:     districtID,
		OccurredAt:     now,
	}
	if order.ReceiptNo != nil {
		event.ReceiptNo = *order.ReceiptNo
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	record := outbox.ModelFromDomain(&outbox.Outbox{
		ID:            uuid.New().String(),
		AggregateType: "payment_order",
		AggregateID:   order.GatewayOrderID,
		EventType:     eventType,
		Topic:         kafka.TopicPaymentEvents,
		MessageKey:    order.GatewayOrderID,
		Payload:       payload,
		CreatedAt:     now,
	})
	return tx.Create(record).Error
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "duplicate key value") ||
		strings.Contains(errMsg, "23505")
}
