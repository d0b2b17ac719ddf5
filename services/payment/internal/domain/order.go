// Package domain содержит бизнес-сущности платёжного сервиса шахматной ассоциации.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentPurpose — назначение платежа. Определяет тариф и побочный эффект
// после успешной оплаты. Неизменяемо после создания заказа.
type PaymentPurpose string

const (
	// PurposeMembershipNew — первичное членство в ассоциации.
	PurposeMembershipNew PaymentPurpose = "MEMBERSHIP_NEW"

	// PurposeMembershipRenewal — продление членства.
	PurposeMembershipRenewal PaymentPurpose = "MEMBERSHIP_RENEWAL"

	// PurposeTournamentRegistration — взнос за участие в турнире.
	PurposeTournamentRegistration PaymentPurpose = "TOURNAMENT_REGISTRATION"

	// PurposeArbiterCertification — сертификация арбитра.
	PurposeArbiterCertification PaymentPurpose = "ARBITER_CERTIFICATION"
)

// Valid возвращает true для известного назначения платежа.
func (p PaymentPurpose) Valid() bool {
	switch p {
	case PurposeMembershipNew, PurposeMembershipRenewal,
		PurposeTournamentRegistration, PurposeArbiterCertification:
		return true
	}
	return false
}

// shortCode — короткий код назначения для gateway order id.
func (p PaymentPurpose) shortCode() string {
	switch p {
	case PurposeMembershipNew:
		return "MEM_NEW"
	case PurposeMembershipRenewal:
		return "MEM_REN"
	case PurposeTournamentRegistration:
		return "TRN"
	case PurposeArbiterCertification:
		return "ARB_CERT"
	}
	return "UNKNOWN"
}

// OrderStatus — статус платёжного заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата не подтверждена.
	OrderStatusPending OrderStatus = "PENDING"

	// OrderStatusSuccess — оплата подтверждена, побочные эффекты выполнены.
	OrderStatusSuccess OrderStatus = "SUCCESS"

	// OrderStatusFailed — оплата не прошла. Повтор — только новым заказом.
	OrderStatusFailed OrderStatus = "FAILED"

	// OrderStatusRefunded — платёж возвращён (административная операция).
	OrderStatusRefunded OrderStatus = "REFUNDED"

	// OrderStatusCancelled — заказ отменён до оплаты.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal возвращает true для финального статуса.
// Любой статус кроме PENDING финален: сверка его больше не трогает.
// Единственный допустимый переход из финального — SUCCESS → REFUNDED,
// и он выполняется только административной операцией возврата.
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusPending
}

// allowedTransitions определяет валидные переходы состояний заказа.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusSuccess, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusSuccess: {OrderStatusRefunded},
	// FAILED, REFUNDED, CANCELLED — терминальные состояния
}

// PaymentOrder — платёжный заказ, центральная сущность сервиса.
// Одна попытка собрать платёж; повтор после неудачи — новый заказ.
type PaymentOrder struct {
	ID              string         // UUID заказа
	GatewayOrderID  string         // Внешний ключ заказа у провайдера (DCA_..., глобально уникален)
	UserID          string         // ID пользователя-плательщика
	Purpose         PaymentPurpose // Назначение платежа
	Amount          int64          // Сумма в рупиях, фиксируется при создании
	Currency        string         // ISO 4217 (INR)
	Status          OrderStatus    // Текущий статус
	Description     string         // Описание для страницы оплаты
	TournamentID    *string        // Турнир (для TOURNAMENT_REGISTRATION)
	RegistrationID  *string        // Регистрация на турнир (для TOURNAMENT_REGISTRATION)
	GatewayPaymentID *string       // ID транзакции у провайдера, ставится при финализации
	GatewayResponse []byte         // Последний сырой ответ провайдера (перезаписывается)
	ReceiptNo       *string        // Номер квитанции, ставится ровно один раз при SUCCESS
	CompletedAt     *time.Time     // Время финализации SUCCESS
	CreatedAt       time.Time      // Дата создания
	UpdatedAt       time.Time      // Дата обновления
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (o *PaymentOrder) CanTransitionTo(newStatus OrderStatus) bool {
	allowed, ok := allowedTransitions[o.Status]
	if !ok {
		return false // Терминальное состояние
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// Validate проверяет корректность полей заказа.
func (o *PaymentOrder) Validate() error {
	if o.UserID == "" {
		return fmt.Errorf("user_id обязателен")
	}
	if !o.Purpose.Valid() {
		return fmt.Errorf("неизвестное назначение платежа: %s", o.Purpose)
	}
	if o.Amount <= 0 {
		return ErrInvalidAmount
	}
	if o.Currency == "" {
		return fmt.Errorf("currency обязательна")
	}
	if o.Purpose == PurposeTournamentRegistration && (o.TournamentID == nil || o.RegistrationID == nil) {
		return fmt.Errorf("для турнирного взноса обязательны tournament_id и registration_id")
	}
	return nil
}

// gatewayOrderPrefix — префикс ассоциации во внешних идентификаторах заказов.
const gatewayOrderPrefix = "DCA"

// NewGatewayOrderID генерирует внешний идентификатор заказа
// вида DCA_{PURPOSE}_{unix}_{random8}.
func NewGatewayOrderID(purpose PaymentPurpose) string {
	random8 := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%d_%s", gatewayOrderPrefix, purpose.shortCode(), time.Now().Unix(), random8)
}

// NewReceiptNo генерирует уникальный номер квитанции.
func NewReceiptNo(now time.Time) string {
	random8 := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("RCPT-%d-%s", now.Year(), random8)
}
