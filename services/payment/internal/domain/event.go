package domain

import "time"

// PaymentEvent — событие платежа, публикуемое в Kafka через outbox.
// Потребители: сервисы уведомлений и печати членских карточек.
type PaymentEvent struct {
	EventType      string    `json:"event_type"`                // payment.completed / payment.failed / membership.activated
	OrderID        string    `json:"order_id"`                  // Внутренний UUID заказа
	GatewayOrderID string    `json:"gateway_order_id"`          // Внешний идентификатор заказа
	UserID         string    `json:"user_id"`                   // Плательщик
	Purpose        string    `json:"purpose"`                   // Назначение платежа
	Amount         int64     `json:"amount"`                    // Сумма в рупиях
	Currency       string    `json:"currency"`                  // ISO 4217
	Status         string    `json:"status"`                    // Финальный статус заказа
	ReceiptNo      string    `json:"receipt_no,omitempty"`      // Номер квитанции (при SUCCESS)
	DistrictID     string    `json:"district_id,omitempty"`     // Членский номер (при активации членства)
	OccurredAt     time.Time `json:"occurred_at"`               // Время финализации
}
