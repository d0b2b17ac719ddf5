package gateway

// Провайдер использует два независимых словаря статусов: строковый в
// асинхронном webhook и числовой в API статуса заказа. Таблицы
// классификации держатся раздельно и не сводятся в один enum:
// нераспознанное значение — явный OutcomeUnknown, никогда не успех.

// Outcome — классифицированный исход платежа по данным провайдера.
type Outcome int

const (
	// OutcomeUnknown — нераспознанный статус. Заказ остаётся PENDING.
	OutcomeUnknown Outcome = iota

	// OutcomeSuccess — платёж прошёл.
	OutcomeSuccess

	// OutcomeFailed — платёж отклонён.
	OutcomeFailed

	// OutcomePending — платёж ещё в обработке.
	OutcomePending
)

// String возвращает текстовое представление исхода для логов.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomePending:
		return "pending"
	}
	return "unknown"
}

// Строковые статусы webhook провайдера.
var (
	successStatuses = map[string]bool{
		"CHARGED": true,
	}
	failedStatuses = map[string]bool{
		"AUTHORIZATION_FAILED":  true,
		"AUTHENTICATION_FAILED": true,
		"JUSPAY_DECLINED":       true,
	}
	pendingStatuses = map[string]bool{
		"NEW":         true,
		"PENDING_VBV": true,
		"AUTHORIZING": true,
		"STARTED":     true,
	}
)

// Числовые коды API статуса заказа.
var (
	successCodes = map[int]bool{
		21: true,
	}
	failedCodes = map[int]bool{
		23: true,
		26: true,
		27: true,
		28: true,
		29: true,
		30: true,
	}
	pendingCodes = map[int]bool{
		10: true,
		20: true,
	}
)

// IsSuccessStatus проверяет строковый статус webhook на успех.
func IsSuccessStatus(status string) bool { return successStatuses[status] }

// IsFailedStatus проверяет строковый статус webhook на отказ.
func IsFailedStatus(status string) bool { return failedStatuses[status] }

// IsPendingStatus проверяет строковый статус webhook на ожидание.
func IsPendingStatus(status string) bool { return pendingStatuses[status] }

// IsSuccessCode проверяет числовой код API статуса на успех.
func IsSuccessCode(code int) bool { return successCodes[code] }

// IsFailedCode проверяет числовой код API статуса на отказ.
func IsFailedCode(code int) bool { return failedCodes[code] }

// IsPendingCode проверяет числовой код API статуса на ожидание.
func IsPendingCode(code int) bool { return pendingCodes[code] }

// ClassifyStatus классифицирует строковый статус webhook.
func ClassifyStatus(status string) Outcome {
	switch {
	case IsSuccessStatus(status):
		return OutcomeSuccess
	case IsFailedStatus(status):
		return OutcomeFailed
	case IsPendingStatus(status):
		return OutcomePending
	}
	return OutcomeUnknown
}

// ClassifyCode классифицирует числовой код API статуса заказа.
func ClassifyCode(code int) Outcome {
	switch {
	case IsSuccessCode(code):
		return OutcomeSuccess
	case IsFailedCode(code):
		return OutcomeFailed
	case IsPendingCode(code):
		return OutcomePending
	}
	return OutcomeUnknown
}

// ClassifyResult классифицирует ответ API статуса заказа.
// Числовой код — первичный сигнал этого API; строковый статус
// используется как запасной, если код отсутствует в ответе.
func ClassifyResult(result *OrderStatusResult) Outcome {
	if result.StatusID != 0 {
		return ClassifyCode(result.StatusID)
	}
	return ClassifyStatus(result.Status)
}
