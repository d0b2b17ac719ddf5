// Package domain содержит бизнес-сущности платёжного сервиса шахматной ассоциации.
package domain

import "errors"

// Доменные ошибки платёжного сервиса.
var (
	// ErrOrderNotFound — платёжный заказ не найден.
	// Неизвестный orderId — ошибка интеграции, не повторяемое условие.
	ErrOrderNotFound = errors.New("платёжный заказ не найден")

	// ErrUserNotFound — пользователь не найден.
	ErrUserNotFound = errors.New("пользователь не найден")

	// ErrTournamentNotFound — турнир не найден.
	ErrTournamentNotFound = errors.New("турнир не найден")

	// ErrRegistrationNotFound — регистрация на турнир не найдена.
	ErrRegistrationNotFound = errors.New("регистрация на турнир не найдена")

	// ErrInvalidTransition — недопустимый переход состояния заказа.
	ErrInvalidTransition = errors.New("недопустимый переход состояния заказа")

	// ErrInvalidAmount — некорректная сумма платежа.
	ErrInvalidAmount = errors.New("сумма платежа должна быть больше нуля")

	// ErrDuplicateOrder — заказ с таким gateway_order_id уже существует.
	ErrDuplicateOrder = errors.New("заказ с таким gateway_order_id уже существует")

	// ErrSignatureInvalid — подпись callback не прошла проверку.
	// Событие безопасности: состояние заказа не меняется.
	ErrSignatureInvalid = errors.New("невалидная подпись callback")

	// ErrAmbiguousStatus — провайдер вернул нераспознанный статус.
	// Заказ остаётся PENDING до ручного разбора, успех не предполагается.
	ErrAmbiguousStatus = errors.New("нераспознанный статус провайдера")

	// ErrRefundNotAllowed — возврат возможен только для заказа в статусе SUCCESS.
	ErrRefundNotAllowed = errors.New("возврат возможен только для успешно оплаченного заказа")

	// ErrForbidden — заказ принадлежит другому пользователю.
	ErrForbidden = errors.New("доступ к чужому заказу запрещён")
)
