package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"

	"example.com/chess-portal/pkg/logger"
	"example.com/chess-portal/pkg/metrics"
)

// SignatureValidator проверяет подлинность callback провайдера по HMAC подписи.
type SignatureValidator struct {
	responseKey string
}

// NewSignatureValidator создаёт валидатор подписи.
// Пустой responseKey переводит валидатор в режим fail-open: callback
// принимаются без проверки с громким предупреждением в логах. Это
// осознанное поведение для окружений без учётных данных шлюза;
// в production конфигурация без ключа не проходит валидацию при старте.
func NewSignatureValidator(responseKey string) *SignatureValidator {
	return &SignatureValidator{responseKey: responseKey}
}

// Validate проверяет подпись callback по полному набору его параметров.
// Поля signature и signature_algorithm в расчёт не входят.
func (v *SignatureValidator) Validate(params map[string]string) bool {
	if v.responseKey == "" {
		metrics.SignatureSkipped.Inc()
		logger.Warn().
			Str("order_id", params["order_id"]).
			Msg("ПРОВЕРКА ПОДПИСИ ПРОПУЩЕНА: response key не настроен, callback принят без проверки")
		return true
	}

	received, ok := params["signature"]
	if !ok || received == "" {
		metrics.SignatureFailures.Inc()
		logger.Warn().
			Str("order_id", params["order_id"]).
			Msg("Callback без подписи отклонён")
		return false
	}

	computed := ComputeSignature(params, v.responseKey)

	// Сравнение на полностью декодированных значениях: провайдер шлёт
	// подпись percent-encoded, одна пропущенная итерация декодирования
	// ложно отклоняет валидные callback.
	decodedReceived, err := url.PathUnescape(received)
	if err != nil {
		decodedReceived = received
	}
	decodedComputed, err := url.PathUnescape(computed)
	if err != nil {
		decodedComputed = computed
	}

	if !hmac.Equal([]byte(decodedReceived), []byte(decodedComputed)) {
		metrics.SignatureFailures.Inc()
		logger.Warn().
			Str("order_id", params["order_id"]).
			Msg("Невалидная подпись callback: возможна попытка подделки")
		return false
	}
	return true
}

// ComputeSignature вычисляет подпись по алгоритму провайдера:
// отсортировать ключи (кроме signature и signature_algorithm), собрать
// строку key=value&...&key=value, percent-encode её целиком,
// HMAC-SHA256 с response key, base64.
func ComputeSignature(params map[string]string, responseKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" || k == "signature_algorithm" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	payload := url.QueryEscape(strings.Join(pairs, "&"))

	mac := hmac.New(sha256.New, []byte(responseKey))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
