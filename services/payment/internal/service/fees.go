package service

import (
	"fmt"

	"example.com/chess-portal/services/payment/internal/domain"
)

// Тарифы ассоциации в рупиях. Сумма определяется только на сервере:
// клиентскому вводу суммы доверять нельзя.
const (
	// FeeMembershipPlayer — годовой членский взнос игрока.
	FeeMembershipPlayer int64 = 75

	// FeeMembershipArbiter — годовой членский взнос арбитра.
	FeeMembershipArbiter int64 = 250

	// FeeArbiterCertification — сбор за сертификацию арбитра.
	FeeArbiterCertification int64 = 500
)

// membershipFee возвращает членский взнос по роли пользователя.
func membershipFee(role domain.UserRole) (int64, error) {
	switch role {
	case domain.RolePlayer, domain.RoleAdmin:
		return FeeMembershipPlayer, nil
	case domain.RoleArbiter:
		return FeeMembershipArbiter, nil
	}
	return 0, fmt.Errorf("членский взнос не определён для роли %q", role)
}
