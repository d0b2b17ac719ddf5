package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		terminal bool
	}{
		{OrderStatusPending, false},
		{OrderStatusSuccess, true},
		{OrderStatusFailed, true},
		{OrderStatusRefunded, true},
		{OrderStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestPaymentOrder_CanTransitionTo(t *testing.T) {
	t.Run("PENDING переходит в любой финальный статус кроме REFUNDED", func(t *testing.T) {
		order := &PaymentOrder{Status: OrderStatusPending}

		assert.True(t, order.CanTransitionTo(OrderStatusSuccess))
		assert.True(t, order.CanTransitionTo(OrderStatusFailed))
		assert.True(t, order.CanTransitionTo(OrderStatusCancelled))
		assert.False(t, order.CanTransitionTo(OrderStatusRefunded))
	})

	t.Run("SUCCESS переходит только в REFUNDED", func(t *testing.T) {
		order := &PaymentOrder{Status: OrderStatusSuccess}

		assert.True(t, order.CanTransitionTo(OrderStatusRefunded))
		assert.False(t, order.CanTransitionTo(OrderStatusFailed))
		assert.False(t, order.CanTransitionTo(OrderStatusPending))
	})

	t.Run("FAILED никогда не возвращается в PENDING", func(t *testing.T) {
		order := &PaymentOrder{Status: OrderStatusFailed}

		assert.False(t, order.CanTransitionTo(OrderStatusPending))
		assert.False(t, order.CanTransitionTo(OrderStatusSuccess))
	})

	t.Run("REFUNDED и CANCELLED терминальны", func(t *testing.T) {
		for _, s := range []OrderStatus{OrderStatusRefunded, OrderStatusCancelled} {
			order := &PaymentOrder{Status: s}
			for _, target := range []OrderStatus{OrderStatusPending, OrderStatusSuccess, OrderStatusFailed} {
				assert.False(t, order.CanTransitionTo(target), "%s -> %s должен быть запрещён", s, target)
			}
		}
	})
}

func TestPaymentOrder_Validate(t *testing.T) {
	validOrder := func() *PaymentOrder {
		return &PaymentOrder{
			UserID:   "user-1",
			Purpose:  PurposeMembershipNew,
			Amount:   75,
			Currency: "INR",
		}
	}

	t.Run("валидный заказ", func(t *testing.T) {
		require.NoError(t, validOrder().Validate())
	})

	t.Run("пустой user_id", func(t *testing.T) {
		order := validOrder()
		order.UserID = ""
		assert.Error(t, order.Validate())
	})

	t.Run("неизвестное назначение", func(t *testing.T) {
		order := validOrder()
		order.Purpose = "CAR_WASH"
		assert.Error(t, order.Validate())
	})

	t.Run("нулевая сумма", func(t *testing.T) {
		order := validOrder()
		order.Amount = 0
		assert.ErrorIs(t, order.Validate(), ErrInvalidAmount)
	})

	t.Run("турнирный взнос без tournament_id", func(t *testing.T) {
		order := validOrder()
		order.Purpose = PurposeTournamentRegistration
		order.Amount = 300
		assert.Error(t, order.Validate())
	})

	t.Run("турнирный взнос с полными ссылками", func(t *testing.T) {
		order := validOrder()
		order.Purpose = PurposeTournamentRegistration
		tid, rid := "trn-1", "reg-1"
		order.TournamentID = &tid
		order.RegistrationID = &rid
		require.NoError(t, order.Validate())
	})
}

func TestNewGatewayOrderID(t *testing.T) {
	pattern := regexp.MustCompile(`^DCA_(MEM_NEW|MEM_REN|TRN|ARB_CERT)_\d+_[0-9a-f]{8}$`)

	t.Run("формат для каждого назначения", func(t *testing.T) {
		for _, p := range []PaymentPurpose{
			PurposeMembershipNew, PurposeMembershipRenewal,
			PurposeTournamentRegistration, PurposeArbiterCertification,
		} {
			id := NewGatewayOrderID(p)
			assert.Regexp(t, pattern, id, "purpose=%s", p)
		}
	})

	t.Run("идентификаторы уникальны", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id := NewGatewayOrderID(PurposeMembershipNew)
			assert.False(t, seen[id], "дубликат gateway order id: %s", id)
			seen[id] = true
		}
	})
}

func TestMembershipWindow(t *testing.T) {
	now := time.Date(2026, time.August, 15, 12, 30, 0, 0, time.UTC)

	from, to := MembershipWindow(now)

	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC), to)
}

func TestFormatDistrictID(t *testing.T) {
	t.Run("трёхзначный номер с ведущими нулями", func(t *testing.T) {
		id := FormatDistrictID(7, "KPM", 2026)
		assert.Equal(t, "007KPM2026", id)
		assert.True(t, ValidDistrictID(id))
	})

	t.Run("формат соответствует шаблону", func(t *testing.T) {
		assert.True(t, ValidDistrictID("123ABC2025"))
		assert.False(t, ValidDistrictID("12ABC2025"))
		assert.False(t, ValidDistrictID("123AB2025"))
		assert.False(t, ValidDistrictID("123abc2025"))
	})
}

func TestNewReceiptNo(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	receipt := NewReceiptNo(now)

	assert.Regexp(t, `^RCPT-2026-[0-9A-F]{8}$`, receipt)
	assert.NotEqual(t, receipt, NewReceiptNo(now), "номера квитанций должны быть уникальны")
}
