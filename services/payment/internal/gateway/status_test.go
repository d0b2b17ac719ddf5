package gateway

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status  string
		outcome Outcome
	}{
		{"CHARGED", OutcomeSuccess},
		{"AUTHORIZATION_FAILED", OutcomeFailed},
		{"AUTHENTICATION_FAILED", OutcomeFailed},
		{"JUSPAY_DECLINED", OutcomeFailed},
		{"NEW", OutcomePending},
		{"PENDING_VBV", OutcomePending},
		{"AUTHORIZING", OutcomePending},
		{"STARTED", OutcomePending},
		{"SOMETHING_ELSE", OutcomeUnknown},
		{"", OutcomeUnknown},
		{"charged", OutcomeUnknown}, // Регистр значим
	}

	for _, tt := range tests {
		t.Run("status="+tt.status, func(t *testing.T) {
			assert.Equal(t, tt.outcome, ClassifyStatus(tt.status))
		})
	}
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code    int
		outcome Outcome
	}{
		{21, OutcomeSuccess},
		{23, OutcomeFailed},
		{26, OutcomeFailed},
		{27, OutcomeFailed},
		{28, OutcomeFailed},
		{29, OutcomeFailed},
		{30, OutcomeFailed},
		{10, OutcomePending},
		{20, OutcomePending},
		{0, OutcomeUnknown},
		{22, OutcomeUnknown},
		{99, OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code=%d", tt.code), func(t *testing.T) {
			assert.Equal(t, tt.outcome, ClassifyCode(tt.code))
		})
	}
}

// Таблицы классификации должны быть попарно непересекающимися:
// ни один статус или код не может быть одновременно успехом и отказом.
func TestClassificationTablesDisjoint(t *testing.T) {
	t.Run("строковые статусы", func(t *testing.T) {
		for s := range successStatuses {
			assert.False(t, failedStatuses[s], "%s в success и failed одновременно", s)
			assert.False(t, pendingStatuses[s], "%s в success и pending одновременно", s)
		}
		for s := range failedStatuses {
			assert.False(t, pendingStatuses[s], "%s в failed и pending одновременно", s)
		}
	})

	t.Run("числовые коды", func(t *testing.T) {
		for c := range successCodes {
			assert.False(t, failedCodes[c], "%d в success и failed одновременно", c)
			assert.False(t, pendingCodes[c], "%d в success и pending одновременно", c)
		}
		for c := range failedCodes {
			assert.False(t, pendingCodes[c], "%d в failed и pending одновременно", c)
		}
	})
}

func TestClassifyResult(t *testing.T) {
	t.Run("числовой код первичен", func(t *testing.T) {
		result := &OrderStatusResult{Status: "NEW", StatusID: 21}
		assert.Equal(t, OutcomeSuccess, ClassifyResult(result))
	})

	t.Run("запасной путь по строковому статусу", func(t *testing.T) {
		result := &OrderStatusResult{Status: "CHARGED"}
		assert.Equal(t, OutcomeSuccess, ClassifyResult(result))
	})

	t.Run("нераспознанный ответ не считается успехом", func(t *testing.T) {
		result := &OrderStatusResult{Status: "MYSTERY", StatusID: 42}
		assert.Equal(t, OutcomeUnknown, ClassifyResult(result))
	})
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "pending", OutcomePending.String())
	assert.Equal(t, "unknown", OutcomeUnknown.String())
}
