package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/chess-portal/pkg/config"
	"example.com/chess-portal/services/payment/internal/domain"
	"example.com/chess-portal/services/payment/internal/gateway"
	"example.com/chess-portal/services/payment/internal/reconcile"
	"example.com/chess-portal/services/payment/internal/repository"
)

// =============================================================================
// Фейки
// =============================================================================

type fakeOrders struct {
	byID      map[string]*domain.PaymentOrder
	created   []*domain.PaymentOrder
	failed    []string
	refunded  []string
}

func newFakeOrders(orders ...*domain.PaymentOrder) *fakeOrders {
	f := &fakeOrders{byID: make(map[string]*domain.PaymentOrder)}
	for _, o := range orders {
		f.byID[o.GatewayOrderID] = o
	}
	return f
}

func (f *fakeOrders) Create(_ context.Context, order *domain.PaymentOrder) error {
	if _, ok := f.byID[order.GatewayOrderID]; ok {
		return domain.ErrDuplicateOrder
	}
	f.byID[order.GatewayOrderID] = order
	f.created = append(f.created, order)
	return nil
}

func (f *fakeOrders) GetByGatewayOrderID(_ context.Context, id string) (*domain.PaymentOrder, error) {
	order, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrders) ListByUser(_ context.Context, userID string, _, _ int) ([]*domain.PaymentOrder, int64, error) {
	var out []*domain.PaymentOrder
	for _, o := range f.byID {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeOrders) GetStuckPending(_ context.Context, _ time.Duration, _ int) ([]*domain.PaymentOrder, error) {
	var out []*domain.PaymentOrder
	for _, o := range f.byID {
		if o.Status == domain.OrderStatusPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrders) FinalizeSuccess(_ context.Context, p repository.FinalizeSuccessParams) (*repository.FinalizeOutcome, error) {
	order, ok := f.byID[p.GatewayOrderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return &repository.FinalizeOutcome{Order: order, Applied: false}, nil
	}
	order.Status = domain.OrderStatusSuccess
	return &repository.FinalizeOutcome{Order: order, Applied: true}, nil
}

func (f *fakeOrders) FinalizeFailure(_ context.Context, p repository.FinalizeFailureParams) (*repository.FinalizeOutcome, error) {
	order, ok := f.byID[p.GatewayOrderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return &repository.FinalizeOutcome{Order: order, Applied: false}, nil
	}
	order.Status = p.Status
	f.failed = append(f.failed, p.GatewayOrderID)
	return &repository.FinalizeOutcome{Order: order, Applied: true}, nil
}

func (f *fakeOrders) MarkRefunded(_ context.Context, id, _ string, _ []byte) (*domain.PaymentOrder, error) {
	order, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if !order.CanTransitionTo(domain.OrderStatusRefunded) {
		return nil, domain.ErrRefundNotAllowed
	}
	order.Status = domain.OrderStatusRefunded
	f.refunded = append(f.refunded, id)
	return order, nil
}

type fakeUsers struct {
	user       *domain.User
	membership *domain.Membership
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, domain.ErrUserNotFound
	}
	return f.user, nil
}

func (f *fakeUsers) GetMembership(_ context.Context, _ string) (*domain.Membership, error) {
	return f.membership, nil
}

type fakeTournaments struct {
	tournament   *domain.Tournament
	registration *domain.TournamentRegistration
}

func (f *fakeTournaments) GetByID(_ context.Context, id string) (*domain.Tournament, error) {
	if f.tournament == nil || f.tournament.ID != id {
		return nil, domain.ErrTournamentNotFound
	}
	return f.tournament, nil
}

func (f *fakeTournaments) GetRegistration(_ context.Context, id string) (*domain.TournamentRegistration, error) {
	if f.registration == nil || f.registration.ID != id {
		return nil, domain.ErrRegistrationNotFound
	}
	return f.registration, nil
}

type fakeGateway struct {
	sessionReq  *gateway.SessionRequest
	sessionErr  error
	refundErr   error
	refundCalls int
}

func (f *fakeGateway) CreateSession(_ context.Context, req gateway.SessionRequest) (*gateway.SessionResult, error) {
	f.sessionReq = &req
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &gateway.SessionResult{
		ProviderStatus:  "NEW",
		ProviderOrderID: req.OrderID,
		PaymentLinks:    gateway.PaymentLinks{Web: "https://pay.example.com/web"},
	}, nil
}

func (f *fakeGateway) Refund(_ context.Context, _ string, _ int64, _ string) (*gateway.RefundResult, error) {
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &gateway.RefundResult{Status: "PENDING", RefundID: "rfnd-001", RequestID: "rfnd_1"}, nil
}

type fakeReconciler struct {
	result    *reconcile.Result
	err       error
	pollCalls int
}

func (f *fakeReconciler) ReconcileCallback(_ context.Context, _ string, _ map[string]string) (*reconcile.Result, error) {
	return f.result, f.err
}

func (f *fakeReconciler) ReconcilePoll(_ context.Context, _ string) (*reconcile.Result, error) {
	f.pollCalls++
	return f.result, f.err
}

// =============================================================================
// Хелперы
// =============================================================================

func testPlayer() *domain.User {
	return &domain.User{
		ID:        "user-1",
		Email:     "player@example.com",
		Phone:     "+919876543210",
		FirstName: "Ananya",
		LastName:  "Iyer",
		Role:      domain.RolePlayer,
		TalukCode: "KPM",
	}
}

func newService(orders *fakeOrders, users *fakeUsers, tournaments *fakeTournaments, gw *fakeGateway, rec *fakeReconciler) *PaymentService {
	return NewPaymentService(orders, users, tournaments, gw, rec, config.GatewayConfig{
		ReturnURL: "http://localhost:8080/api/v1/payments/return",
	})
}

// =============================================================================
// Тарифы
// =============================================================================

func TestMembershipFee(t *testing.T) {
	tests := []struct {
		role    domain.UserRole
		want    int64
		wantErr bool
	}{
		{domain.RolePlayer, 75, false},
		{domain.RoleArbiter, 250, false},
		{domain.RoleAdmin, 75, false},
		{domain.UserRole("GUEST"), 0, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			fee, err := membershipFee(tt.role)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, fee)
		})
	}
}

// =============================================================================
// Инициация платежей
// =============================================================================

func TestPaymentService_InitiateMembership(t *testing.T) {
	t.Run("первичное членство игрока", func(t *testing.T) {
		orders := newFakeOrders()
		gw := &fakeGateway{}
		svc := newService(orders, &fakeUsers{user: testPlayer()}, &fakeTournaments{}, gw, &fakeReconciler{})

		result, err := svc.InitiateMembership(context.Background(), "user-1")
		require.NoError(t, err)

		assert.Equal(t, domain.PurposeMembershipNew, result.Order.Purpose)
		assert.Equal(t, FeeMembershipPlayer, result.Order.Amount)
		assert.Equal(t, "INR", result.Order.Currency)
		assert.Equal(t, domain.OrderStatusPending, result.Order.Status)
		assert.Regexp(t, `^DCA_MEM_NEW_\d+_[0-9a-f]{8}$`, result.Order.GatewayOrderID)
		assert.Equal(t, "https://pay.example.com/web", result.PaymentLinks.Web)

		// Сумма считается на сервере и уходит провайдеру как есть
		require.NotNil(t, gw.sessionReq)
		assert.Equal(t, FeeMembershipPlayer, gw.sessionReq.Amount)
		assert.Contains(t, gw.sessionReq.ReturnURL, "order_id="+result.Order.GatewayOrderID)
	})

	t.Run("продление членства арбитра", func(t *testing.T) {
		user := testPlayer()
		user.Role = domain.RoleArbiter
		users := &fakeUsers{
			user:       user,
			membership: &domain.Membership{ID: "m-1", UserID: "user-1", Status: domain.MembershipExpired},
		}
		svc := newService(newFakeOrders(), users, &fakeTournaments{}, &fakeGateway{}, &fakeReconciler{})

		result, err := svc.InitiateMembership(context.Background(), "user-1")
		require.NoError(t, err)

		assert.Equal(t, domain.PurposeMembershipRenewal, result.Order.Purpose)
		assert.Equal(t, FeeMembershipArbiter, result.Order.Amount)
	})

	t.Run("отказ провайдера — заказ закрыт, ошибка обобщённая", func(t *testing.T) {
		orders := newFakeOrders()
		gw := &fakeGateway{sessionErr: gateway.ErrUnavailable}
		svc := newService(orders, &fakeUsers{user: testPlayer()}, &fakeTournaments{}, gw, &fakeReconciler{})

		_, err := svc.InitiateMembership(context.Background(), "user-1")

		assert.ErrorIs(t, err, ErrPaymentInitFailed)
		assert.NotContains(t, err.Error(), "шлюз", "текст ошибки провайдера не должен утекать")
		require.Len(t, orders.created, 1)
		assert.Equal(t, domain.OrderStatusFailed, orders.created[0].Status)
	})

	t.Run("неизвестный пользователь", func(t *testing.T) {
		svc := newService(newFakeOrders(), &fakeUsers{}, &fakeTournaments{}, &fakeGateway{}, &fakeReconciler{})

		_, err := svc.InitiateMembership(context.Background(), "user-404")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})
}

func TestPaymentService_InitiateTournament(t *testing.T) {
	tournaments := func() *fakeTournaments {
		return &fakeTournaments{
			tournament: &domain.Tournament{ID: "t-1", Name: "Открытый кубок округа", EntryFee: 300},
			registration: &domain.TournamentRegistration{
				ID: "reg-1", TournamentID: "t-1", UserID: "user-1",
				Status: domain.RegistrationPending,
			},
		}
	}

	t.Run("сумма берётся из турнирного взноса", func(t *testing.T) {
		gw := &fakeGateway{}
		svc := newService(newFakeOrders(), &fakeUsers{user: testPlayer()}, tournaments(), gw, &fakeReconciler{})

		result, err := svc.InitiateTournament(context.Background(), "user-1", "reg-1")
		require.NoError(t, err)

		assert.Equal(t, domain.PurposeTournamentRegistration, result.Order.Purpose)
		assert.Equal(t, int64(300), result.Order.Amount)
		require.NotNil(t, result.Order.TournamentID)
		assert.Equal(t, "t-1", *result.Order.TournamentID)
		require.NotNil(t, result.Order.RegistrationID)
		assert.Equal(t, "reg-1", *result.Order.RegistrationID)
		assert.True(t, strings.HasPrefix(result.Order.GatewayOrderID, "DCA_TRN_"))
	})

	t.Run("чужая регистрация — ErrForbidden", func(t *testing.T) {
		tr := tournaments()
		tr.registration.UserID = "user-2"
		svc := newService(newFakeOrders(), &fakeUsers{user: testPlayer()}, tr, &fakeGateway{}, &fakeReconciler{})

		_, err := svc.InitiateTournament(context.Background(), "user-1", "reg-1")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("уже подтверждённая регистрация не оплачивается повторно", func(t *testing.T) {
		tr := tournaments()
		tr.registration.Status = domain.RegistrationConfirmed
		svc := newService(newFakeOrders(), &fakeUsers{user: testPlayer()}, tr, &fakeGateway{}, &fakeReconciler{})

		_, err := svc.InitiateTournament(context.Background(), "user-1", "reg-1")
		assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	})
}

func TestPaymentService_InitiateCertification(t *testing.T) {
	svc := newService(newFakeOrders(), &fakeUsers{user: testPlayer()}, &fakeTournaments{}, &fakeGateway{}, &fakeReconciler{})

	result, err := svc.InitiateCertification(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, domain.PurposeArbiterCertification, result.Order.Purpose)
	assert.Equal(t, FeeArbiterCertification, result.Order.Amount)
	assert.True(t, strings.HasPrefix(result.Order.GatewayOrderID, "DCA_ARB_CERT_"))
}

// =============================================================================
// Статус и история
// =============================================================================

func TestPaymentService_GetStatus(t *testing.T) {
	order := &domain.PaymentOrder{
		GatewayOrderID: "DCA_MEM_NEW_1700000000_ab12cd34",
		UserID:         "user-1",
		Purpose:        domain.PurposeMembershipNew,
		Status:         domain.OrderStatusPending,
	}

	t.Run("владелец получает свежий статус", func(t *testing.T) {
		rec := &fakeReconciler{result: &reconcile.Result{Order: order, Outcome: gateway.OutcomeSuccess, Applied: true}}
		svc := newService(newFakeOrders(order), &fakeUsers{user: testPlayer()}, &fakeTournaments{}, &fakeGateway{}, rec)

		result, err := svc.GetStatus(context.Background(), "user-1", domain.RolePlayer, order.GatewayOrderID)
		require.NoError(t, err)

		assert.Equal(t, gateway.OutcomeSuccess, result.Outcome)
		assert.False(t, result.Stale)
		assert.Equal(t, 1, rec.pollCalls)
	})

	t.Run("чужой заказ — ErrForbidden", func(t *testing.T) {
		rec := &fakeReconciler{}
		svc := newService(newFakeOrders(order), &fakeUsers{user: testPlayer()}, &fakeTournaments{}, &fakeGateway{}, rec)

		_, err := svc.GetStatus(context.Background(), "user-2", domain.RolePlayer, order.GatewayOrderID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Zero(t, rec.pollCalls)
	})

	t.Run("администратору доступен любой заказ", func(t *testing.T) {
		rec := &fakeReconciler{result: &reconcile.Result{Order: order, Outcome: gateway.OutcomePending}}
		svc := newService(newFakeOrders(order), &fakeUsers{user: testPlayer()}, &fakeTournaments{}, &fakeGateway{}, rec)

		_, err := svc.GetStatus(context.Background(), "admin-1", domain.RoleAdmin, order.GatewayOrderID)
		assert.NoError(t, err)
	})

	t.Run("провайдер недоступен — статус из БД с пометкой stale", func(t *testing.T) {
		rec := &fakeReconciler{err: gateway.ErrUnavailable}
		svc := newService(newFakeOrders(order), &fakeUsers{user: testPlayer()}, &fakeTournaments{}, &fakeGateway{}, rec)

		result, err := svc.GetStatus(context.Background(), "user-1", domain.RolePlayer, order.GatewayOrderID)
		require.NoError(t, err)

		assert.True(t, result.Stale)
		assert.Equal(t, domain.OrderStatusPending, result.Order.Status)
	})
}

// =============================================================================
// Возврат средств
// =============================================================================

func TestPaymentService_Refund(t *testing.T) {
	t.Run("возврат по успешному заказу", func(t *testing.T) {
		order := &domain.PaymentOrder{
			GatewayOrderID: "DCA_MEM_NEW_1700000000_ab12cd34",
			UserID:         "user-1",
			Amount:         75,
			Status:         domain.OrderStatusSuccess,
		}
		orders := newFakeOrders(order)
		gw := &fakeGateway{}
		svc := newService(orders, &fakeUsers{user: testPlayer()}, &fakeTournaments{}, gw, &fakeReconciler{})

		refunded, err := svc.Refund(context.Background(), order.GatewayOrderID)
		require.NoError(t, err)

		assert.Equal(t, domain.OrderStatusRefunded, refunded.Status)
		assert.Equal(t, 1, gw.refundCalls)
		assert.Equal(t, []string{order.GatewayOrderID}, orders.refunded)
	})

	t.Run("возврат по неоплаченному заказу запрещён", func(t *testing.T) {
		order := &domain.PaymentOrder{
			GatewayOrderID: "DCA_MEM_NEW_1700000000_ab12cd34",
			Status:         domain.OrderStatusPending,
		}
		gw := &fakeGateway{}
		svc := newService(newFakeOrders(order), &fakeUsers{user: testPlayer()}, &fakeTournaments{}, gw, &fakeReconciler{})

		_, err := svc.Refund(context.Background(), order.GatewayOrderID)

		assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)
		assert.Zero(t, gw.refundCalls, "провайдер не вызывается при запрете возврата")
	})

	t.Run("отказ провайдера — заказ остаётся SUCCESS", func(t *testing.T) {
		order := &domain.PaymentOrder{
			GatewayOrderID: "DCA_MEM_NEW_1700000000_ab12cd34",
			Amount:         75,
			Status:         domain.OrderStatusSuccess,
		}
		gw := &fakeGateway{refundErr: gateway.ErrUnavailable}
		svc := newService(newFakeOrders(order), &fakeUsers{user: testPlayer()}, &fakeTournaments{}, gw, &fakeReconciler{})

		_, err := svc.Refund(context.Background(), order.GatewayOrderID)

		assert.ErrorIs(t, err, gateway.ErrUnavailable)
		assert.Equal(t, domain.OrderStatusSuccess, order.Status)
	})
}

// =============================================================================
// Обходчик зависших платежей
// =============================================================================

func TestSweeper_Sweep(t *testing.T) {
	t.Run("зависшие заказы досверяются", func(t *testing.T) {
		order := &domain.PaymentOrder{
			GatewayOrderID: "DCA_MEM_NEW_1700000000_ab12cd34",
			Status:         domain.OrderStatusPending,
		}
		rec := &fakeReconciler{result: &reconcile.Result{Order: order, Outcome: gateway.OutcomeSuccess, Applied: true}}
		sweeper := NewSweeper(newFakeOrders(order), rec, DefaultSweeperConfig())

		sweeper.Sweep(context.Background())

		assert.Equal(t, 1, rec.pollCalls)
	})

	t.Run("недоступный провайдер прерывает обход", func(t *testing.T) {
		orders := newFakeOrders(
			&domain.PaymentOrder{GatewayOrderID: "DCA_TRN_1_aaaaaaaa", Status: domain.OrderStatusPending},
			&domain.PaymentOrder{GatewayOrderID: "DCA_TRN_2_bbbbbbbb", Status: domain.OrderStatusPending},
		)
		rec := &fakeReconciler{err: gateway.ErrUnavailable}
		sweeper := NewSweeper(orders, rec, DefaultSweeperConfig())

		sweeper.Sweep(context.Background())

		assert.Equal(t, 1, rec.pollCalls, "после первого отказа обход прекращается")
	})

	t.Run("нераспознанный статус не прерывает обход", func(t *testing.T) {
		orders := newFakeOrders(
			&domain.PaymentOrder{GatewayOrderID: "DCA_TRN_1_aaaaaaaa", Status: domain.OrderStatusPending},
			&domain.PaymentOrder{GatewayOrderID: "DCA_TRN_2_bbbbbbbb", Status: domain.OrderStatusPending},
		)
		rec := &fakeReconciler{err: domain.ErrAmbiguousStatus}
		sweeper := NewSweeper(orders, rec, DefaultSweeperConfig())

		sweeper.Sweep(context.Background())

		assert.Equal(t, 2, rec.pollCalls)
	})
}
