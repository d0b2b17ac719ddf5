package service

import (
	"context"
	"errors"
	"time"

	"example.com/chess-portal/pkg/logger"
	"example.com/chess-portal/services/payment/internal/domain"
	"example.com/chess-portal/services/payment/internal/gateway"
	"example.com/chess-portal/services/payment/internal/repository"
)

// SweeperConfig — настройки обхода зависших платежей.
type SweeperConfig struct {
	// Interval — период между обходами.
	Interval time.Duration

	// StuckAfter — возраст PENDING заказа, после которого он считается
	// зависшим: пользователь закрыл страницу оплаты, callback потерялся.
	StuckAfter time.Duration

	// BatchSize — количество заказов за один обход.
	BatchSize int
}

// DefaultSweeperConfig возвращает конфигурацию по умолчанию.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   5 * time.Minute,
		StuckAfter: 15 * time.Minute,
		BatchSize:  50,
	}
}

// Sweeper периодически досверяет зависшие PENDING заказы опросом
// провайдера. Страховка от потерянных callback: без неё заказ с
// успешно списанными деньгами навсегда останется PENDING.
type Sweeper struct {
	orders     repository.OrderRepository
	reconciler Reconciler
	cfg        SweeperConfig
}

// NewSweeper создаёт обходчик зависших платежей.
func NewSweeper(orders repository.OrderRepository, reconciler Reconciler, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		orders:     orders,
		reconciler: reconciler,
		cfg:        cfg,
	}
}

// Run запускает обходчик. Блокирует выполнение до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stuck_after", s.cfg.StuckAfter).
		Int("batch_size", s.cfg.BatchSize).
		Msg("Запуск обходчика зависших платежей")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка обходчика зависших платежей")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep выполняет один обход зависших заказов.
func (s *Sweeper) Sweep(ctx context.Context) {
	log := logger.FromContext(ctx)

	orders, err := s.orders.GetStuckPending(ctx, s.cfg.StuckAfter, s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка выборки зависших заказов")
		return
	}
	if len(orders) == 0 {
		return
	}

	log.Info().Int("count", len(orders)).Msg("Досверка зависших заказов")

	for _, order := range orders {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := s.reconciler.ReconcilePoll(ctx, order.GatewayOrderID)
		switch {
		case err == nil:
			if result.Applied {
				log.Info().
					Str("gateway_order_id", order.GatewayOrderID).
					Str("outcome", result.Outcome.String()).
					Msg("Зависший заказ финализирован фоновым опросом")
			}
		case errors.Is(err, domain.ErrAmbiguousStatus):
			// Заказ остаётся PENDING до разбора оператором.
			log.Warn().
				Str("gateway_order_id", order.GatewayOrderID).
				Msg("Зависший заказ с нераспознанным статусом провайдера")
		case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, gateway.ErrTimeout):
			// Провайдер лежит — весь обход бессмыслен, ждём следующего тика.
			log.Warn().Err(err).Msg("Провайдер недоступен, обход прерван")
			return
		default:
			log.Error().Err(err).
				Str("gateway_order_id", order.GatewayOrderID).
				Msg("Ошибка досверки зависшего заказа")
		}
	}
}
