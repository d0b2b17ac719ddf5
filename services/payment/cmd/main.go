// Payment Service — платёжный сервис портала окружной шахматной ассоциации.
// Принимает платежи членских, турнирных и сертификационных взносов через
// внешний платёжный шлюз, сверяет их по callback и фоновому опросу и
// публикует события платежей в Kafka через outbox.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/chess-portal/pkg/config"
	dbpkg "example.com/chess-portal/pkg/db"
	"example.com/chess-portal/pkg/healthcheck"
	"example.com/chess-portal/pkg/jwt"
	"example.com/chess-portal/pkg/kafka"
	"example.com/chess-portal/pkg/logger"
	"example.com/chess-portal/pkg/metrics"
	"example.com/chess-portal/pkg/outbox"
	"example.com/chess-portal/pkg/tracing"
	"example.com/chess-portal/services/payment/internal/gateway"
	"example.com/chess-portal/services/payment/internal/handler"
	"example.com/chess-portal/services/payment/internal/middleware"
	"example.com/chess-portal/services/payment/internal/reconcile"
	"example.com/chess-portal/services/payment/internal/repository"
	"example.com/chess-portal/services/payment/internal/service"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "payment-service").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Payment Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "payment-service",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectPostgres(cfg.Postgres, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к PostgreSQL")
	}
	log.Info().Msg("Подключение к PostgreSQL установлено")

	rdb := dbpkg.ConnectRedis(cfg.Redis)
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	pingCancel()
	log.Info().Msg("Подключение к Redis установлено")

	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckPostgres(ctx, db) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, rdb) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"payment-service",
			metrics.WithReadinessCheck(readinessCheck),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	jwtManager, err := jwt.NewManager(jwt.Config{
		PublicKeyPath: cfg.JWT.PublicKeyPath,
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка загрузки публичного ключа JWT")
	}

	orderRepo := repository.NewOrderRepository(db)
	userRepo := repository.NewUserRepository(db)
	tournamentRepo := repository.NewTournamentRepository(db)

	gatewayClient := gateway.NewClient(cfg.Gateway)
	validator := gateway.NewSignatureValidator(cfg.Gateway.ResponseKey)
	engine := reconcile.NewEngine(orderRepo, gatewayClient, validator, rdb)

	paymentService := service.NewPaymentService(
		orderRepo, userRepo, tournamentRepo, gatewayClient, engine, cfg.Gateway)

	// Контекст для graceful shutdown фоновых воркеров
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup

	// === Kafka: публикация событий платежей через outbox ===

	var kafkaProducer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultPaymentTopics()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		outboxRepo := outbox.NewOutboxRepository(db, "payment_order")
		outboxWorker := outbox.NewOutboxWorker(outboxRepo, kafkaProducer, outbox.DefaultWorkerConfig(), "payment")
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Outbox Worker")
				}
			}()
			outboxWorker.Run(ctx)
		}()

		log.Info().Msg("Outbox Worker запущен")
	} else {
		log.Warn().Msg("Kafka не настроена — публикация событий платежей отключена")
	}

	// === Фоновый обход зависших платежей ===

	sweeper := service.NewSweeper(orderRepo, engine, service.DefaultSweeperConfig())
	workersWg.Add(1)
	go func() {
		defer workersWg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Паника в обходчике зависших платежей")
			}
		}()
		sweeper.Run(ctx)
	}()

	// === HTTP сервер ===

	router := handler.NewRouter(handler.RouterConfig{
		Service: paymentService,
		AuthMW:  middleware.NewAuthMiddleware(middleware.NewJWTValidator(jwtManager)),
		RateLimitMW: middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis: rdb,
		}),
		ReadinessCheck: readinessCheck,
		Debug:          cfg.IsDevelopment(),
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: router.Engine(),
		// Запросы к провайдеру могут жить до 100 секунд
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Запуск HTTP сервера")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	// Останавливаем приём новых запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	// Останавливаем фоновые воркеры
	cancel()
	workersWg.Wait()

	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия PostgreSQL")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Payment Service остановлен")
}
