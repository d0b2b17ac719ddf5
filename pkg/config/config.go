// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию платёжного сервиса.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Gateway  GatewayConfig
	Jaeger   JaegerConfig
	Metrics  MetricsConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"chess-portal"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig содержит настройки HTTP сервера.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr возвращает адрес для HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PostgresConfig содержит настройки подключения к PostgreSQL.
type PostgresConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"postgres"`
	Password        string        `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Database        string        `env:"POSTGRES_DATABASE" envDefault:"chess_portal"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к PostgreSQL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
// Пустой список брокеров отключает публикацию платёжных событий.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
}

// JWTConfig содержит настройки валидации JWT токенов (RS256).
// Токены выдаёт портал учётных записей; платёжному сервису нужен
// только публичный ключ.
type JWTConfig struct {
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH,required"` // Путь к публичному ключу (PEM)
	Issuer        string `env:"JWT_ISSUER" envDefault:"chess-portal"`
}

// GatewayConfig содержит настройки платёжного шлюза (HDFC SmartGateway, API в стиле Juspay).
type GatewayConfig struct {
	BaseURL     string        `env:"GATEWAY_BASE_URL" envDefault:"https://smartgatewayuat.hdfcbank.com"`
	APIKey      string        `env:"GATEWAY_API_KEY"`     // Ключ API для Basic-auth
	MerchantID  string        `env:"GATEWAY_MERCHANT_ID"` // Заголовок x-merchantid
	ClientID    string        `env:"GATEWAY_CLIENT_ID"`   // payment_page_client_id для создания сессии
	Version     string        `env:"GATEWAY_API_VERSION" envDefault:"2023-06-30"`
	ResponseKey string        `env:"GATEWAY_RESPONSE_KEY"` // Секрет HMAC для проверки подписи callback
	ReturnURL   string        `env:"GATEWAY_RETURN_URL" envDefault:"http://localhost:8080/api/v1/payments/return"`
	Timeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"100s"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"` // OTLP gRPC порт
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"` // Включить metrics endpoint
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`    // Порт для /metrics
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файл не найден)
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность конфигурации.
// В production отсутствие секретов шлюза — ошибка запуска: без
// response key проверка подписи callback деградирует в fail-open,
// что допустимо только в development окружениях.
func (c *Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	if c.Gateway.APIKey == "" {
		return fmt.Errorf("GATEWAY_API_KEY обязателен в production")
	}
	if c.Gateway.MerchantID == "" {
		return fmt.Errorf("GATEWAY_MERCHANT_ID обязателен в production")
	}
	if c.Gateway.ResponseKey == "" {
		return fmt.Errorf("GATEWAY_RESPONSE_KEY обязателен в production: без него подпись callback не проверяется")
	}
	return nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
