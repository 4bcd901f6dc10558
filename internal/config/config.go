package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Драйверы хранилища пользователей
const (
	StorageDriverSQLX   = "sqlx"
	StorageDriverGorm   = "gorm"
	StorageDriverMemory = "memory"
)

const minSessionSecretLen = 32

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL    string        `env:"DATABASE_URL"`
	ServerPort     string        `env:"SERVER_PORT"`
	StorageDriver  string        `env:"STORAGE_DRIVER" envDefault:"sqlx"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Сессии (cookie)
	SessionSecret string `env:"SESSION_SECRET,required"`
	SessionName   string `env:"SESSION_NAME" envDefault:"matchapp_session"`
	SessionMaxAge int    `env:"SESSION_MAX_AGE" envDefault:"86400"`
	SessionSecure bool   `env:"SESSION_SECURE"`

	// Учетные данные и подбор
	BcryptCost        int `env:"BCRYPT_COST" envDefault:"10"`
	DiscoverLimit     int `env:"DISCOVER_LIMIT" envDefault:"100"`
	SlugInsertRetries int `env:"SLUG_INSERT_RETRIES" envDefault:"3"`

	// Файл наполнения для -mode seed; пустой означает встроенный набор
	SeedFile string `env:"SEED_FILE"`

	// Настройки для MinIO (аватары)
	MinioEndpoint        string `env:"MINIO_ENDPOINT,required"`
	MinioAccessKeyID     string `env:"MINIO_ACCESS_KEY_ID,required"`
	MinioSecretAccessKey string `env:"MINIO_SECRET_ACCESS_KEY,required"`
	MinioUseSSL          bool   `env:"MINIO_USE_SSL"`
	MinioBucketName      string `env:"MINIO_BUCKET_NAME,required"`
	MinioRegion          string `env:"MINIO_REGION,required"`
	MinioPublicURL       string `env:"MINIO_PUBLIC_URL" envDefault:"http://localhost:9000"`

	RabbitMQ struct {
		RabbitMQURL       string `env:"RABBITMQ_URL,required"`
		RabbitMQQueueName string `env:"RABBITMQ_QUEUE_NAME" envDefault:"avatar_release_queue"`
	}
}

// LoadConfig загружает конфигурацию из переменных окружения.
// В режиме разработки пытается загрузить .env файл.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); !os.IsNotExist(err) {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("ошибка загрузки .env файла: %w", err)
		}
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации из окружения: %w", err)
	}

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет взаимозависимые параметры, которые нельзя выразить тегами.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverSQLX, StorageDriverGorm:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL обязателен для драйвера %q", c.StorageDriver)
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("неизвестный STORAGE_DRIVER: %q", c.StorageDriver)
	}

	if len(c.SessionSecret) < minSessionSecretLen {
		return fmt.Errorf("SESSION_SECRET должен быть не короче %d байт", minSessionSecretLen)
	}
	if c.DiscoverLimit <= 0 {
		return fmt.Errorf("DISCOVER_LIMIT должен быть положительным, получено %d", c.DiscoverLimit)
	}
	if c.SlugInsertRetries < 1 {
		c.SlugInsertRetries = 1
	}
	return nil
}

// HTTPAddress возвращает адрес, на котором слушает HTTP-сервер.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.ServerPort)
}
