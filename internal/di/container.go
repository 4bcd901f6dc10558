package di

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoArmGo/MatchApp/internal/adapter/security"
	"github.com/GoArmGo/MatchApp/internal/adapter/storage/minio"
	"github.com/GoArmGo/MatchApp/internal/app"
	"github.com/GoArmGo/MatchApp/internal/config"
	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/database/client"
	"github.com/GoArmGo/MatchApp/internal/database/memory"
	"github.com/GoArmGo/MatchApp/internal/database/postgres"
	"github.com/GoArmGo/MatchApp/internal/database/storage"
	"github.com/GoArmGo/MatchApp/internal/handler"
	"github.com/GoArmGo/MatchApp/internal/logger"
	"github.com/GoArmGo/MatchApp/internal/rabbitmq"
	"github.com/GoArmGo/MatchApp/internal/seed"
	"github.com/GoArmGo/MatchApp/internal/usecase"
)

// uploadConcurrency - сколько аватаров сервер принимает одновременно.
const uploadConcurrency = 5

// BuildApp инициализирует все зависимости и возвращает готовый объект App.
func BuildApp(ctx context.Context) (*app.App, error) {
	// 1. Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	slogCfg := logger.SlogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}
	slogger := logger.NewSlog(slogCfg)

	slogger.Info("logger initialized", "level", cfg.LogLevel, "format", cfg.LogFormat)

	var closers []app.Closer
	fail := func(err error) (*app.App, error) {
		_ = app.NewApp(cfg, slogger, nil, nil, nil, closers...).Shutdown()
		return nil, err
	}

	// 2. Хранилище пользователей
	userStore, storeClosers, err := buildUserStore(ctx, cfg, slogger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, storeClosers...)

	// 3. Файловое хранилище аватаров (S3 / MinIO адаптер)
	fileStorage, err := minio.NewMinioClient(ctx, cfg, slogger)
	if err != nil {
		return fail(err)
	}

	// 4. RabbitMQ: сервер публикует задачи удаления аватаров, воркер их потребляет
	rabbitMQClient, err := rabbitmq.NewClient(cfg, slogger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, app.Closer{Name: "rabbitmq", Close: func() error {
		rabbitMQClient.Close()
		return nil
	}})

	// 5. Инициализация бизнес-логики (usecases)
	hasher := security.NewBcryptHasher(cfg.BcryptCost)
	identity := usecase.NewIdentityService(userStore, hasher, slogger)
	engine := usecase.NewRelationshipEngine(userStore, slogger, cfg.DiscoverLimit)
	avatars := usecase.NewAvatarService(fileStorage, rabbitMQClient, slogger)
	profiles := usecase.NewProfileService(userStore, identity, avatars, slogger, cfg.SlugInsertRetries)
	queries := usecase.NewQueryService(userStore, slogger)

	// 6. HTTP-слой
	sessions := handler.NewSessionManager(handler.SessionConfig{
		Name:   cfg.SessionName,
		Secret: cfg.SessionSecret,
		MaxAge: cfg.SessionMaxAge,
		Secure: cfg.SessionSecure,
	})
	uploadLimiter := make(chan struct{}, uploadConcurrency)

	router := handler.NewRouter(handler.Handlers{
		Users:    handler.NewUserHandler(profiles, queries, identity, sessions, uploadLimiter, slogger),
		Matches:  handler.NewMatchHandler(engine, queries, slogger),
		Avatars:  handler.NewAvatarHandler(fileStorage, slogger),
		Sessions: sessions,
	}, slogger, cfg.RequestTimeout)

	// 7. Сборка итогового приложения
	application := app.NewApp(
		cfg,
		slogger,
		router,
		avatars,
		rabbitMQClient,
		closers...,
	)
	seeder := seed.NewSeeder(profiles, engine, userStore, slogger)
	application.WithSeed(func(ctx context.Context) error {
		fixtures, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		_, err = seeder.Run(ctx, fixtures)
		return err
	})

	slogger.Info("all dependencies initialized", "storage_driver", cfg.StorageDriver)
	return application, nil
}

// buildUserStore выбирает реализацию ports.UserStore по STORAGE_DRIVER.
// Миграции всегда применяет sqlx-клиент, даже если запросы идут через GORM.
func buildUserStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ports.UserStore, []app.Closer, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory user storage, data will be lost on restart")
		return memory.NewUserStore(logger), nil, nil

	case config.StorageDriverSQLX, config.StorageDriverGorm:
		dbClient, err := client.NewClient(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		closers := []app.Closer{{Name: "postgres", Close: dbClient.Close}}
		if cfg.StorageDriver == config.StorageDriverSQLX {
			return storage.NewUserStorage(dbClient.DB, logger), closers, nil
		}

		gormDB, err := postgres.NewGormDB(ctx, cfg, logger)
		if err != nil {
			_ = dbClient.Close()
			return nil, nil, err
		}
		closers = append(closers, app.Closer{Name: "gorm", Close: func() error { return postgres.CloseGormDB(gormDB) }})
		return postgres.NewGormUserStorage(gormDB, logger), closers, nil
	}
	return nil, nil, fmt.Errorf("неизвестный STORAGE_DRIVER: %q", cfg.StorageDriver)
}
