package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/GoArmGo/MatchApp/internal/config"
	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/usecase"
)

// Режимы запуска
const (
	ModeServer = "server"
	ModeWorker = "worker"
	ModeSeed   = "seed"
)

// Closer - ресурс, который нужно освободить при завершении (БД, брокер).
type Closer struct {
	Name  string
	Close func() error
}

type App struct {
	Config        *config.Config
	logger        *slog.Logger
	router        http.Handler
	avatars       usecase.AvatarService
	releaseSource ports.AvatarReleaseConsumer
	closers       []Closer
	seed          func(ctx context.Context) error
}

func NewApp(cfg *config.Config,
	logger *slog.Logger,
	router http.Handler,
	avatars usecase.AvatarService,
	releaseSource ports.AvatarReleaseConsumer,
	closers ...Closer) *App {
	return &App{
		Config:        cfg,
		logger:        logger,
		router:        router,
		avatars:       avatars,
		releaseSource: releaseSource,
		closers:       closers,
	}
}

// WithSeed задает наполнение базы для режима seed.
func (a *App) WithSeed(seed func(ctx context.Context) error) *App {
	a.seed = seed
	return a
}

// LoggerIns возвращает основной логгер приложения
func (a *App) LoggerIns() *slog.Logger {
	return a.logger
}

// Run запускает приложение в выбранном режиме и блокируется до SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context, mode *string) error {
	// канал для graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("starting application mode", "mode", *mode)

	var err error

	switch *mode {
	case ModeServer:
		err = runServer(ctx, a.Config, a.router, a.logger)

	case ModeWorker:
		err = runWorker(ctx, a.avatars, a.releaseSource, a.logger)

	case ModeSeed:
		err = runSeed(ctx, a.seed)

	default:
		err = fmt.Errorf("неизвестный режим: %s (используйте 'server', 'worker' или 'seed')", *mode)
	}

	// аккуратно закрываем ресурсы
	if closeErr := a.Shutdown(); closeErr != nil {
		a.logger.Error("shutdown finished with errors", "error", closeErr)
	}

	if err != nil {
		return err
	}
	a.logger.Info("application shut down cleanly")
	return nil
}

// runSeed однократно наполняет базу и завершается.
func runSeed(ctx context.Context, seed func(ctx context.Context) error) error {
	if seed == nil {
		return errors.New("наполнение базы не настроено")
	}
	if err := seed(ctx); err != nil {
		return fmt.Errorf("ошибка наполнения базы: %w", err)
	}
	return nil
}

// Shutdown закрывает все ресурсы приложения в обратном порядке создания.
func (a *App) Shutdown() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Close(); err != nil {
			a.logger.Error("failed to close resource", "resource", c.Name, "error", err)
			errs = append(errs, fmt.Errorf("ошибка закрытия %s: %w", c.Name, err))
			continue
		}
		a.logger.Info("resource closed", "resource", c.Name)
	}
	a.closers = nil
	return errors.Join(errs...)
}
