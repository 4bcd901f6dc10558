package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/messaging/payloads"
	"github.com/GoArmGo/MatchApp/internal/usecase"
)

// drainDelay даёт обработчику завершить текущее сообщение после отмены.
const drainDelay = 2 * time.Second

// runWorker потребляет задачи на удаление аватаров и блокируется до отмены ctx.
func runWorker(
	ctx context.Context,
	avatars usecase.AvatarService,
	consumer ports.AvatarReleaseConsumer,
	logger *slog.Logger,
) error {
	if consumer == nil {
		return fmt.Errorf("режим worker требует подключения к RabbitMQ")
	}
	logger.Info("worker started, waiting for avatar release messages")

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	messageHandler := func(ctx context.Context, payload payloads.AvatarReleasePayload) error {
		start := time.Now()
		if err := avatars.HandleRelease(ctx, payload); err != nil {
			logger.Error("failed to release avatar", "key", payload.Ref, "error", err)
			return err
		}
		logger.Info("avatar release processed",
			"key", payload.Ref,
			"queued_for_ms", start.Sub(payload.RequestedAt).Milliseconds(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	if err := consumer.StartConsumingAvatarReleases(workerCtx, messageHandler); err != nil {
		return fmt.Errorf("ошибка при запуске потребителя RabbitMQ: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping worker")

	cancelWorker()
	time.Sleep(drainDelay)

	logger.Info("worker stopped")
	return nil
}
