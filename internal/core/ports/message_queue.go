package ports

import (
	"context"

	"github.com/GoArmGo/MatchApp/internal/messaging/payloads"
)

// AvatarReleasePublisher публикует задачи на удаление файлов аватаров.
// Используется сервером, чтобы не удалять файлы в рамках HTTP-запроса.
type AvatarReleasePublisher interface {
	PublishAvatarRelease(ctx context.Context, payload payloads.AvatarReleasePayload) error
}

// AvatarReleaseConsumer потребляет задачи на удаление аватаров.
// Используется воркером.
type AvatarReleaseConsumer interface {
	// StartConsumingAvatarReleases начинает прослушивание очереди;
	// handler вызывается для каждого сообщения, ошибка возвращает сообщение в очередь.
	StartConsumingAvatarReleases(ctx context.Context, handler func(context.Context, payloads.AvatarReleasePayload) error) error
}
