package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/messaging/payloads"
	"github.com/google/uuid"
)

// MaxAvatarBytes - предельный размер файла аватара.
const MaxAvatarBytes = 2 << 20

// avatarKeyPrefix - префикс ключей аватаров в бакете.
const avatarKeyPrefix = "avatars/"

// Допустимые типы изображений и расширения файлов для них.
var avatarExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// avatarService implements AvatarService
type avatarService struct {
	files     FileStorage
	publisher ports.AvatarReleasePublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewAvatarService создает сервис аватаров.
// Если publisher не nil, освобождение файлов откладывается в очередь,
// иначе файл удаляется из хранилища сразу.
func NewAvatarService(files FileStorage, publisher ports.AvatarReleasePublisher, logger *slog.Logger) AvatarService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &avatarService{files: files, publisher: publisher, logger: logger, now: time.Now}
}

// Store читает файл целиком, определяет тип по содержимому (заявленному типу
// клиента не доверяем) и загружает его под новым ключом.
func (s *avatarService) Store(ctx context.Context, upload AvatarUpload) (string, error) {
	if upload.Body == nil {
		return "", domain.NewValidationError("avatar", "file is empty")
	}
	if upload.Size > MaxAvatarBytes {
		return "", domain.NewValidationError("avatar", "file exceeds 2 MiB")
	}

	data, err := io.ReadAll(io.LimitReader(upload.Body, MaxAvatarBytes+1))
	if err != nil {
		return "", fmt.Errorf("usecase: ошибка при чтении файла аватара: %w", err)
	}
	if len(data) == 0 {
		return "", domain.NewValidationError("avatar", "file is empty")
	}
	if len(data) > MaxAvatarBytes {
		return "", domain.NewValidationError("avatar", "file exceeds 2 MiB")
	}

	contentType := http.DetectContentType(data)
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return "", domain.NewValidationError("avatar", "only jpeg, png, gif and webp images are allowed")
	}

	key := avatarKeyPrefix + uuid.NewString() + ext
	start := time.Now()
	if _, err := s.files.UploadFile(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return "", fmt.Errorf("usecase: ошибка загрузки аватара %s: %w", key, err)
	}

	s.logger.Info("avatar stored",
		"key", key,
		"content_type", contentType,
		"size", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return key, nil
}

func (s *avatarService) Release(ctx context.Context, ref string) error {
	if domain.IsDefaultImage(ref) {
		return nil
	}
	if s.publisher == nil {
		return s.deleteFile(ctx, ref)
	}

	payload := payloads.AvatarReleasePayload{Ref: ref, RequestedAt: s.now().UTC()}
	if err := s.publisher.PublishAvatarRelease(ctx, payload); err != nil {
		return fmt.Errorf("usecase: ошибка при публикации задачи удаления аватара %s: %w", ref, err)
	}
	s.logger.Info("avatar release enqueued", "key", ref)
	return nil
}

func (s *avatarService) HandleRelease(ctx context.Context, payload payloads.AvatarReleasePayload) error {
	if domain.IsDefaultImage(payload.Ref) {
		return nil
	}
	return s.deleteFile(ctx, payload.Ref)
}

func (s *avatarService) deleteFile(ctx context.Context, ref string) error {
	start := time.Now()
	if err := s.files.DeleteFile(ctx, ref); err != nil {
		return fmt.Errorf("usecase: ошибка удаления аватара %s: %w", ref, err)
	}
	s.logger.Info("avatar released",
		"key", ref,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
