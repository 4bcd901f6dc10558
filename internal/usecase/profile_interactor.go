package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/google/uuid"
)

// DefaultSlugInsertRetries - сколько раз пересчитывается slug, если его заняли
// между проверкой и записью.
const DefaultSlugInsertRetries = 3

// profileService implements ProfileService
type profileService struct {
	store       ports.UserStore
	identity    IdentityService
	avatars     AvatarService
	validator   *inputValidator
	logger      *slog.Logger
	slugRetries int
}

// NewProfileService создает сервис профилей.
// avatars может быть nil: тогда загрузка аватаров отклоняется,
// а освобождать нечего, кроме аватара по умолчанию.
func NewProfileService(
	store ports.UserStore,
	identity IdentityService,
	avatars AvatarService,
	logger *slog.Logger,
	slugRetries int,
) ProfileService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if slugRetries <= 0 {
		slugRetries = DefaultSlugInsertRetries
	}
	return &profileService{
		store:       store,
		identity:    identity,
		avatars:     avatars,
		validator:   newInputValidator(),
		logger:      logger,
		slugRetries: slugRetries,
	}
}

func (s *profileService) Create(ctx context.Context, in CreateInput) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)

	ve := &domain.ValidationError{}
	s.validator.Var(ve, "username", username, usernameRule)
	s.validator.Var(ve, "password", in.Password, passwordRule)
	s.validator.Var(ve, "description", in.Description, descriptionRule)
	s.validator.Var(ve, "age", in.Age, ageRule)
	if ve.HasProblems() {
		s.logger.Warn("registration rejected", "problems", ve.Problems)
		return nil, ve
	}

	if err := s.ensureUsernameFree(ctx, username, uuid.Nil); err != nil {
		return nil, err
	}

	hash, err := s.identity.HashSecret(in.Password)
	if err != nil {
		return nil, err
	}

	image := domain.DefaultProfileImage
	if in.Avatar != nil {
		if image, err = s.storeAvatar(ctx, *in.Avatar); err != nil {
			return nil, err
		}
	}

	user := &domain.User{
		Username:         username,
		PasswordHash:     hash,
		ProfileImage:     image,
		Description:      in.Description,
		Age:              in.Age,
		Partners:         domain.IDSet{},
		OutgoingRequests: domain.IDSet{},
		IncomingRequests: domain.IDSet{},
	}

	start := time.Now()
	err = s.withSlugRetry(ctx, username, uuid.Nil, func(slug string) error {
		user.ID = uuid.New()
		user.Slug = slug
		return s.store.InsertUser(ctx, user)
	})
	if err != nil {
		s.releaseQuietly(ctx, image)
		return nil, fmt.Errorf("usecase: ошибка при создании пользователя %q: %w", username, err)
	}

	s.logger.Info("user registered",
		"user_id", user.ID,
		"slug", user.Slug,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return user, nil
}

// Update меняет только переданные поля. Новый аватар загружается до записи;
// при неудачной записи он освобождается, при удачной освобождается старый.
func (s *profileService) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*domain.User, error) {
	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при получении пользователя %s: %w", id, err)
	}

	var username string
	ve := &domain.ValidationError{}
	if in.Username != nil {
		username = strings.TrimSpace(*in.Username)
		s.validator.Var(ve, "username", username, usernameRule)
	}
	if in.Password != nil {
		s.validator.Var(ve, "password", *in.Password, passwordRule)
	}
	if in.Description != nil {
		s.validator.Var(ve, "description", *in.Description, descriptionRule)
	}
	if in.Age != nil {
		s.validator.Var(ve, "age", *in.Age, ageRule)
	}
	if ve.HasProblems() {
		s.logger.Warn("profile update rejected", "user_id", id, "problems", ve.Problems)
		return nil, ve
	}

	var update domain.UserUpdate
	renamed := in.Username != nil && username != user.Username
	if renamed {
		if err := s.ensureUsernameFree(ctx, username, id); err != nil {
			return nil, err
		}
		update.Username = &username
	}
	if in.Password != nil {
		hash, err := s.identity.HashSecret(*in.Password)
		if err != nil {
			return nil, err
		}
		update.PasswordHash = &hash
	}
	if in.Description != nil {
		update.Description = in.Description
	}
	if in.Age != nil {
		update.Age = in.Age
	}

	oldImage := user.ProfileImage
	var newImage string
	if in.Avatar != nil {
		if newImage, err = s.storeAvatar(ctx, *in.Avatar); err != nil {
			return nil, err
		}
		update.ProfileImage = &newImage
	}

	if update.Empty() {
		return user, nil
	}

	start := time.Now()
	apply := func(slug string) error {
		if renamed {
			update.Slug = &slug
		}
		return s.store.SetFields(ctx, id, update)
	}
	if renamed {
		err = s.withSlugRetry(ctx, username, id, apply)
	} else {
		err = apply("")
	}
	if err != nil {
		if newImage != "" {
			s.releaseQuietly(ctx, newImage)
		}
		return nil, fmt.Errorf("usecase: ошибка при обновлении пользователя %s: %w", id, err)
	}

	if newImage != "" && oldImage != newImage {
		s.releaseQuietly(ctx, oldImage)
	}

	update.Apply(user)
	s.logger.Info("profile updated",
		"user_id", id,
		"renamed", renamed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return user, nil
}

// Delete в одной транзакции блокирует запись, удаляет id из связей остальных
// пользователей и саму запись. Конкурирующий переход с участием id ждёт
// блокировку и после коммита получает domain.ErrUserNotFound. Аватар
// освобождается только после коммита.
func (s *profileService) Delete(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	var image string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.UserStore) error {
		locked, err := tx.LockUsers(ctx, id)
		if err != nil {
			return err
		}
		image = locked[0].ProfileImage

		if err := purgeWithin(ctx, tx, id); err != nil {
			return err
		}
		return tx.DeleteUser(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("usecase: ошибка при удалении пользователя %s: %w", id, err)
	}

	// Учётная запись уже удалена: сбой освобождения файла только логируется.
	s.releaseQuietly(ctx, image)

	s.logger.Info("user deleted",
		"user_id", id,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// ensureUsernameFree возвращает domain.ErrUsernameTaken, если имя занято
// кем-то кроме ownerID.
func (s *profileService) ensureUsernameFree(ctx context.Context, username string, ownerID uuid.UUID) error {
	holder, err := s.store.FindUserByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("usecase: ошибка при проверке имени %q: %w", username, err)
	}
	if holder.ID == ownerID {
		return nil
	}
	return domain.ErrUsernameTaken
}

// withSlugRetry подбирает slug и вызывает write; если slug заняли между
// проверкой и записью, подбирает его заново.
func (s *profileService) withSlugRetry(ctx context.Context, username string, ownerID uuid.UUID, write func(slug string) error) error {
	var err error
	for attempt := 0; attempt <= s.slugRetries; attempt++ {
		var slug string
		slug, err = s.identity.UniqueSlug(ctx, username, ownerID)
		if err != nil {
			return err
		}
		err = write(slug)
		if !errors.Is(err, domain.ErrSlugTaken) {
			return err
		}
		s.logger.Warn("slug taken concurrently, retrying", "slug", slug, "attempt", attempt+1)
	}
	return err
}

func (s *profileService) storeAvatar(ctx context.Context, upload AvatarUpload) (string, error) {
	if s.avatars == nil {
		return "", domain.NewValidationError("avatar", "avatar uploads are disabled")
	}
	return s.avatars.Store(ctx, upload)
}

func (s *profileService) releaseQuietly(ctx context.Context, ref string) {
	if s.avatars == nil || domain.IsDefaultImage(ref) {
		return
	}
	if err := s.avatars.Release(ctx, ref); err != nil {
		s.logger.Error("failed to release avatar", "key", ref, "error", err)
	}
}
