package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/google/uuid"
)

// fallbackSlug используется, когда из имени не осталось ни одного допустимого символа.
const fallbackSlug = "user"

// maxSlugSuffix ограничивает перебор суффиксов -1, -2, ...
const maxSlugSuffix = 10000

var (
	slugDisallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces     = regexp.MustCompile(`\s+`)
	slugHyphens    = regexp.MustCompile(`-+`)
)

// Slugify переводит имя в нижний регистр, обрезает пробелы по краям,
// удаляет всё кроме [a-z0-9], пробелов и дефисов и схлопывает
// пробелы и дефисы в один дефис.
func Slugify(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	s = slugDisallowed.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	return slugHyphens.ReplaceAllString(s, "-")
}

// identityService implements IdentityService
type identityService struct {
	store  ports.UserStore
	hasher ports.PasswordHasher
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewIdentityService создает сервис slug и учетных данных.
func NewIdentityService(store ports.UserStore, hasher ports.PasswordHasher, logger *slog.Logger) IdentityService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &identityService{store: store, hasher: hasher, logger: logger}
}

func (s *identityService) UniqueSlug(ctx context.Context, username string, ownerID uuid.UUID) (string, error) {
	base := Slugify(username)
	if base == "" {
		base = fallbackSlug
	}

	candidate := base
	for i := 1; i <= maxSlugSuffix; i++ {
		free, err := s.slugFree(ctx, candidate, ownerID)
		if err != nil {
			return "", fmt.Errorf("usecase: ошибка при проверке slug %q: %w", candidate, err)
		}
		if free {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("usecase: не удалось подобрать свободный slug для %q: %w", base, domain.ErrSlugTaken)
}

func (s *identityService) slugFree(ctx context.Context, slug string, ownerID uuid.UUID) (bool, error) {
	if ownerID == uuid.Nil {
		taken, err := s.store.SlugExists(ctx, slug)
		return !taken, err
	}
	holder, err := s.store.FindUserBySlug(ctx, slug)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return holder.ID == ownerID, nil
}

func (s *identityService) HashSecret(secret string) (string, error) {
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", fmt.Errorf("usecase: ошибка при хешировании пароля: %w", err)
	}
	return hash, nil
}

func (s *identityService) VerifySecret(secret, hash string) bool {
	return s.hasher.Verify(secret, hash)
}

// Authenticate не различает неизвестное имя и неверный пароль.
// Для неизвестного имени пароль всё равно сверяется с фиктивным хешем,
// чтобы время ответа не выдавало существование пользователя.
func (s *identityService) Authenticate(ctx context.Context, username, secret string) (*domain.User, error) {
	user, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrNotFound) {
		s.hasher.Verify(secret, s.fakeHash())
		s.logger.Info("login rejected", "reason", "unknown username")
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при поиске пользователя для входа: %w", err)
	}
	if !s.hasher.Verify(secret, user.PasswordHash) {
		s.logger.Info("login rejected", "reason", "wrong password", "user_id", user.ID)
		return nil, domain.ErrUnauthorized
	}
	return user, nil
}

func (s *identityService) fakeHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			s.logger.Warn("failed to prepare dummy hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
