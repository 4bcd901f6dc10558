package ports

import (
	"context"

	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/google/uuid"
)

// UserStore - документное хранилище пользователей.
// Каждый метод атомарен в пределах одного документа. Не найденный документ
// возвращается как domain.ErrUserNotFound, сбой драйвера - как *domain.StorageError.
type UserStore interface {
	// InsertUser сохраняет нового пользователя. Конфликт уникальности имени или
	// slug возвращается как domain.ErrUsernameTaken / domain.ErrSlugTaken.
	InsertUser(ctx context.Context, user *domain.User) error

	FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FindUserBySlug(ctx context.Context, slug string) (*domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// SlugExists проверяет текущее состояние хранилища, без кэша.
	SlugExists(ctx context.Context, slug string) (bool, error)

	// FindUsers возвращает пользователей, подходящих под фильтр.
	FindUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, error)

	// SampleUsers возвращает до n случайных пользователей, не входящих в exclude.
	SampleUsers(ctx context.Context, exclude []uuid.UUID, n int) ([]domain.User, error)

	// SetFields применяет $set к скалярным полям.
	SetFields(ctx context.Context, id uuid.UUID, update domain.UserUpdate) error

	// AddToSet добавляет value в множество field, если его там ещё нет.
	AddToSet(ctx context.Context, id uuid.UUID, field domain.RelationField, value uuid.UUID) error

	// Pull удаляет value из перечисленных множеств одного документа.
	Pull(ctx context.Context, id uuid.UUID, value uuid.UUID, fields ...domain.RelationField) error

	// PullFromAll удаляет value из всех трёх множеств каждого документа.
	PullFromAll(ctx context.Context, value uuid.UUID) error

	DeleteUser(ctx context.Context, id uuid.UUID) error

	// LockUsers читает документы и, внутри WithinTx, блокирует их до конца
	// транзакции. Блокировки берутся в порядке возрастания id.
	LockUsers(ctx context.Context, ids ...uuid.UUID) ([]domain.User, error)

	// WithinTx выполняет fn в транзакции, охватывающей несколько документов.
	// Ошибка fn откатывает все изменения.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx UserStore) error) error
}
