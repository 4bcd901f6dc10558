package usecase

import (
	"context"
	"io"

	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/messaging/payloads"
	"github.com/google/uuid"
)

// MatchResult - итог действия «лайк»: подтверждённая пара или созданный запрос.
type MatchResult struct {
	Matched bool `json:"matched"`
}

// RelationshipEngine владеет машиной состояний запросов и партнёрств.
// После каждой операции связи двух пользователей симметричны, а пара находится
// не более чем в одном из состояний: партнёры, запрос A->B, запрос B->A.
type RelationshipEngine interface {
	// RequestOrConfirm создаёт запрос actor->target или, если target уже
	// запросил actor, подтверждает пару.
	RequestOrConfirm(ctx context.Context, actorID, targetID uuid.UUID) (MatchResult, error)

	// Accept подтверждает входящий запрос target->actor.
	// Без такого запроса возвращает domain.ErrRequestNotFound и ничего не меняет.
	Accept(ctx context.Context, actorID, targetID uuid.UUID) error

	// Dissolve удаляет любую связь между actor и target: отклонение входящего
	// запроса, отмена исходящего или разрыв партнёрства.
	Dissolve(ctx context.Context, actorID, targetID uuid.UUID) error

	// PurgeUser удаляет id из связей всех остальных пользователей.
	// Должна завершиться до удаления самой записи.
	PurgeUser(ctx context.Context, id uuid.UUID) error

	// SampleCandidates возвращает случайную выборку ещё не связанных с actor
	// пользователей; limit <= 0 означает лимит по умолчанию.
	SampleCandidates(ctx context.Context, actorID uuid.UUID, limit int) ([]domain.User, error)

	// ListCandidates возвращает всех не связанных с actor пользователей, сначала новые.
	ListCandidates(ctx context.Context, actorID uuid.UUID) ([]domain.User, error)
}

// IdentityService отвечает за slug и учетные данные.
type IdentityService interface {
	// UniqueSlug строит slug из имени и добавляет -1, -2, ... пока он занят.
	// Slug, принадлежащий ownerID, не считается занятым.
	UniqueSlug(ctx context.Context, username string, ownerID uuid.UUID) (string, error)
	HashSecret(secret string) (string, error)
	VerifySecret(secret, hash string) bool
	// Authenticate возвращает пользователя или domain.ErrUnauthorized.
	Authenticate(ctx context.Context, username, secret string) (*domain.User, error)
}

// AvatarUpload - загруженный файл аватара.
type AvatarUpload struct {
	Body        io.Reader
	ContentType string
	Size        int64
}

// CreateInput - данные регистрации.
type CreateInput struct {
	Username    string
	Password    string
	Description string
	Age         int
	Avatar      *AvatarUpload
}

// UpdateInput - частичное изменение профиля; nil-поля не меняются.
type UpdateInput struct {
	Username    *string
	Password    *string
	Description *string
	Age         *int
	Avatar      *AvatarUpload
}

// ProfileService - CRUD собственного профиля пользователя.
type ProfileService interface {
	Create(ctx context.Context, in CreateInput) (*domain.User, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*domain.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// SearchFilter - параметры поиска пользователей.
type SearchFilter struct {
	Username     string
	MinAge       int
	MaxAge       int
	PartnersOnly bool
	SortBy       domain.SortField
	Ascending    bool
	Limit        int
}

// ProfileView - профиль глазами конкретного зрителя.
type ProfileView struct {
	User *domain.User `json:"user"`
	// Partners - подтверждённые партнёры владельца профиля.
	Partners []domain.User `json:"partners"`
	IsOwner  bool          `json:"is_owner"`
	// IsPartner - зритель является партнёром владельца.
	IsPartner bool `json:"is_partner"`
	// HasPendingRequest - зритель отправил владельцу запрос.
	HasPendingRequest bool `json:"has_pending_request"`
	// HasIncomingRequest - владелец отправил запрос зрителю.
	HasIncomingRequest bool `json:"has_incoming_request"`
}

// QueryService - поиск и чтение связей.
type QueryService interface {
	// Search фильтрует пользователей; excludeID (если не Nil) исключается из результата.
	Search(ctx context.Context, filter SearchFilter, excludeID uuid.UUID) ([]domain.User, error)
	UserBySlug(ctx context.Context, slug string) (*domain.User, error)
	ViewProfile(ctx context.Context, slug string, viewerID uuid.UUID) (*ProfileView, error)
	IncomingRequests(ctx context.Context, id uuid.UUID) ([]domain.User, error)
	OutgoingRequests(ctx context.Context, id uuid.UUID) ([]domain.User, error)
	Partners(ctx context.Context, id uuid.UUID) ([]domain.User, error)
}

// FileStorage определяет интерфейс для работы с файловым хранилищем (AWS S3, MinIO)
// порт для хранения бинарных данных (самих изображений)
type FileStorage interface {
	// UploadFile загружает файл в хранилище и возвращает его публичный URL.
	UploadFile(ctx context.Context, key string, reader io.Reader, contentType string) (string, error)

	// DeleteFile удаляет файл из хранилища по его ключу.
	DeleteFile(ctx context.Context, key string) error
}

// AvatarService - хранение и освобождение аватаров.
type AvatarService interface {
	// Store сохраняет файл и возвращает ссылку на него.
	Store(ctx context.Context, upload AvatarUpload) (string, error)
	// Release освобождает файл; для аватара по умолчанию ничего не делает.
	Release(ctx context.Context, ref string) error
	// HandleRelease выполняет задачу на удаление, полученную воркером.
	HandleRelease(ctx context.Context, payload payloads.AvatarReleasePayload) error
}
