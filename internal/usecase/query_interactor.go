package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/google/uuid"
)

// MaxSearchLimit ограничивает размер одной страницы поиска.
const MaxSearchLimit = 200

// queryService implements QueryService
type queryService struct {
	store  ports.UserStore
	logger *slog.Logger
}

// NewQueryService создает сервис чтения пользователей и их связей.
func NewQueryService(store ports.UserStore, logger *slog.Logger) QueryService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &queryService{store: store, logger: logger}
}

func (s *queryService) Search(ctx context.Context, filter SearchFilter, excludeID uuid.UUID) ([]domain.User, error) {
	ve := &domain.ValidationError{}
	if filter.MinAge < 0 || filter.MinAge > domain.MaxAge {
		ve.Add("min_age", fmt.Sprintf("must be between 0 and %d", domain.MaxAge))
	}
	if filter.MaxAge < 0 || filter.MaxAge > domain.MaxAge {
		ve.Add("max_age", fmt.Sprintf("must be between 0 and %d", domain.MaxAge))
	}
	if filter.MinAge > 0 && filter.MaxAge > 0 && filter.MinAge > filter.MaxAge {
		ve.Add("max_age", "must not be less than min_age")
	}
	switch filter.SortBy {
	case "", domain.SortByAge, domain.SortByCreatedAt:
	default:
		ve.Add("sort", "must be age or created_at")
	}
	if filter.Limit < 0 {
		ve.Add("limit", "must not be negative")
	}
	if filter.PartnersOnly && excludeID == uuid.Nil {
		ve.Add("partners", "requires a signed-in user")
	}
	if ve.HasProblems() {
		s.logger.Warn("search rejected", "problems", ve.Problems)
		return nil, ve
	}

	f := domain.UserFilter{
		UsernameContains: strings.TrimSpace(filter.Username),
		MinAge:           filter.MinAge,
		MaxAge:           filter.MaxAge,
		SortField:        filter.SortBy,
		Ascending:        filter.Ascending,
		Limit:            filter.Limit,
	}
	if f.Limit == 0 || f.Limit > MaxSearchLimit {
		f.Limit = MaxSearchLimit
	}
	if excludeID != uuid.Nil {
		f.ExcludeIDs = []uuid.UUID{excludeID}
	}
	if filter.PartnersOnly {
		viewer, err := s.store.FindUserByID(ctx, excludeID)
		if err != nil {
			return nil, fmt.Errorf("usecase: ошибка при получении пользователя %s: %w", excludeID, err)
		}
		f.OnlyIDs = true
		f.IDs = viewer.Partners
	}

	users, err := s.store.FindUsers(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при поиске пользователей: %w", err)
	}
	return users, nil
}

func (s *queryService) UserBySlug(ctx context.Context, slug string) (*domain.User, error) {
	user, err := s.store.FindUserBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при получении пользователя %q: %w", slug, err)
	}
	return user, nil
}

// ViewProfile вычисляет флаги относительно viewerID; uuid.Nil означает анонимного зрителя.
func (s *queryService) ViewProfile(ctx context.Context, slug string, viewerID uuid.UUID) (*ProfileView, error) {
	user, err := s.store.FindUserBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при получении профиля %q: %w", slug, err)
	}

	partners, err := s.hydrate(ctx, user.Partners)
	if err != nil {
		return nil, err
	}

	view := &ProfileView{User: user, Partners: partners}
	if viewerID != uuid.Nil {
		view.IsOwner = user.ID == viewerID
		view.IsPartner = user.IsPartner(viewerID)
		view.HasPendingRequest = user.IncomingRequests.Contains(viewerID)
		view.HasIncomingRequest = user.HasRequested(viewerID)
	}
	return view, nil
}

func (s *queryService) IncomingRequests(ctx context.Context, id uuid.UUID) ([]domain.User, error) {
	return s.related(ctx, id, domain.FieldIncomingRequests)
}

func (s *queryService) OutgoingRequests(ctx context.Context, id uuid.UUID) ([]domain.User, error) {
	return s.related(ctx, id, domain.FieldOutgoingRequests)
}

func (s *queryService) Partners(ctx context.Context, id uuid.UUID) ([]domain.User, error) {
	return s.related(ctx, id, domain.FieldPartners)
}

func (s *queryService) related(ctx context.Context, id uuid.UUID, field domain.RelationField) ([]domain.User, error) {
	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при получении пользователя %s: %w", id, err)
	}
	return s.hydrate(ctx, *user.Relation(field))
}

// hydrate загружает пользователей по множеству id; id удалённых пользователей пропускаются.
func (s *queryService) hydrate(ctx context.Context, ids domain.IDSet) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	users, err := s.store.FindUsers(ctx, domain.UserFilter{OnlyIDs: true, IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при загрузке связанных пользователей: %w", err)
	}
	return users, nil
}
