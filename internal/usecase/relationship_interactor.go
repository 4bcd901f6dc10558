package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/google/uuid"
)

// DefaultDiscoverLimit - размер выборки кандидатов, если лимит не задан.
const DefaultDiscoverLimit = 100

// relationshipEngine implements RelationshipEngine
type relationshipEngine struct {
	store        ports.UserStore
	logger       *slog.Logger
	defaultLimit int
}

// NewRelationshipEngine создает движок связей поверх хранилища пользователей.
// discoverLimit <= 0 заменяется на DefaultDiscoverLimit.
func NewRelationshipEngine(store ports.UserStore, logger *slog.Logger, discoverLimit int) RelationshipEngine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if discoverLimit <= 0 {
		discoverLimit = DefaultDiscoverLimit
	}
	return &relationshipEngine{store: store, logger: logger, defaultLimit: discoverLimit}
}

// RequestOrConfirm читает обе записи под блокировкой и только после этого
// выбирает ветку. Встречные запросы A->B и B->A сериализуются на блокировках,
// и второй из них видит запрос первого и подтверждает пару.
func (e *relationshipEngine) RequestOrConfirm(ctx context.Context, actorID, targetID uuid.UUID) (MatchResult, error) {
	if actorID == targetID {
		return MatchResult{}, domain.NewValidationError("target", "cannot match with yourself")
	}

	start := time.Now()
	var result MatchResult
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx ports.UserStore) error {
		actor, target, err := lockPair(ctx, tx, actorID, targetID)
		if err != nil {
			return err
		}

		switch {
		case actor.IsPartner(targetID) && target.IsPartner(actorID):
			result.Matched = true
			return nil
		case target.HasRequested(actorID), actor.IsPartner(targetID), target.IsPartner(actorID):
			// Встречный запрос или половина партнёрства: обе стороны уже выразили согласие.
			result.Matched = true
			return confirmPair(ctx, tx, actorID, targetID)
		default:
			return createRequest(ctx, tx, actor, targetID)
		}
	})
	if err != nil {
		return MatchResult{}, fmt.Errorf("usecase: ошибка при обработке запроса %s -> %s: %w", actorID, targetID, err)
	}

	e.logger.Info("relationship updated",
		"actor_id", actorID,
		"target_id", targetID,
		"matched", result.Matched,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (e *relationshipEngine) Accept(ctx context.Context, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return domain.NewValidationError("target", "cannot match with yourself")
	}

	start := time.Now()
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx ports.UserStore) error {
		_, target, err := lockPair(ctx, tx, actorID, targetID)
		if err != nil {
			return err
		}
		if !target.HasRequested(actorID) {
			return domain.ErrRequestNotFound
		}
		return confirmPair(ctx, tx, actorID, targetID)
	})
	if err != nil {
		return fmt.Errorf("usecase: ошибка при принятии запроса %s -> %s: %w", targetID, actorID, err)
	}

	e.logger.Info("request accepted",
		"actor_id", actorID,
		"target_id", targetID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Dissolve безусловно удаляет друг друга из всех трёх множеств обеих записей.
func (e *relationshipEngine) Dissolve(ctx context.Context, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return domain.NewValidationError("target", "cannot dissolve a relationship with yourself")
	}

	start := time.Now()
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx ports.UserStore) error {
		if _, _, err := lockPair(ctx, tx, actorID, targetID); err != nil {
			return err
		}
		if err := tx.Pull(ctx, actorID, targetID, domain.RelationFields...); err != nil {
			return err
		}
		return tx.Pull(ctx, targetID, actorID, domain.RelationFields...)
	})
	if err != nil {
		return fmt.Errorf("usecase: ошибка при удалении связи %s - %s: %w", actorID, targetID, err)
	}

	e.logger.Info("relationship dissolved",
		"actor_id", actorID,
		"target_id", targetID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// PurgeUser удаляет id из множеств всех пользователей одним массовым обновлением.
// Повторный вызов безопасен.
func (e *relationshipEngine) PurgeUser(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx ports.UserStore) error {
		return purgeWithin(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("usecase: ошибка при очистке связей пользователя %s: %w", id, err)
	}
	e.logger.Info("user purged from relationships",
		"user_id", id,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (e *relationshipEngine) SampleCandidates(ctx context.Context, actorID uuid.UUID, limit int) ([]domain.User, error) {
	actor, err := e.store.FindUserByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при получении пользователя %s: %w", actorID, err)
	}
	if limit <= 0 {
		limit = e.defaultLimit
	}

	users, err := e.store.SampleUsers(ctx, actor.RelatedIDs(), limit)
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при выборке кандидатов для %s: %w", actorID, err)
	}
	return users, nil
}

func (e *relationshipEngine) ListCandidates(ctx context.Context, actorID uuid.UUID) ([]domain.User, error) {
	actor, err := e.store.FindUserByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при получении пользователя %s: %w", actorID, err)
	}

	users, err := e.store.FindUsers(ctx, domain.UserFilter{
		ExcludeIDs: actor.RelatedIDs(),
		SortField:  domain.SortByCreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("usecase: ошибка при получении кандидатов для %s: %w", actorID, err)
	}
	return users, nil
}

// lockPair блокирует обе записи и возвращает их в порядке (actor, target).
func lockPair(ctx context.Context, tx ports.UserStore, actorID, targetID uuid.UUID) (*domain.User, *domain.User, error) {
	users, err := tx.LockUsers(ctx, actorID, targetID)
	if err != nil {
		return nil, nil, err
	}

	var actor, target *domain.User
	for i := range users {
		switch users[i].ID {
		case actorID:
			actor = &users[i]
		case targetID:
			target = &users[i]
		}
	}
	if actor == nil || target == nil {
		return nil, nil, domain.ErrUserNotFound
	}
	return actor, target, nil
}

// createRequest записывает запрос actor->target. Запись о встречном запросе,
// оставшаяся только у actor, удаляется: target его не отправлял.
func createRequest(ctx context.Context, tx ports.UserStore, actor *domain.User, targetID uuid.UUID) error {
	if actor.IncomingRequests.Contains(targetID) {
		if err := tx.Pull(ctx, actor.ID, targetID, domain.FieldIncomingRequests); err != nil {
			return err
		}
	}
	if err := tx.AddToSet(ctx, actor.ID, domain.FieldOutgoingRequests, targetID); err != nil {
		return err
	}
	return tx.AddToSet(ctx, targetID, domain.FieldIncomingRequests, actor.ID)
}

// confirmPair переводит пару в партнёры и убирает все ожидающие запросы между ними.
func confirmPair(ctx context.Context, tx ports.UserStore, actorID, targetID uuid.UUID) error {
	for _, side := range [][2]uuid.UUID{{actorID, targetID}, {targetID, actorID}} {
		self, other := side[0], side[1]
		if err := tx.AddToSet(ctx, self, domain.FieldPartners, other); err != nil {
			return err
		}
		if err := tx.Pull(ctx, self, other, domain.FieldIncomingRequests, domain.FieldOutgoingRequests); err != nil {
			return err
		}
	}
	return nil
}

// purgeWithin удаляет id из связей всех пользователей в рамках транзакции tx.
func purgeWithin(ctx context.Context, tx ports.UserStore, id uuid.UUID) error {
	return tx.PullFromAll(ctx, id)
}
