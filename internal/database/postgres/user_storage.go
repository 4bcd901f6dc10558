package postgres

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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ ports.UserStore = (*GormUserStorage)(nil)

// userModel - GORM-модель таблицы users. Массивы uuid[] читаются через ::text,
// чтобы не зависеть от бинарного формата драйвера.
type userModel struct {
	ID               uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Username         string         `gorm:"column:username"`
	Slug             string         `gorm:"column:slug"`
	PasswordHash     string         `gorm:"column:password_hash"`
	ProfileImage     string         `gorm:"column:profile_image"`
	Description      string         `gorm:"column:description"`
	Age              int            `gorm:"column:age"`
	CreatedAt        time.Time      `gorm:"column:created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at"`
	Partners         pq.StringArray `gorm:"column:partners;type:uuid[]"`
	OutgoingRequests pq.StringArray `gorm:"column:outgoing_requests;type:uuid[]"`
	IncomingRequests pq.StringArray `gorm:"column:incoming_requests;type:uuid[]"`
}

func (userModel) TableName() string {
	return "users"
}

var selectColumns = []string{
	"id", "username", "slug", "password_hash", "profile_image", "description", "age",
	"created_at", "updated_at",
	"partners::text AS partners",
	"outgoing_requests::text AS outgoing_requests",
	"incoming_requests::text AS incoming_requests",
}

func (m userModel) toDomain() domain.User {
	return domain.User{
		ID:               m.ID,
		Username:         m.Username,
		Slug:             m.Slug,
		PasswordHash:     m.PasswordHash,
		ProfileImage:     m.ProfileImage,
		Description:      m.Description,
		Age:              m.Age,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		Partners:         domain.ParseIDSet(m.Partners),
		OutgoingRequests: domain.ParseIDSet(m.OutgoingRequests),
		IncomingRequests: domain.ParseIDSet(m.IncomingRequests),
	}
}

func toDomainList(models []userModel) []domain.User {
	users := make([]domain.User, 0, len(models))
	for _, m := range models {
		users = append(users, m.toDomain())
	}
	return users
}

// GormUserStorage реализует интерфейс ports.UserStore с использованием GORM
type GormUserStorage struct {
	db     *gorm.DB
	inTx   bool
	logger *slog.Logger
}

// NewGormUserStorage создает новый экземпляр GormUserStorage
func NewGormUserStorage(db *gorm.DB, logger *slog.Logger) *GormUserStorage {
	return &GormUserStorage{db: db, logger: logger}
}

func mapGormError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrUserNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "users_username_key":
			return domain.ErrUsernameTaken
		case "users_slug_key":
			return domain.ErrSlugTaken
		default:
			return fmt.Errorf("%s: %w", op, domain.ErrConflict)
		}
	}
	return domain.NewStorageError(op, err)
}

// arrayExpr передаёт массив id как текстовый литерал и приводит его к uuid[] на стороне сервера.
func arrayExpr(ids []uuid.UUID) clause.Expr {
	literal := "{" + strings.Join(domain.IDSet(ids).Strings(), ",") + "}"
	return gorm.Expr("CAST(? AS text)::uuid[]", literal)
}

func (s *GormUserStorage) query(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&userModel{}).Select(selectColumns)
}

// InsertUser сохраняет нового пользователя с помощью GORM.
func (s *GormUserStorage) InsertUser(ctx context.Context, user *domain.User) error {
	start := time.Now()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	model := userModel{
		ID:           user.ID,
		Username:     user.Username,
		Slug:         user.Slug,
		PasswordHash: user.PasswordHash,
		ProfileImage: user.ProfileImage,
		Description:  user.Description,
		Age:          user.Age,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// массивы создаются со значением по умолчанию '{}'
		if err := tx.Omit("partners", "outgoing_requests", "incoming_requests").Create(&model).Error; err != nil {
			return err
		}
		if len(user.Partners) == 0 && len(user.OutgoingRequests) == 0 && len(user.IncomingRequests) == 0 {
			return nil
		}
		return tx.Model(&userModel{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
			"partners":          arrayExpr(user.Partners),
			"outgoing_requests": arrayExpr(user.OutgoingRequests),
			"incoming_requests": arrayExpr(user.IncomingRequests),
		}).Error
	})
	if err != nil {
		mapped := mapGormError("insert user", err)
		s.logger.Warn("failed to insert user (GORM)", "username", user.Username, "error", mapped)
		return mapped
	}

	s.logger.Info("user inserted (GORM)",
		"user_id", user.ID,
		"slug", user.Slug,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *GormUserStorage) first(ctx context.Context, op, where string, arg interface{}) (*domain.User, error) {
	var m userModel
	if err := s.query(ctx).Where(where, arg).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("user not found (GORM)", "op", op, "key", arg)
		} else {
			s.logger.Error("failed to get user (GORM)", "op", op, "error", err)
		}
		return nil, mapGormError(op, err)
	}
	u := m.toDomain()
	return &u, nil
}

func (s *GormUserStorage) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.first(ctx, "find user by id", "id = ?", id)
}

func (s *GormUserStorage) FindUserBySlug(ctx context.Context, slug string) (*domain.User, error) {
	return s.first(ctx, "find user by slug", "slug = ?", slug)
}

func (s *GormUserStorage) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.first(ctx, "find user by username", "username = ?", username)
}

func (s *GormUserStorage) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&userModel{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, mapGormError("slug exists", err)
	}
	return count > 0, nil
}

// FindUsers ищет пользователей по фильтру с помощью GORM.
func (s *GormUserStorage) FindUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, error) {
	start := time.Now()
	f := filter.Normalize()

	q := s.query(ctx)
	if f.UsernameContains != "" {
		escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(f.UsernameContains)
		q = q.Where("username ILIKE ?", "%"+escaped+"%")
	}
	if f.MinAge > 0 {
		q = q.Where("age >= ?", f.MinAge)
	}
	if f.MaxAge > 0 {
		q = q.Where("age <= ?", f.MaxAge)
	}
	if f.OnlyIDs {
		q = q.Where("id = ANY(?)", arrayExpr(f.IDs))
	}
	if len(f.ExcludeIDs) > 0 {
		q = q.Where("NOT (id = ANY(?))", arrayExpr(f.ExcludeIDs))
	}

	column := "created_at"
	if f.SortField == domain.SortByAge {
		column = "age"
	}
	desc := !f.Ascending
	q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc})
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var models []userModel
	if err := q.Find(&models).Error; err != nil {
		s.logger.Error("failed to find users (GORM)", "error", err)
		return nil, mapGormError("find users", err)
	}

	s.logger.Info("users search completed (GORM)",
		"found", len(models),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return toDomainList(models), nil
}

func (s *GormUserStorage) SampleUsers(ctx context.Context, exclude []uuid.UUID, n int) ([]domain.User, error) {
	if n <= 0 {
		return []domain.User{}, nil
	}
	var models []userModel
	err := s.query(ctx).
		Where("NOT (id = ANY(?))", arrayExpr(exclude)).
		Order("random()").
		Limit(n).
		Find(&models).Error
	if err != nil {
		s.logger.Error("failed to sample users (GORM)", "n", n, "error", err)
		return nil, mapGormError("sample users", err)
	}
	return toDomainList(models), nil
}

func (s *GormUserStorage) updateOne(ctx context.Context, op string, id uuid.UUID, values map[string]interface{}) error {
	values["updated_at"] = gorm.Expr("NOW()")
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		mapped := mapGormError(op, res.Error)
		s.logger.Warn("failed to update user (GORM)", "op", op, "user_id", id, "error", mapped)
		return mapped
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *GormUserStorage) SetFields(ctx context.Context, id uuid.UUID, update domain.UserUpdate) error {
	if update.Empty() {
		_, err := s.FindUserByID(ctx, id)
		return err
	}
	values := map[string]interface{}{}
	if update.Username != nil {
		values["username"] = *update.Username
	}
	if update.Slug != nil {
		values["slug"] = *update.Slug
	}
	if update.PasswordHash != nil {
		values["password_hash"] = *update.PasswordHash
	}
	if update.ProfileImage != nil {
		values["profile_image"] = *update.ProfileImage
	}
	if update.Description != nil {
		values["description"] = *update.Description
	}
	if update.Age != nil {
		values["age"] = *update.Age
	}
	return s.updateOne(ctx, "set user fields", id, values)
}

func (s *GormUserStorage) AddToSet(ctx context.Context, id uuid.UUID, field domain.RelationField, value uuid.UUID) error {
	if !field.Valid() {
		return domain.NewStorageError("add to set", fmt.Errorf("unknown relation field %q", field))
	}
	column := string(field)
	expr := gorm.Expr(
		fmt.Sprintf("CASE WHEN ?::uuid = ANY(%[1]s) THEN %[1]s ELSE array_append(%[1]s, ?::uuid) END", column),
		value.String(), value.String(),
	)
	return s.updateOne(ctx, "add to set", id, map[string]interface{}{column: expr})
}

func (s *GormUserStorage) Pull(ctx context.Context, id uuid.UUID, value uuid.UUID, fields ...domain.RelationField) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields)+1)
	for _, f := range fields {
		if !f.Valid() {
			return domain.NewStorageError("pull", fmt.Errorf("unknown relation field %q", f))
		}
		values[string(f)] = gorm.Expr(fmt.Sprintf("array_remove(%s, ?::uuid)", f), value.String())
	}
	return s.updateOne(ctx, "pull", id, values)
}

func (s *GormUserStorage) PullFromAll(ctx context.Context, value uuid.UUID) error {
	start := time.Now()
	v := value.String()

	res := s.db.WithContext(ctx).Model(&userModel{}).
		Where("partners @> ARRAY[?::uuid] OR outgoing_requests @> ARRAY[?::uuid] OR incoming_requests @> ARRAY[?::uuid]", v, v, v).
		Updates(map[string]interface{}{
			"partners":          gorm.Expr("array_remove(partners, ?::uuid)", v),
			"outgoing_requests": gorm.Expr("array_remove(outgoing_requests, ?::uuid)", v),
			"incoming_requests": gorm.Expr("array_remove(incoming_requests, ?::uuid)", v),
			"updated_at":        gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		s.logger.Error("failed to purge user from relationships (GORM)", "user_id", value, "error", res.Error)
		return mapGormError("pull from all", res.Error)
	}

	s.logger.Info("user purged from relationships (GORM)",
		"user_id", value,
		"affected", res.RowsAffected,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *GormUserStorage) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&userModel{})
	if res.Error != nil {
		return mapGormError("delete user", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	s.logger.Info("user deleted (GORM)", "user_id", id)
	return nil
}

func (s *GormUserStorage) LockUsers(ctx context.Context, ids ...uuid.UUID) ([]domain.User, error) {
	unique := domain.NewIDSet(ids...)

	var models []userModel
	err := s.query(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ANY(?)", arrayExpr(unique)).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, mapGormError("lock users", err)
	}
	if len(models) != len(unique) {
		return nil, domain.ErrUserNotFound
	}
	return toDomainList(models), nil
}

func (s *GormUserStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.UserStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &GormUserStorage{db: tx, inTx: true, logger: s.logger})
	})
	if err == nil {
		return nil
	}
	// ошибки fn уже доменные; ошибки begin/commit оборачиваем
	var se *domain.StorageError
	if errors.As(err, &se) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) || domain.IsValidation(err) {
		return err
	}
	return domain.NewStorageError("transaction", err)
}
