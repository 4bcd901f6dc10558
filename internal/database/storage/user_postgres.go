package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var _ ports.UserStore = (*UserStorage)(nil)

const userColumns = `id, username, slug, password_hash, profile_image, description, age,
	created_at, updated_at, partners, outgoing_requests, incoming_requests`

// userRow - строка таблицы users; массивы uuid[] читаются в текстовом виде.
type userRow struct {
	ID               uuid.UUID      `db:"id"`
	Username         string         `db:"username"`
	Slug             string         `db:"slug"`
	PasswordHash     string         `db:"password_hash"`
	ProfileImage     string         `db:"profile_image"`
	Description      string         `db:"description"`
	Age              int            `db:"age"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	Partners         pq.StringArray `db:"partners"`
	OutgoingRequests pq.StringArray `db:"outgoing_requests"`
	IncomingRequests pq.StringArray `db:"incoming_requests"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID:               r.ID,
		Username:         r.Username,
		Slug:             r.Slug,
		PasswordHash:     r.PasswordHash,
		ProfileImage:     r.ProfileImage,
		Description:      r.Description,
		Age:              r.Age,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		Partners:         domain.ParseIDSet(r.Partners),
		OutgoingRequests: domain.ParseIDSet(r.OutgoingRequests),
		IncomingRequests: domain.ParseIDSet(r.IncomingRequests),
	}
}

// UserStorage реализует ports.UserStore поверх PostgreSQL с помощью sqlx.
// Множества связей хранятся в колонках uuid[], атомарность отдельного
// обновления обеспечивает сам UPDATE.
type UserStorage struct {
	db     *sqlx.DB
	q      sqlx.ExtContext
	tx     *sqlx.Tx
	logger *slog.Logger
}

// NewUserStorage создает новый экземпляр UserStorage
func NewUserStorage(db *sqlx.DB, logger *slog.Logger) *UserStorage {
	return &UserStorage{db: db, q: db, logger: logger}
}

// mapError переводит ошибки драйвера в доменные.
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
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

func uuidArray(ids []uuid.UUID) interface{} {
	return pq.Array(domain.IDSet(ids).Strings())
}

// InsertUser сохраняет нового пользователя.
func (s *UserStorage) InsertUser(ctx context.Context, user *domain.User) error {
	start := time.Now()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, username, slug, password_hash, profile_image, description, age,
			created_at, updated_at, partners, outgoing_requests, incoming_requests)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::uuid[], $11::uuid[], $12::uuid[])`,
		user.ID, user.Username, user.Slug, user.PasswordHash, user.ProfileImage, user.Description, user.Age,
		user.CreatedAt, user.UpdatedAt,
		uuidArray(user.Partners), uuidArray(user.OutgoingRequests), uuidArray(user.IncomingRequests),
	)
	if err != nil {
		mapped := mapError("insert user", err)
		if errors.Is(mapped, domain.ErrConflict) {
			s.logger.Warn("user insert conflict", "username", user.Username, "slug", user.Slug, "error", mapped)
		} else {
			s.logger.Error("failed to insert user", "username", user.Username, "error", err)
		}
		return mapped
	}

	s.logger.Info("user inserted",
		"user_id", user.ID,
		"slug", user.Slug,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *UserStorage) getOne(ctx context.Context, op, where string, arg interface{}) (*domain.User, error) {
	start := time.Now()

	var row userRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT `+userColumns+` FROM users WHERE `+where+` LIMIT 1`, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("user not found", "op", op, "key", arg)
			return nil, domain.ErrUserNotFound
		}
		s.logger.Error("failed to get user", "op", op, "key", arg, "error", err)
		return nil, mapError(op, err)
	}

	s.logger.Debug("user retrieved", "op", op, "duration_ms", time.Since(start).Milliseconds())
	u := row.toDomain()
	return &u, nil
}

func (s *UserStorage) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.getOne(ctx, "find user by id", "id = $1", id)
}

func (s *UserStorage) FindUserBySlug(ctx context.Context, slug string) (*domain.User, error) {
	return s.getOne(ctx, "find user by slug", "slug = $1", slug)
}

func (s *UserStorage) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getOne(ctx, "find user by username", "username = $1", username)
}

// SlugExists проверяет занятость slug текущим содержимым таблицы.
func (s *UserStorage) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.q, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE slug = $1)`, slug)
	if err != nil {
		s.logger.Error("failed to check slug", "slug", slug, "error", err)
		return false, mapError("slug exists", err)
	}
	return exists, nil
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// buildFilterQuery собирает SELECT по фильтру; вынесено для тестов.
func buildFilterQuery(f domain.UserFilter) (string, []interface{}) {
	f = f.Normalize()

	var (
		conds []string
		args  []interface{}
	)
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UsernameContains != "" {
		conds = append(conds, "username ILIKE '%' || "+next(escapeLike(f.UsernameContains))+" || '%'")
	}
	if f.MinAge > 0 {
		conds = append(conds, "age >= "+next(f.MinAge))
	}
	if f.MaxAge > 0 {
		conds = append(conds, "age <= "+next(f.MaxAge))
	}
	if f.OnlyIDs {
		conds = append(conds, "id = ANY("+next(uuidArray(f.IDs))+"::uuid[])")
	}
	if len(f.ExcludeIDs) > 0 {
		conds = append(conds, "NOT (id = ANY("+next(uuidArray(f.ExcludeIDs))+"::uuid[]))")
	}

	var b strings.Builder
	b.WriteString("SELECT " + userColumns + " FROM users")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	dir := "DESC"
	if f.Ascending {
		dir = "ASC"
	}
	column := "created_at"
	if f.SortField == domain.SortByAge {
		column = "age"
	}
	b.WriteString(fmt.Sprintf(" ORDER BY %s %s, id %s", column, dir, dir))

	if f.Limit > 0 {
		b.WriteString(" LIMIT " + next(f.Limit))
	}
	return b.String(), args
}

// FindUsers возвращает пользователей по фильтру.
func (s *UserStorage) FindUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, error) {
	start := time.Now()

	q, args := buildFilterQuery(filter)
	var rows []userRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, q, args...); err != nil {
		s.logger.Error("failed to find users", "error", err)
		return nil, mapError("find users", err)
	}

	users := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}

	s.logger.Info("users search completed",
		"found", len(users),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return users, nil
}

// SampleUsers возвращает случайную выборку пользователей.
func (s *UserStorage) SampleUsers(ctx context.Context, exclude []uuid.UUID, n int) ([]domain.User, error) {
	start := time.Now()
	if n <= 0 {
		return []domain.User{}, nil
	}

	var rows []userRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT `+userColumns+` FROM users
		WHERE NOT (id = ANY($1::uuid[]))
		ORDER BY random()
		LIMIT $2`,
		uuidArray(exclude), n,
	)
	if err != nil {
		s.logger.Error("failed to sample users", "n", n, "error", err)
		return nil, mapError("sample users", err)
	}

	users := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	s.logger.Info("users sampled",
		"requested", n,
		"count", len(users),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return users, nil
}

// SetFields применяет частичное обновление скалярных полей.
func (s *UserStorage) SetFields(ctx context.Context, id uuid.UUID, update domain.UserUpdate) error {
	if update.Empty() {
		_, err := s.FindUserByID(ctx, id)
		return err
	}

	var (
		sets []string
		args []interface{}
	)
	set := func(column string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Username != nil {
		set("username", *update.Username)
	}
	if update.Slug != nil {
		set("slug", *update.Slug)
	}
	if update.PasswordHash != nil {
		set("password_hash", *update.PasswordHash)
	}
	if update.ProfileImage != nil {
		set("profile_image", *update.ProfileImage)
	}
	if update.Description != nil {
		set("description", *update.Description)
	}
	if update.Age != nil {
		set("age", *update.Age)
	}
	args = append(args, id)

	q := fmt.Sprintf("UPDATE users SET %s, updated_at = NOW() WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return s.execOne(ctx, "set user fields", id, q, args...)
}

// execOne выполняет UPDATE/DELETE одного документа; 0 строк означает отсутствие документа.
func (s *UserStorage) execOne(ctx context.Context, op string, id uuid.UUID, q string, args ...interface{}) error {
	start := time.Now()

	res, err := s.q.ExecContext(ctx, q, args...)
	if err != nil {
		mapped := mapError(op, err)
		if errors.Is(mapped, domain.ErrConflict) {
			s.logger.Warn("user update conflict", "op", op, "user_id", id, "error", mapped)
		} else {
			s.logger.Error("failed to update user", "op", op, "user_id", id, "error", err)
		}
		return mapped
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewStorageError(op, err)
	}
	if n == 0 {
		s.logger.Warn("user not found", "op", op, "user_id", id)
		return domain.ErrUserNotFound
	}

	s.logger.Debug("user updated", "op", op, "user_id", id, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func relationColumn(field domain.RelationField) (string, error) {
	if !field.Valid() {
		return "", fmt.Errorf("unknown relation field %q", field)
	}
	return string(field), nil
}

// AddToSet добавляет value в массив field, если его там нет.
func (s *UserStorage) AddToSet(ctx context.Context, id uuid.UUID, field domain.RelationField, value uuid.UUID) error {
	column, err := relationColumn(field)
	if err != nil {
		return domain.NewStorageError("add to set", err)
	}
	q := fmt.Sprintf(`
		UPDATE users
		SET %[1]s = CASE WHEN $2::uuid = ANY(%[1]s) THEN %[1]s ELSE array_append(%[1]s, $2::uuid) END,
		    updated_at = NOW()
		WHERE id = $1`, column)
	return s.execOne(ctx, "add to set", id, q, id, value)
}

// Pull удаляет value из перечисленных массивов.
func (s *UserStorage) Pull(ctx context.Context, id uuid.UUID, value uuid.UUID, fields ...domain.RelationField) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(fields))
	for _, f := range fields {
		column, err := relationColumn(f)
		if err != nil {
			return domain.NewStorageError("pull", err)
		}
		sets = append(sets, fmt.Sprintf("%[1]s = array_remove(%[1]s, $2::uuid)", column))
	}
	q := fmt.Sprintf("UPDATE users SET %s, updated_at = NOW() WHERE id = $1", strings.Join(sets, ", "))
	return s.execOne(ctx, "pull", id, q, id, value)
}

// PullFromAll удаляет value из связей всех пользователей одним UPDATE.
func (s *UserStorage) PullFromAll(ctx context.Context, value uuid.UUID) error {
	start := time.Now()

	res, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET partners = array_remove(partners, $1::uuid),
		    outgoing_requests = array_remove(outgoing_requests, $1::uuid),
		    incoming_requests = array_remove(incoming_requests, $1::uuid),
		    updated_at = NOW()
		WHERE partners @> ARRAY[$1::uuid]
		   OR outgoing_requests @> ARRAY[$1::uuid]
		   OR incoming_requests @> ARRAY[$1::uuid]`,
		value,
	)
	if err != nil {
		s.logger.Error("failed to purge user from relationships", "user_id", value, "error", err)
		return mapError("pull from all", err)
	}
	affected, _ := res.RowsAffected()

	s.logger.Info("user purged from relationships",
		"user_id", value,
		"affected", affected,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *UserStorage) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "delete user", id, `DELETE FROM users WHERE id = $1`, id)
}

// LockUsers читает документы с блокировкой строк (FOR UPDATE) в порядке id.
func (s *UserStorage) LockUsers(ctx context.Context, ids ...uuid.UUID) ([]domain.User, error) {
	unique := domain.NewIDSet(ids...)

	var rows []userRow
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
		uuidArray(unique),
	)
	if err != nil {
		s.logger.Error("failed to lock users", "ids", unique.Strings(), "error", err)
		return nil, mapError("lock users", err)
	}
	if len(rows) != len(unique) {
		return nil, domain.ErrUserNotFound
	}

	users := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

// WithinTx выполняет fn в транзакции PostgreSQL.
func (s *UserStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.UserStore) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.Error("failed to begin transaction", "error", err)
		return domain.NewStorageError("begin tx", err)
	}

	txStore := &UserStorage{db: s.db, q: tx, tx: tx, logger: s.logger}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit transaction", "error", err)
		return domain.NewStorageError("commit tx", err)
	}
	return nil
}
