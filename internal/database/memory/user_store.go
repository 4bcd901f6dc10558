// Package memory содержит документное хранилище пользователей в памяти процесса.
// Используется в режиме разработки (STORAGE_DRIVER=memory) и в тестах.
package memory

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/google/uuid"
)

var _ ports.UserStore = (*UserStore)(nil)

type state struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	users map[uuid.UUID]*domain.User
}

// journal хранит исходные версии документов, изменённых в транзакции.
// nil-значение означает, что документа до транзакции не было.
type journal struct {
	originals map[uuid.UUID]*domain.User
}

// UserStore реализует ports.UserStore поверх map.
type UserStore struct {
	st      *state
	journal *journal
	logger  *slog.Logger
	now     func() time.Time
}

// NewUserStore создаёт пустое хранилище.
func NewUserStore(logger *slog.Logger) *UserStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &UserStore{
		st:     &state{users: make(map[uuid.UUID]*domain.User)},
		logger: logger,
		now:    time.Now,
	}
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.Partners = u.Partners.Clone()
	c.OutgoingRequests = u.OutgoingRequests.Clone()
	c.IncomingRequests = u.IncomingRequests.Clone()
	return &c
}

// touch запоминает исходную версию документа перед первым изменением в транзакции.
// Вызывается под st.mu.
func (s *UserStore) touch(id uuid.UUID) {
	if s.journal == nil {
		return
	}
	if _, ok := s.journal.originals[id]; ok {
		return
	}
	if u, ok := s.st.users[id]; ok {
		s.journal.originals[id] = cloneUser(u)
	} else {
		s.journal.originals[id] = nil
	}
}

// exclusive сериализует изменение вне транзакции с открытыми транзакциями,
// иначе откат журнала затёр бы это изменение. Внутри транзакции txMu уже взят.
func (s *UserStore) exclusive() func() {
	if s.journal != nil {
		return func() {}
	}
	s.st.txMu.Lock()
	return s.st.txMu.Unlock
}

// InsertUser сохраняет нового пользователя.
func (s *UserStore) InsertUser(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("insert user", err)
	}
	defer s.exclusive()()
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if _, ok := s.st.users[user.ID]; ok {
		return domain.NewStorageError("insert user", domain.ErrConflict)
	}
	for _, u := range s.st.users {
		if u.Username == user.Username {
			return domain.ErrUsernameTaken
		}
		if u.Slug == user.Slug {
			return domain.ErrSlugTaken
		}
	}

	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Partners == nil {
		user.Partners = domain.IDSet{}
	}
	if user.OutgoingRequests == nil {
		user.OutgoingRequests = domain.IDSet{}
	}
	if user.IncomingRequests == nil {
		user.IncomingRequests = domain.IDSet{}
	}

	s.touch(user.ID)
	s.st.users[user.ID] = cloneUser(user)
	s.logger.Debug("user inserted", "user_id", user.ID, "slug", user.Slug)
	return nil
}

func (s *UserStore) findOne(ctx context.Context, op string, match func(*domain.User) bool) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStorageError(op, err)
	}
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	for _, u := range s.st.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *UserStore) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStorageError("find user by id", err)
	}
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *UserStore) FindUserBySlug(ctx context.Context, slug string) (*domain.User, error) {
	return s.findOne(ctx, "find user by slug", func(u *domain.User) bool { return u.Slug == slug })
}

func (s *UserStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findOne(ctx, "find user by username", func(u *domain.User) bool { return u.Username == username })
}

// SlugExists проверяет занятость slug.
func (s *UserStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := s.FindUserBySlug(ctx, slug)
	if err == nil {
		return true, nil
	}
	if err == domain.ErrUserNotFound {
		return false, nil
	}
	return false, err
}

func matches(f domain.UserFilter, u *domain.User) bool {
	if f.UsernameContains != "" &&
		!strings.Contains(strings.ToLower(u.Username), strings.ToLower(f.UsernameContains)) {
		return false
	}
	if f.MinAge > 0 && u.Age < f.MinAge {
		return false
	}
	if f.MaxAge > 0 && u.Age > f.MaxAge {
		return false
	}
	if f.OnlyIDs && !domain.IDSet(f.IDs).Contains(u.ID) {
		return false
	}
	if domain.IDSet(f.ExcludeIDs).Contains(u.ID) {
		return false
	}
	return true
}

// FindUsers возвращает пользователей по фильтру в порядке сортировки фильтра.
func (s *UserStore) FindUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStorageError("find users", err)
	}
	filter = filter.Normalize()

	s.st.mu.RLock()
	out := make([]domain.User, 0)
	for _, u := range s.st.users {
		if matches(filter, u) {
			out = append(out, *cloneUser(u))
		}
	}
	s.st.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		var less, equal bool
		switch filter.SortField {
		case domain.SortByAge:
			less, equal = a.Age < b.Age, a.Age == b.Age
		default:
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}
		if equal {
			less = a.ID.String() < b.ID.String()
		}
		if filter.Ascending {
			return less
		}
		return !less
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SampleUsers возвращает случайную выборку без повторов.
func (s *UserStore) SampleUsers(ctx context.Context, exclude []uuid.UUID, n int) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStorageError("sample users", err)
	}
	if n <= 0 {
		return []domain.User{}, nil
	}
	excluded := domain.IDSet(exclude)

	s.st.mu.RLock()
	pool := make([]domain.User, 0, len(s.st.users))
	for _, u := range s.st.users {
		if !excluded.Contains(u.ID) {
			pool = append(pool, *cloneUser(u))
		}
	}
	s.st.mu.RUnlock()

	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > n {
		pool = pool[:n]
	}
	return pool, nil
}

// SetFields применяет частичное обновление скалярных полей.
func (s *UserStore) SetFields(ctx context.Context, id uuid.UUID, update domain.UserUpdate) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("set user fields", err)
	}
	defer s.exclusive()()
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	u, ok := s.st.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	for otherID, other := range s.st.users {
		if otherID == id {
			continue
		}
		if update.Username != nil && other.Username == *update.Username {
			return domain.ErrUsernameTaken
		}
		if update.Slug != nil && other.Slug == *update.Slug {
			return domain.ErrSlugTaken
		}
	}

	s.touch(id)
	update.Apply(u)
	u.UpdatedAt = s.now()
	return nil
}

// AddToSet добавляет value в множество field документа id.
func (s *UserStore) AddToSet(ctx context.Context, id uuid.UUID, field domain.RelationField, value uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("add to set", err)
	}
	defer s.exclusive()()
	if !field.Valid() {
		return domain.NewStorageError("add to set", errUnknownField(field))
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	u, ok := s.st.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	s.touch(id)
	set := u.Relation(field)
	*set = set.Add(value)
	return nil
}

// Pull удаляет value из множеств fields документа id.
func (s *UserStore) Pull(ctx context.Context, id uuid.UUID, value uuid.UUID, fields ...domain.RelationField) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("pull", err)
	}
	defer s.exclusive()()
	for _, f := range fields {
		if !f.Valid() {
			return domain.NewStorageError("pull", errUnknownField(f))
		}
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	u, ok := s.st.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	s.touch(id)
	for _, f := range fields {
		set := u.Relation(f)
		*set = set.Remove(value)
	}
	return nil
}

// PullFromAll удаляет value из связей всех пользователей.
func (s *UserStore) PullFromAll(ctx context.Context, value uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("pull from all", err)
	}
	defer s.exclusive()()
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	affected := 0
	for id, u := range s.st.users {
		if !u.Partners.Contains(value) && !u.OutgoingRequests.Contains(value) && !u.IncomingRequests.Contains(value) {
			continue
		}
		s.touch(id)
		u.Partners = u.Partners.Remove(value)
		u.OutgoingRequests = u.OutgoingRequests.Remove(value)
		u.IncomingRequests = u.IncomingRequests.Remove(value)
		affected++
	}
	s.logger.Debug("user purged from relationships", "user_id", value, "affected", affected)
	return nil
}

func (s *UserStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("delete user", err)
	}
	defer s.exclusive()()
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if _, ok := s.st.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	s.touch(id)
	delete(s.st.users, id)
	return nil
}

// LockUsers возвращает документы в порядке возрастания id.
// Транзакции сериализуются в WithinTx, поэтому отдельная блокировка строк не нужна.
func (s *UserStore) LockUsers(ctx context.Context, ids ...uuid.UUID) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStorageError("lock users", err)
	}
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	out := make([]domain.User, 0, len(sorted))
	for _, id := range sorted {
		u, ok := s.st.users[id]
		if !ok {
			return nil, domain.ErrUserNotFound
		}
		out = append(out, *cloneUser(u))
	}
	return out, nil
}

// WithinTx выполняет fn, не допуская параллельных транзакций и изменений вне них.
// При ошибке fn изменённые документы возвращаются к исходным версиям.
func (s *UserStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.UserStore) error) error {
	if s.journal != nil {
		return fn(ctx, s)
	}

	s.st.txMu.Lock()
	defer s.st.txMu.Unlock()

	tx := &UserStore{
		st:      s.st,
		journal: &journal{originals: make(map[uuid.UUID]*domain.User)},
		logger:  s.logger,
		now:     s.now,
	}
	if err := fn(ctx, tx); err != nil {
		s.rollback(tx.journal)
		return err
	}
	return nil
}

func (s *UserStore) rollback(j *journal) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for id, original := range j.originals {
		if original == nil {
			delete(s.st.users, id)
			continue
		}
		s.st.users[id] = original
	}
	s.logger.Debug("transaction rolled back", "documents", len(j.originals))
}

type errUnknownField domain.RelationField

func (e errUnknownField) Error() string {
	return "unknown relation field " + string(e)
}
