package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/database/memory"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/messaging/payloads"
	"github.com/google/uuid"
)

// plainHasher - быстрый обратимый «хэшер» для тестов.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (plainHasher) Verify(password, encoded string) bool { return encoded == "hashed:"+password }

var seedClock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seedUser вставляет пользователя напрямую в хранилище; каждый следующий новее предыдущего.
func seedUser(t *testing.T, store *memory.UserStore, username string, age int) *domain.User {
	t.Helper()
	seedClock = seedClock.Add(time.Minute)
	u := &domain.User{
		ID:           uuid.New(),
		Username:     username,
		Slug:         Slugify(username),
		PasswordHash: "hashed:Secret1!",
		ProfileImage: domain.DefaultProfileImage,
		Age:          age,
		CreatedAt:    seedClock,
	}
	if err := store.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	return u
}

func mustFind(t *testing.T, store *memory.UserStore, id uuid.UUID) *domain.User {
	t.Helper()
	u, err := store.FindUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find %s: %v", id, err)
	}
	return u
}

// checkRelationshipSymmetry проверяет симметрию и взаимоисключение связей всех пар.
func checkRelationshipSymmetry(t *testing.T, store *memory.UserStore) {
	t.Helper()
	users, err := store.FindUsers(context.Background(), domain.UserFilter{})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	byID := make(map[uuid.UUID]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, a := range users {
		for _, field := range domain.RelationFields {
			if a.Relation(field).Contains(a.ID) {
				t.Errorf("%s has itself in %s", a.Username, field)
			}
		}
		for _, id := range a.Partners {
			b, ok := byID[id]
			if !ok {
				t.Errorf("%s has dangling partner %s", a.Username, id)
				continue
			}
			if !b.Partners.Contains(a.ID) {
				t.Errorf("partnership %s -> %s is not symmetric", a.Username, b.Username)
			}
			if a.OutgoingRequests.Contains(id) || a.IncomingRequests.Contains(id) {
				t.Errorf("%s and %s are partners with a pending request", a.Username, b.Username)
			}
		}
		for _, id := range a.OutgoingRequests {
			b, ok := byID[id]
			if !ok {
				t.Errorf("%s has dangling outgoing request %s", a.Username, id)
				continue
			}
			if !b.IncomingRequests.Contains(a.ID) {
				t.Errorf("request %s -> %s is missing on the incoming side", a.Username, b.Username)
			}
			if a.IncomingRequests.Contains(id) {
				t.Errorf("%s and %s have requests in both directions", a.Username, b.Username)
			}
		}
		for _, id := range a.IncomingRequests {
			b, ok := byID[id]
			if !ok {
				t.Errorf("%s has dangling incoming request %s", a.Username, id)
				continue
			}
			if !b.OutgoingRequests.Contains(a.ID) {
				t.Errorf("request %s -> %s is missing on the outgoing side", b.Username, a.Username)
			}
		}
	}
}

// memoryFiles - файловое хранилище в памяти.
type memoryFiles struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	deleteErr error
}

func newMemoryFiles() *memoryFiles {
	return &memoryFiles{objects: make(map[string][]byte)}
}

func (f *memoryFiles) UploadFile(_ context.Context, key string, reader io.Reader, _ string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return "http://files.test/" + key, nil
}

func (f *memoryFiles) DeleteFile(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *memoryFiles) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// recordingPublisher запоминает опубликованные задачи.
type recordingPublisher struct {
	mu       sync.Mutex
	payloads []payloads.AvatarReleasePayload
	err      error
}

func (p *recordingPublisher) PublishAvatarRelease(_ context.Context, payload payloads.AvatarReleasePayload) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

// pngBytes - минимальный заголовок PNG, которого достаточно для http.DetectContentType.
func pngBytes() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
}

func pngUpload() *AvatarUpload {
	data := pngBytes()
	return &AvatarUpload{Body: bytes.NewReader(data), ContentType: "image/png", Size: int64(len(data))}
}

func textUpload() *AvatarUpload {
	return &AvatarUpload{Body: strings.NewReader("just some text"), ContentType: "image/png", Size: 14}
}

// hookedStore пропускает вызовы в хранилище и позволяет вмешаться в запись,
// в том числе внутри транзакции.
type hookedStore struct {
	ports.UserStore
	// beforeDelete вызывается перед DeleteUser.
	beforeDelete func()
	// failWrite - номер записи в множества (AddToSet, Pull), на которой вернуть сбой; 0 - не отказывать.
	failWrite int
	writes    *int
}

func (s *hookedStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.UserStore) error) error {
	return s.UserStore.WithinTx(ctx, func(ctx context.Context, tx ports.UserStore) error {
		inner := *s
		inner.UserStore = tx
		return fn(ctx, &inner)
	})
}

func (s *hookedStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if s.beforeDelete != nil {
		s.beforeDelete()
	}
	return s.UserStore.DeleteUser(ctx, id)
}

func (s *hookedStore) AddToSet(ctx context.Context, id uuid.UUID, field domain.RelationField, value uuid.UUID) error {
	if err := s.countWrite("add to set"); err != nil {
		return err
	}
	return s.UserStore.AddToSet(ctx, id, field, value)
}

func (s *hookedStore) Pull(ctx context.Context, id uuid.UUID, value uuid.UUID, fields ...domain.RelationField) error {
	if err := s.countWrite("pull"); err != nil {
		return err
	}
	return s.UserStore.Pull(ctx, id, value, fields...)
}

func (s *hookedStore) countWrite(op string) error {
	if s.failWrite == 0 || s.writes == nil {
		return nil
	}
	*s.writes++
	if *s.writes == s.failWrite {
		return domain.NewStorageError(op, errors.New("connection reset"))
	}
	return nil
}
