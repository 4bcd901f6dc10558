package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/database/memory"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/google/uuid"
)

type profileFixture struct {
	store    *memory.UserStore
	files    *memoryFiles
	engine   RelationshipEngine
	identity IdentityService
	profiles ProfileService
}

func newProfileFixture(t *testing.T) *profileFixture {
	t.Helper()
	store := memory.NewUserStore(nil)
	return newProfileFixtureOn(t, store, store, newMemoryFiles())
}

// newProfileFixtureOn позволяет подменить хранилище, которое видит сервис профилей.
func newProfileFixtureOn(t *testing.T, store *memory.UserStore, seen ports.UserStore, files *memoryFiles) *profileFixture {
	t.Helper()
	engine := NewRelationshipEngine(store, nil, 0)
	identity := NewIdentityService(seen, plainHasher{}, nil)
	avatars := NewAvatarService(files, nil, nil)
	return &profileFixture{
		store:    store,
		files:    files,
		engine:   engine,
		identity: identity,
		profiles: NewProfileService(seen, identity, avatars, nil, 0),
	}
}

func validInput(username string) CreateInput {
	return CreateInput{Username: username, Password: "Secret1!", Description: "hello", Age: 30}
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	f := newProfileFixture(t)

	u, err := f.profiles.Create(ctx, validInput("  Dana  "))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Username != "Dana" || u.Slug != "dana" {
		t.Fatalf("expected trimmed username Dana with slug dana, got %q / %q", u.Username, u.Slug)
	}
	if u.PasswordHash == "Secret1!" || !f.identity.VerifySecret("Secret1!", u.PasswordHash) {
		t.Fatalf("expected password to be stored hashed")
	}
	if u.ProfileImage != domain.DefaultProfileImage {
		t.Fatalf("expected default avatar, got %q", u.ProfileImage)
	}
	stored := mustFind(t, f.store, u.ID)
	if len(stored.Partners)+len(stored.OutgoingRequests)+len(stored.IncomingRequests) != 0 {
		t.Fatalf("new user must have empty relationship sets")
	}

	second, err := f.profiles.Create(ctx, validInput("dana"))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Slug != "dana-1" {
		t.Fatalf("expected dana-1, got %q", second.Slug)
	}

	if _, err := f.profiles.Create(ctx, validInput("Dana")); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected username taken, got %v", err)
	}
}

func TestCreateUserWithAvatar(t *testing.T) {
	ctx := context.Background()
	f := newProfileFixture(t)

	in := validInput("alice")
	in.Avatar = pngUpload()
	u, err := f.profiles.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(u.ProfileImage, "avatars/") || !f.files.has(u.ProfileImage) {
		t.Fatalf("expected stored avatar, got %q", u.ProfileImage)
	}

	bad := validInput("bob")
	bad.Avatar = textUpload()
	if _, err := f.profiles.Create(ctx, bad); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for non image avatar, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	ctx := context.Background()
	f := newProfileFixture(t)

	cases := map[string]CreateInput{
		"username":    {Username: "ab", Password: "Secret1!", Age: 30},
		"password":    {Username: "alice", Password: "password", Age: 30},
		"age":         {Username: "alice", Password: "Secret1!", Age: 12},
		"description": {Username: "alice", Password: "Secret1!", Age: 30, Description: "<script>"},
	}
	for field, in := range cases {
		_, err := f.profiles.Create(ctx, in)
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected validation error, got %v", field, err)
		}
		if ve.Problems[0].Field != field {
			t.Fatalf("%s: expected problem on %s, got %v", field, field, ve.Problems)
		}
	}

	users, err := f.store.FindUsers(ctx, domain.UserFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Fatalf("invalid input must not create users, got %d", len(users))
	}
}

// racyStore вставляет конкурента с тем же slug непосредственно перед первой записью.
type racyStore struct {
	*memory.UserStore
	raced bool
}

func (s *racyStore) InsertUser(ctx context.Context, user *domain.User) error {
	if !s.raced {
		s.raced = true
		rival := &domain.User{ID: uuid.New(), Username: "rival", Slug: user.Slug, Age: 40}
		if err := s.UserStore.InsertUser(ctx, rival); err != nil {
			return err
		}
	}
	return s.UserStore.InsertUser(ctx, user)
}

func TestCreateUserRetriesSlugRace(t *testing.T) {
	store := memory.NewUserStore(nil)
	f := newProfileFixtureOn(t, store, &racyStore{UserStore: store}, newMemoryFiles())

	u, err := f.profiles.Create(context.Background(), validInput("Dana"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Slug != "dana-1" {
		t.Fatalf("expected retry to pick dana-1, got %q", u.Slug)
	}
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	f := newProfileFixture(t)
	dana, err := f.profiles.Create(ctx, validInput("Dana"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.profiles.Create(ctx, validInput("Eve")); err != nil {
		t.Fatal(err)
	}

	name := "Dana Scully"
	age := 35
	updated, err := f.profiles.Update(ctx, dana.ID, UpdateInput{Username: &name, Age: &age})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Slug != "dana-scully" || updated.Age != 35 {
		t.Fatalf("expected slug dana-scully and age 35, got %q / %d", updated.Slug, updated.Age)
	}
	stored := mustFind(t, f.store, dana.ID)
	if stored.ID != dana.ID || !stored.CreatedAt.Equal(dana.CreatedAt) {
		t.Fatalf("update must not change id or created_at")
	}
	if stored.Slug != "dana-scully" {
		t.Fatalf("expected stored slug dana-scully, got %q", stored.Slug)
	}

	same := "Dana Scully"
	again, err := f.profiles.Update(ctx, dana.ID, UpdateInput{Username: &same})
	if err != nil {
		t.Fatalf("update with same name: %v", err)
	}
	if again.Slug != "dana-scully" {
		t.Fatalf("keeping the name must keep the slug, got %q", again.Slug)
	}

	taken := "Eve"
	if _, err := f.profiles.Update(ctx, dana.ID, UpdateInput{Username: &taken}); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected username taken, got %v", err)
	}

	password := "N3w-Secret"
	if _, err := f.profiles.Update(ctx, dana.ID, UpdateInput{Password: &password}); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if !f.identity.VerifySecret(password, mustFind(t, f.store, dana.ID).PasswordHash) {
		t.Fatalf("expected new password to verify")
	}

	tooOld := 200
	if _, err := f.profiles.Update(ctx, dana.ID, UpdateInput{Age: &tooOld}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	missing := uuid.New()
	if _, err := f.profiles.Update(ctx, missing, UpdateInput{Age: &age}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateAvatarReleasesOldOnlyAfterSuccess(t *testing.T) {
	ctx := context.Background()
	f := newProfileFixture(t)

	in := validInput("alice")
	in.Avatar = pngUpload()
	alice, err := f.profiles.Create(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	oldRef := alice.ProfileImage

	updated, err := f.profiles.Update(ctx, alice.ID, UpdateInput{Avatar: pngUpload()})
	if err != nil {
		t.Fatalf("update avatar: %v", err)
	}
	if updated.ProfileImage == oldRef || !f.files.has(updated.ProfileImage) {
		t.Fatalf("expected a new stored avatar, got %q", updated.ProfileImage)
	}
	if f.files.has(oldRef) {
		t.Fatalf("expected old avatar %q to be released", oldRef)
	}
}

// failingSetStore отказывает на любом изменении полей.
type failingSetStore struct {
	*memory.UserStore
}

func (s *failingSetStore) SetFields(context.Context, uuid.UUID, domain.UserUpdate) error {
	return domain.NewStorageError("set user fields", errors.New("connection reset"))
}

func TestUpdateFailureReleasesNewAvatar(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUserStore(nil)
	files := newMemoryFiles()
	healthy := newProfileFixtureOn(t, store, store, files)
	in := validInput("alice")
	in.Avatar = pngUpload()
	alice, err := healthy.profiles.Create(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	broken := newProfileFixtureOn(t, store, &failingSetStore{UserStore: store}, files)
	_, err = broken.profiles.Update(ctx, alice.ID, UpdateInput{Avatar: pngUpload()})
	if !domain.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !files.has(alice.ProfileImage) {
		t.Fatalf("old avatar must survive a failed update")
	}
	files.mu.Lock()
	count := len(files.objects)
	files.mu.Unlock()
	if count != 1 {
		t.Fatalf("new avatar must be released after a failed update, %d objects left", count)
	}
}

func TestDeleteUserPurgesRelationships(t *testing.T) {
	ctx := context.Background()
	f := newProfileFixture(t)

	in := validInput("xavier")
	in.Avatar = pngUpload()
	x, err := f.profiles.Create(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	y, err := f.profiles.Create(ctx, validInput("yolanda"))
	if err != nil {
		t.Fatal(err)
	}
	z, err := f.profiles.Create(ctx, validInput("zed"))
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range [][2]uuid.UUID{{x.ID, y.ID}, {y.ID, x.ID}, {z.ID, x.ID}} {
		if _, err := f.engine.RequestOrConfirm(ctx, step[0], step[1]); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.profiles.Delete(ctx, x.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.store.FindUserByID(ctx, x.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted user to be gone, got %v", err)
	}
	for _, id := range []uuid.UUID{y.ID, z.ID} {
		u := mustFind(t, f.store, id)
		for _, field := range domain.RelationFields {
			if u.Relation(field).Contains(x.ID) {
				t.Fatalf("%s still references the deleted user in %s", u.Username, field)
			}
		}
	}
	if f.files.has(x.ProfileImage) {
		t.Fatalf("expected avatar of the deleted user to be released")
	}
	checkRelationshipSymmetry(t, f.store)

	if err := f.profiles.Delete(ctx, x.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestDeleteWaitsForConcurrentMatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUserStore(nil)
	engine := NewRelationshipEngine(store, nil, 0)
	xavier := seedUser(t, store, "xavier", 30)
	yolanda := seedUser(t, store, "yolanda", 31)

	raced := make(chan error, 1)
	hooked := &hookedStore{UserStore: store, beforeDelete: func() {
		go func() {
			_, err := engine.RequestOrConfirm(ctx, yolanda.ID, xavier.ID)
			raced <- err
		}()
		// запрос yolanda успевает выполниться, если удаление его не блокирует
		select {
		case err := <-raced:
			raced <- err
		case <-time.After(20 * time.Millisecond):
		}
	}}
	profiles := NewProfileService(hooked, NewIdentityService(store, plainHasher{}, nil), nil, nil, 0)

	if err := profiles.Delete(ctx, xavier.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := <-raced; !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected the competing request to find xavier gone, got %v", err)
	}

	y := mustFind(t, store, yolanda.ID)
	for _, field := range domain.RelationFields {
		if y.Relation(field).Contains(xavier.ID) {
			t.Fatalf("yolanda references deleted xavier in %s", field)
		}
	}
	checkRelationshipSymmetry(t, store)
}
