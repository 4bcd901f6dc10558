// Package storetest содержит общий набор проверок для реализаций ports.UserStore.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/google/uuid"
)

// Factory возвращает пустое хранилище для одного подтеста.
type Factory func(t *testing.T) ports.UserStore

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newUser(username string, age int, minutes int) *domain.User {
	return &domain.User{
		ID:           uuid.New(),
		Username:     username,
		Slug:         username,
		PasswordHash: "hash",
		ProfileImage: domain.DefaultProfileImage,
		Age:          age,
		CreatedAt:    base.Add(time.Duration(minutes) * time.Minute),
	}
}

func insert(t *testing.T, s ports.UserStore, u *domain.User) *domain.User {
	t.Helper()
	if err := s.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("insert %s: %v", u.Username, err)
	}
	return u
}

func find(t *testing.T, s ports.UserStore, id uuid.UUID) *domain.User {
	t.Helper()
	u, err := s.FindUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find %s: %v", id, err)
	}
	return u
}

func names(users []domain.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Username
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Run прогоняет все проверки контракта хранилища.
func Run(t *testing.T, newStore Factory) {
	t.Run("insert and find", func(t *testing.T) { testInsertAndFind(t, newStore(t)) })
	t.Run("unique constraints", func(t *testing.T) { testUniqueConstraints(t, newStore(t)) })
	t.Run("set fields", func(t *testing.T) { testSetFields(t, newStore(t)) })
	t.Run("set operations", func(t *testing.T) { testSetOperations(t, newStore(t)) })
	t.Run("find users", func(t *testing.T) { testFindUsers(t, newStore(t)) })
	t.Run("sample users", func(t *testing.T) { testSampleUsers(t, newStore(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
}

func testInsertAndFind(t *testing.T, s ports.UserStore) {
	ctx := context.Background()
	alice := insert(t, s, newUser("alice", 25, 0))

	got := find(t, s, alice.ID)
	if got.Username != "alice" || got.Slug != "alice" || got.Age != 25 || got.PasswordHash != "hash" {
		t.Fatalf("unexpected user %+v", got)
	}
	if got.Partners == nil || got.OutgoingRequests == nil || got.IncomingRequests == nil {
		t.Fatalf("relationship sets must be empty, not nil")
	}
	if !got.CreatedAt.Equal(alice.CreatedAt) {
		t.Fatalf("expected created_at %v, got %v", alice.CreatedAt, got.CreatedAt)
	}

	if u, err := s.FindUserBySlug(ctx, "alice"); err != nil || u.ID != alice.ID {
		t.Fatalf("find by slug: %v / %v", u, err)
	}
	if u, err := s.FindUserByUsername(ctx, "alice"); err != nil || u.ID != alice.ID {
		t.Fatalf("find by username: %v / %v", u, err)
	}
	if _, err := s.FindUserByID(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.FindUserBySlug(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	exists, err := s.SlugExists(ctx, "alice")
	if err != nil || !exists {
		t.Fatalf("expected slug to exist: %v / %v", exists, err)
	}
	exists, err = s.SlugExists(ctx, "alice-1")
	if err != nil || exists {
		t.Fatalf("expected slug to be free: %v / %v", exists, err)
	}
}

func testUniqueConstraints(t *testing.T, s ports.UserStore) {
	ctx := context.Background()
	insert(t, s, newUser("alice", 25, 0))

	dupName := newUser("alice", 30, 1)
	dupName.Slug = "alice-1"
	if err := s.InsertUser(ctx, dupName); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected username taken, got %v", err)
	}

	dupSlug := newUser("Alice", 30, 2)
	dupSlug.Slug = "alice"
	if err := s.InsertUser(ctx, dupSlug); !errors.Is(err, domain.ErrSlugTaken) {
		t.Fatalf("expected slug taken, got %v", err)
	}
}

func testSetFields(t *testing.T, s ports.UserStore) {
	ctx := context.Background()
	alice := insert(t, s, newUser("alice", 25, 0))
	insert(t, s, newUser("bob", 30, 1))

	name, slug, age := "alicia", "alicia", 26
	if err := s.SetFields(ctx, alice.ID, domain.UserUpdate{Username: &name, Slug: &slug, Age: &age}); err != nil {
		t.Fatalf("set fields: %v", err)
	}
	got := find(t, s, alice.ID)
	if got.Username != "alicia" || got.Slug != "alicia" || got.Age != 26 {
		t.Fatalf("unexpected user after update %+v", got)
	}
	if !got.CreatedAt.Equal(alice.CreatedAt) {
		t.Fatalf("created_at must not change")
	}

	taken := "bob"
	if err := s.SetFields(ctx, alice.ID, domain.UserUpdate{Slug: &taken}); !errors.Is(err, domain.ErrSlugTaken) {
		t.Fatalf("expected slug taken, got %v", err)
	}
	if err := s.SetFields(ctx, uuid.New(), domain.UserUpdate{Age: &age}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testSetOperations(t *testing.T, s ports.UserStore) {
	ctx := context.Background()
	a := insert(t, s, newUser("alice", 25, 0))
	b := insert(t, s, newUser("bob", 30, 1))
	c := insert(t, s, newUser("carol", 35, 2))

	for i := 0; i < 2; i++ {
		if err := s.AddToSet(ctx, a.ID, domain.FieldOutgoingRequests, b.ID); err != nil {
			t.Fatalf("add to set: %v", err)
		}
	}
	if err := s.AddToSet(ctx, a.ID, domain.FieldPartners, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.AddToSet(ctx, b.ID, domain.FieldIncomingRequests, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.AddToSet(ctx, c.ID, domain.FieldPartners, a.ID); err != nil {
		t.Fatal(err)
	}

	got := find(t, s, a.ID)
	if len(got.OutgoingRequests) != 1 || !got.OutgoingRequests.Contains(b.ID) {
		t.Fatalf("add to set must not duplicate, got %v", got.OutgoingRequests)
	}

	if err := s.Pull(ctx, a.ID, b.ID, domain.FieldOutgoingRequests, domain.FieldPartners); err != nil {
		t.Fatalf("pull: %v", err)
	}
	got = find(t, s, a.ID)
	if len(got.OutgoingRequests) != 0 || !got.Partners.Contains(c.ID) {
		t.Fatalf("pull removed the wrong values: %+v", got)
	}

	if err := s.PullFromAll(ctx, a.ID); err != nil {
		t.Fatalf("pull from all: %v", err)
	}
	if got := find(t, s, b.ID); got.IncomingRequests.Contains(a.ID) {
		t.Fatalf("pull from all left a reference in bob")
	}
	if got := find(t, s, c.ID); got.Partners.Contains(a.ID) {
		t.Fatalf("pull from all left a reference in carol")
	}

	if err := s.AddToSet(ctx, uuid.New(), domain.FieldPartners, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testFindUsers(t *testing.T, s ports.UserStore) {
	ctx := context.Background()
	anna := insert(t, s, newUser("Anna", 22, 0))
	hannah := insert(t, s, newUser("hannah", 41, 1))
	bob := insert(t, s, newUser("bob", 35, 2))
	insert(t, s, newUser("under_score", 50, 3))

	cases := []struct {
		name   string
		filter domain.UserFilter
		want   []string
	}{
		{"default newest first", domain.UserFilter{}, []string{"under_score", "bob", "hannah", "Anna"}},
		{"case insensitive substring", domain.UserFilter{UsernameContains: "ANN"}, []string{"hannah", "Anna"}},
		{"like wildcards are literal", domain.UserFilter{UsernameContains: "_"}, []string{"under_score"}},
		{"age range", domain.UserFilter{MinAge: 30, MaxAge: 45}, []string{"bob", "hannah"}},
		{"only ids", domain.UserFilter{OnlyIDs: true, IDs: []uuid.UUID{anna.ID, bob.ID}}, []string{"bob", "Anna"}},
		{"only empty ids", domain.UserFilter{OnlyIDs: true}, []string{}},
		{"exclude", domain.UserFilter{ExcludeIDs: []uuid.UUID{hannah.ID, bob.ID}}, []string{"under_score", "Anna"}},
		{"age ascending", domain.UserFilter{SortField: domain.SortByAge, Ascending: true}, []string{"Anna", "bob", "hannah", "under_score"}},
		{"oldest first", domain.UserFilter{SortField: domain.SortByCreatedAt, Ascending: true, Limit: 2}, []string{"Anna", "hannah"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.FindUsers(ctx, tc.filter)
			if err != nil {
				t.Fatalf("find users: %v", err)
			}
			if !equal(names(got), tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, names(got))
			}
		})
	}
}

func testSampleUsers(t *testing.T, s ports.UserStore) {
	ctx := context.Background()
	me := insert(t, s, newUser("me", 30, 0))
	for i, name := range []string{"u1", "u2", "u3", "u4"} {
		insert(t, s, newUser(name, 30, i+1))
	}

	got, err := s.SampleUsers(ctx, []uuid.UUID{me.ID}, 3)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 users, got %d", len(got))
	}
	seen := map[uuid.UUID]bool{}
	for _, u := range got {
		if u.ID == me.ID {
			t.Fatalf("excluded user in sample")
		}
		if seen[u.ID] {
			t.Fatalf("duplicate user in sample")
		}
		seen[u.ID] = true
	}

	got, err = s.SampleUsers(ctx, []uuid.UUID{me.ID}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected all 4 candidates, got %d", len(got))
	}
}

func testDelete(t *testing.T, s ports.UserStore) {
	ctx := context.Background()
	alice := insert(t, s, newUser("alice", 25, 0))
	if err := s.DeleteUser(ctx, alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.FindUserByID(ctx, alice.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.DeleteUser(ctx, alice.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func testTransactions(t *testing.T, s ports.UserStore) {
	ctx := context.Background()
	a := insert(t, s, newUser("alice", 25, 0))
	b := insert(t, s, newUser("bob", 30, 1))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx ports.UserStore) error {
		locked, err := tx.LockUsers(ctx, b.ID, a.ID)
		if err != nil {
			return err
		}
		if len(locked) != 2 {
			t.Errorf("expected two locked users, got %d", len(locked))
		}
		if err := tx.AddToSet(ctx, a.ID, domain.FieldOutgoingRequests, b.ID); err != nil {
			return err
		}
		if err := tx.AddToSet(ctx, b.ID, domain.FieldIncomingRequests, a.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to be returned, got %v", err)
	}
	if got := find(t, s, a.ID); len(got.OutgoingRequests) != 0 {
		t.Fatalf("rollback must undo the first write, got %v", got.OutgoingRequests)
	}
	if got := find(t, s, b.ID); len(got.IncomingRequests) != 0 {
		t.Fatalf("rollback must undo the second write, got %v", got.IncomingRequests)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx ports.UserStore) error {
		return tx.AddToSet(ctx, a.ID, domain.FieldOutgoingRequests, b.ID)
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := find(t, s, a.ID); !got.OutgoingRequests.Contains(b.ID) {
		t.Fatalf("committed write is missing")
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx ports.UserStore) error {
		_, err := tx.LockUsers(ctx, a.ID, uuid.New())
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found when locking a missing user, got %v", err)
	}
}
