package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/GoArmGo/MatchApp/internal/adapter/security"
	"github.com/GoArmGo/MatchApp/internal/database/memory"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/usecase"
)

func newSeeder(store *memory.UserStore) *Seeder {
	identity := usecase.NewIdentityService(store, security.NewBcryptHasher(4), nil)
	avatars := usecase.NewAvatarService(nil, nil, nil)
	profiles := usecase.NewProfileService(store, identity, avatars, nil, 0)
	engine := usecase.NewRelationshipEngine(store, nil, 0)
	return NewSeeder(profiles, engine, store, nil)
}

func mustUser(t *testing.T, store *memory.UserStore, username string) *domain.User {
	t.Helper()
	u, err := store.FindUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("find %s: %v", username, err)
	}
	return u
}

func TestDefaultFixturesSeedRelationships(t *testing.T) {
	fixtures, err := Default()
	if err != nil {
		t.Fatalf("default fixtures: %v", err)
	}
	store := memory.NewUserStore(nil)
	res, err := newSeeder(store).Run(context.Background(), fixtures)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if res.Created != len(fixtures) || res.Existing != 0 {
		t.Fatalf("expected %d created users, got %+v", len(fixtures), res)
	}

	alice, bob, carol := mustUser(t, store, "alice"), mustUser(t, store, "bob"), mustUser(t, store, "carol")
	dave, erin := mustUser(t, store, "dave"), mustUser(t, store, "erin")

	if !alice.IsPartner(bob.ID) || !bob.IsPartner(alice.ID) {
		t.Fatalf("alice and bob must be partners")
	}
	if len(bob.OutgoingRequests) != 0 || len(bob.IncomingRequests) != 0 {
		t.Fatalf("confirmed partnership must leave no pending requests, got %+v", bob)
	}
	if !alice.OutgoingRequests.Contains(carol.ID) || !carol.IncomingRequests.Contains(alice.ID) {
		t.Fatalf("alice -> carol request must be recorded on both sides")
	}
	if !dave.OutgoingRequests.Contains(erin.ID) || !erin.IncomingRequests.Contains(dave.ID) {
		t.Fatalf("dave -> erin request must be recorded on both sides")
	}
	if alice.PasswordHash == "Alice123!" || alice.Slug != "alice" {
		t.Fatalf("seeded user must go through registration, got %+v", alice)
	}
}

func TestSeedIsRepeatable(t *testing.T) {
	fixtures, err := Default()
	if err != nil {
		t.Fatalf("default fixtures: %v", err)
	}
	store := memory.NewUserStore(nil)
	seeder := newSeeder(store)
	if _, err := seeder.Run(context.Background(), fixtures); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	res, err := seeder.Run(context.Background(), fixtures)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if res.Created != 0 || res.Existing != len(fixtures) {
		t.Fatalf("second run must reuse existing users, got %+v", res)
	}
	users, err := store.FindUsers(context.Background(), domain.UserFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != len(fixtures) {
		t.Fatalf("expected %d users, got %d", len(fixtures), len(users))
	}
	alice := mustUser(t, store, "alice")
	if len(alice.Partners) != 1 || len(alice.OutgoingRequests) != 1 {
		t.Fatalf("relationships must not be duplicated, got %+v", alice)
	}
}

func TestSeedRejectsUnknownReference(t *testing.T) {
	fixtures, err := Load(strings.NewReader(`[
		{"username": "alice", "password": "Alice123!", "age": 27, "partners": ["ghost"]}
	]`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = newSeeder(memory.NewUserStore(nil)).Run(context.Background(), fixtures)
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected unknown reference error, got %v", err)
	}
}

func TestSeedReportsInvalidFixture(t *testing.T) {
	fixtures := []UserFixture{{Username: "al", Password: "weak", Age: 10}}
	_, err := newSeeder(memory.NewUserStore(nil)).Run(context.Background(), fixtures)
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	if _, err := Load(strings.NewReader(`{"username":`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
