// Package seed наполняет хранилище демонстрационными пользователями и связями.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/usecase"
	"github.com/google/uuid"
)

//go:embed users.json
var defaultUsers []byte

// UserFixture - пользователь из файла наполнения. Связи заданы именами.
type UserFixture struct {
	Username         string   `json:"username"`
	Password         string   `json:"password"`
	Description      string   `json:"description"`
	Age              int      `json:"age"`
	Partners         []string `json:"partners"`
	OutgoingRequests []string `json:"outgoing_requests"`
	IncomingRequests []string `json:"incoming_requests"`
}

// Result - итог наполнения.
type Result struct {
	Created  int
	Existing int
	Links    int
}

// Load разбирает JSON-массив пользователей.
func Load(r io.Reader) ([]UserFixture, error) {
	var fixtures []UserFixture
	if err := json.NewDecoder(r).Decode(&fixtures); err != nil {
		return nil, fmt.Errorf("seed: ошибка разбора файла наполнения: %w", err)
	}
	return fixtures, nil
}

// LoadFile читает пользователей из path; пустой path означает встроенный набор.
func LoadFile(path string) ([]UserFixture, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Default возвращает встроенный набор пользователей.
func Default() ([]UserFixture, error) {
	return Load(bytes.NewReader(defaultUsers))
}

// Seeder создаёт пользователей через ProfileService, а связи через
// RelationshipEngine, поэтому данные проходят те же проверки, что и запросы API.
type Seeder struct {
	profiles usecase.ProfileService
	engine   usecase.RelationshipEngine
	store    ports.UserStore
	logger   *slog.Logger
}

// NewSeeder создает Seeder.
func NewSeeder(profiles usecase.ProfileService, engine usecase.RelationshipEngine, store ports.UserStore, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Seeder{profiles: profiles, engine: engine, store: store, logger: logger}
}

// Run создаёт недостающих пользователей и затем их связи. Уже существующие
// пользователи не изменяются, повторный запуск ничего не дублирует.
func (s *Seeder) Run(ctx context.Context, fixtures []UserFixture) (Result, error) {
	start := time.Now()
	var res Result

	ids := make(map[string]uuid.UUID, len(fixtures))
	for _, f := range fixtures {
		user, err := s.profiles.Create(ctx, usecase.CreateInput{
			Username:    f.Username,
			Password:    f.Password,
			Description: f.Description,
			Age:         f.Age,
		})
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, domain.ErrUsernameTaken):
			user, err = s.store.FindUserByUsername(ctx, f.Username)
			if err != nil {
				return res, fmt.Errorf("seed: ошибка при получении пользователя %q: %w", f.Username, err)
			}
			res.Existing++
		default:
			return res, fmt.Errorf("seed: ошибка при создании пользователя %q: %w", f.Username, err)
		}
		ids[f.Username] = user.ID
	}

	resolve := func(owner, name string) (uuid.UUID, error) {
		id, ok := ids[name]
		if !ok {
			return uuid.Nil, fmt.Errorf("seed: пользователь %q ссылается на неизвестного %q", owner, name)
		}
		return id, nil
	}
	link := func(actor, target uuid.UUID) error {
		if _, err := s.engine.RequestOrConfirm(ctx, actor, target); err != nil {
			return err
		}
		res.Links++
		return nil
	}

	for _, f := range fixtures {
		self := ids[f.Username]
		for _, name := range f.OutgoingRequests {
			other, err := resolve(f.Username, name)
			if err != nil {
				return res, err
			}
			if err := link(self, other); err != nil {
				return res, err
			}
		}
		for _, name := range f.IncomingRequests {
			other, err := resolve(f.Username, name)
			if err != nil {
				return res, err
			}
			if err := link(other, self); err != nil {
				return res, err
			}
		}
		// партнёрство - два встречных запроса
		for _, name := range f.Partners {
			other, err := resolve(f.Username, name)
			if err != nil {
				return res, err
			}
			if err := link(self, other); err != nil {
				return res, err
			}
			if err := link(other, self); err != nil {
				return res, err
			}
		}
	}

	s.logger.Info("database seeded",
		"created", res.Created,
		"existing", res.Existing,
		"links", res.Links,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
