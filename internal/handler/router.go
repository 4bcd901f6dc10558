package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers - набор обработчиков, из которых собирается маршрутизатор.
// Avatars может быть nil: тогда маршрут /avatars не регистрируется.
type Handlers struct {
	Users    *UserHandler
	Matches  *MatchHandler
	Avatars  *AvatarHandler
	Sessions *SessionManager
}

// NewRouter собирает маршруты JSON API.
func NewRouter(h Handlers, logger *slog.Logger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoadSession(h.Sessions))
	// После LoadSession, чтобы в логе был id пользователя.
	r.Use(RequestLogger(logger))
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Post("/register", h.Users.Register)
	r.Post("/login", h.Users.Login)
	r.Post("/logout", h.Users.Logout)

	r.Get("/users", h.Users.ListUsers)
	r.Get("/users/{slug}", h.Users.GetUser)
	if h.Avatars != nil {
		r.Get("/avatars/{name}", h.Avatars.Get)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(logger))

		r.Patch("/users/{slug}", h.Users.UpdateUser)
		r.Delete("/users/{slug}", h.Users.DeleteUser)
		r.Get("/users/{slug}/requests/{direction}", h.Users.ListRelations)

		r.Post("/requests/{slug}", h.Matches.RespondToRequest)

		r.Get("/match/candidates", h.Matches.Candidates)
		r.Post("/match/{slug}", h.Matches.Like)
		r.Delete("/match/{slug}", h.Matches.Unmatch)
	})

	return r
}
