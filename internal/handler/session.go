package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const sessionUserKey = "user_id"

// SessionConfig - параметры cookie-сессии.
type SessionConfig struct {
	Name   string
	Secret string
	MaxAge int
	Secure bool
}

// SessionManager выдаёт и отзывает сессии, хранящие id пользователя в подписанной cookie.
type SessionManager struct {
	store *sessions.CookieStore
	name  string
}

// NewSessionManager создаёт менеджер сессий поверх gorilla/sessions.
func NewSessionManager(cfg SessionConfig) *SessionManager {
	store := sessions.NewCookieStore([]byte(cfg.Secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionManager{store: store, name: cfg.Name}
}

// Create записывает id пользователя в новую сессию.
func (m *SessionManager) Create(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	// Get возвращает новую сессию даже при битой cookie, ошибку можно игнорировать.
	session, _ := m.store.Get(r, m.name)
	session.Values[sessionUserKey] = userID.String()
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Destroy удаляет cookie сессии.
func (m *SessionManager) Destroy(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.store.Get(r, m.name)
	delete(session.Values, sessionUserKey)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// CurrentUserID читает id пользователя из cookie запроса.
func (m *SessionManager) CurrentUserID(r *http.Request) (uuid.UUID, bool) {
	session, err := m.store.Get(r, m.name)
	if err != nil {
		return uuid.Nil, false
	}
	raw, ok := session.Values[sessionUserKey].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

type ctxKey struct{}

func withUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// UserIDFromContext возвращает id пользователя, положенный LoadSession.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
