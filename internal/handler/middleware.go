package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestLogger - middleware для логирования HTTP-запросов.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Оборачиваем ResponseWriter, чтобы знать статус
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if id, ok := UserIDFromContext(r.Context()); ok {
				attrs = append(attrs, "user_id", id)
			}
			logger.Info("http request", attrs...)
		})
	}
}

// responseWriter нужен, чтобы перехватывать код ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoadSession кладёт id пользователя из сессии в контекст запроса, если сессия есть.
func LoadSession(sessions *SessionManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := sessions.CurrentUserID(r); ok {
				r = r.WithContext(withUserID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession отвечает 401, если в контексте нет пользователя.
// Должен стоять после LoadSession.
func RequireSession(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserIDFromContext(r.Context()); !ok {
				logger.Warn("missing session", "method", r.Method, "path", r.URL.Path)
				respondWithError(w, http.StatusUnauthorized, "authentication required", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
