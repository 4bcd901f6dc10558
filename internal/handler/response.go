package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/GoArmGo/MatchApp/internal/domain"
)

// maxJSONBody ограничивает размер JSON-тела запроса.
const maxJSONBody = 1 << 20

// errorResponse - тело ответа с ошибкой.
type errorResponse struct {
	Error    string                `json:"error"`
	Problems []domain.FieldProblem `json:"problems,omitempty"`
}

// respondWithJSON - отправляет JSON-ответ клиенту.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}, logger *slog.Logger) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		logger.Error("failed to marshal JSON response", "error", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err = w.Write(response); err != nil {
		logger.Error("failed to write HTTP response", "error", err)
	}
}

// respondWithError - отправляет JSON-ответ с ошибкой.
func respondWithError(w http.ResponseWriter, code int, message string, logger *slog.Logger) {
	respondWithJSON(w, code, errorResponse{Error: message}, logger)
}

// respondWithDomainError сопоставляет ошибку ядра со статусом HTTP.
// Ошибки клиента логируются как warn, сбои - как error.
func respondWithDomainError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		logger.Warn("request rejected", "path", r.URL.Path, "problems", ve.Problems)
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Problems: ve.Problems}, logger)
	case errors.Is(err, domain.ErrUnauthorized):
		logger.Warn("unauthorized request", "path", r.URL.Path)
		respondWithError(w, http.StatusUnauthorized, "authentication required", logger)
	case errors.Is(err, domain.ErrForbidden):
		logger.Warn("forbidden request", "path", r.URL.Path)
		respondWithError(w, http.StatusForbidden, "forbidden", logger)
	case errors.Is(err, domain.ErrRequestNotFound):
		respondWithError(w, http.StatusNotFound, "no pending request from this user", logger)
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "not found", logger)
	case errors.Is(err, domain.ErrUsernameTaken):
		respondWithError(w, http.StatusConflict, "username already taken", logger)
	case errors.Is(err, domain.ErrConflict):
		respondWithError(w, http.StatusConflict, "conflict", logger)
	default:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error", logger)
	}
}

// decodeJSON читает тело запроса в dst; неизвестные поля запрещены.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("body", "request body is empty")
		}
		return domain.NewValidationError("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	return nil
}
