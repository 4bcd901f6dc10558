package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// AvatarReader читает сохранённые файлы аватаров.
type AvatarReader interface {
	GetFile(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// AvatarHandler отдаёт аватары через API, не раскрывая адрес хранилища.
type AvatarHandler struct {
	files  AvatarReader
	logger *slog.Logger
}

// NewAvatarHandler создаёт новый экземпляр AvatarHandler.
func NewAvatarHandler(files AvatarReader, logger *slog.Logger) *AvatarHandler {
	return &AvatarHandler{files: files, logger: logger}
}

// Get - GET /avatars/{name}.
func (h *AvatarHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		respondWithError(w, http.StatusNotFound, "not found", h.logger)
		return
	}

	body, contentType, err := h.files.GetFile(r.Context(), "avatars/"+name)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("failed to stream avatar", "name", name, "error", err)
	}
}
