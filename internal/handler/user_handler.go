package handler

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/usecase"
	"github.com/go-chi/chi/v5"
)

// maxMultipartBody - аватар плюс текстовые поля формы.
const maxMultipartBody = usecase.MaxAvatarBytes + 1<<20

// UserHandler - обработчик регистрации, входа и профилей.
type UserHandler struct {
	profiles      usecase.ProfileService
	queries       usecase.QueryService
	identity      usecase.IdentityService
	sessions      *SessionManager
	uploadLimiter chan struct{}
	logger        *slog.Logger
}

// NewUserHandler создаёт новый экземпляр UserHandler.
// uploadLimiter ограничивает число одновременно принимаемых аватаров.
func NewUserHandler(
	profiles usecase.ProfileService,
	queries usecase.QueryService,
	identity usecase.IdentityService,
	sessions *SessionManager,
	uploadLimiter chan struct{},
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		profiles:      profiles,
		queries:       queries,
		identity:      identity,
		sessions:      sessions,
		uploadLimiter: uploadLimiter,
		logger:        logger,
	}
}

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Description string `json:"description"`
	Age         int    `json:"age"`
}

type updateRequest struct {
	Username    *string `json:"username"`
	Password    *string `json:"password"`
	Description *string `json:"description"`
	Age         *int    `json:"age"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register - POST /register. Принимает JSON или multipart/form-data с файлом avatar.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in usecase.CreateInput
	if isMultipart(r) {
		release, err := h.acquireUpload(r)
		if err != nil {
			respondWithError(w, http.StatusServiceUnavailable, "too many uploads in progress", h.logger)
			return
		}
		defer release()

		form, avatar, err := parseMultipart(w, r)
		if err != nil {
			respondWithDomainError(w, r, err, h.logger)
			return
		}
		defer closeAvatar(avatar)

		in = usecase.CreateInput{
			Username:    form.value("username"),
			Password:    form.value("password"),
			Description: form.value("description"),
		}
		if in.Age, err = form.intValue("age"); err != nil {
			respondWithDomainError(w, r, err, h.logger)
			return
		}
		if avatar != nil {
			in.Avatar = &avatar.upload
		}
	} else {
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondWithDomainError(w, r, err, h.logger)
			return
		}
		in = usecase.CreateInput{
			Username:    req.Username,
			Password:    req.Password,
			Description: req.Description,
			Age:         req.Age,
		}
	}

	user, err := h.profiles.Create(r.Context(), in)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	if err := h.sessions.Create(w, r, user.ID); err != nil {
		h.logger.Error("failed to create session", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error", h.logger)
		return
	}

	h.logger.Info("user registered", "user_id", user.ID, "slug", user.Slug)
	respondWithJSON(w, http.StatusCreated, toAccountResponse(user), h.logger)
}

// Login - POST /login.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}

	user, err := h.identity.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, domain.ErrUnauthorized) {
		respondWithError(w, http.StatusUnauthorized, "invalid username or password", h.logger)
		return
	}
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	if err := h.sessions.Create(w, r, user.ID); err != nil {
		h.logger.Error("failed to create session", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error", h.logger)
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID)
	respondWithJSON(w, http.StatusOK, toAccountResponse(user), h.logger)
}

// Logout - POST /logout.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(w, r); err != nil {
		h.logger.Error("failed to destroy session", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers - GET /users?username=&min_age=&max_age=&partners=&sort=&order=&limit=
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := usecase.SearchFilter{
		Username:     q.Get("username"),
		PartnersOnly: q.Get("partners") == "true",
		SortBy:       domain.SortField(q.Get("sort")),
		Ascending:    strings.EqualFold(q.Get("order"), "asc"),
	}

	ve := &domain.ValidationError{}
	filter.MinAge = queryInt(ve, q.Get("min_age"), "min_age")
	filter.MaxAge = queryInt(ve, q.Get("max_age"), "max_age")
	filter.Limit = queryInt(ve, q.Get("limit"), "limit")
	if ve.HasProblems() {
		respondWithDomainError(w, r, ve, h.logger)
		return
	}

	viewer, _ := UserIDFromContext(r.Context())
	users, err := h.queries.Search(r.Context(), filter, viewer)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	respondWithJSON(w, http.StatusOK, toUserList(users), h.logger)
}

// GetUser - GET /users/{slug}.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	viewer, _ := UserIDFromContext(r.Context())
	view, err := h.queries.ViewProfile(r.Context(), chi.URLParam(r, "slug"), viewer)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	respondWithJSON(w, http.StatusOK, toProfileResponse(view), h.logger)
}

// UpdateUser - PATCH /users/{slug}. Только владелец профиля.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	owner, err := h.requireOwner(r)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}

	var in usecase.UpdateInput
	if isMultipart(r) {
		release, err := h.acquireUpload(r)
		if err != nil {
			respondWithError(w, http.StatusServiceUnavailable, "too many uploads in progress", h.logger)
			return
		}
		defer release()

		form, avatar, err := parseMultipart(w, r)
		if err != nil {
			respondWithDomainError(w, r, err, h.logger)
			return
		}
		defer closeAvatar(avatar)

		in.Username = form.optional("username")
		in.Password = form.optional("password")
		in.Description = form.optional("description")
		if form.optional("age") != nil {
			age, err := form.intValue("age")
			if err != nil {
				respondWithDomainError(w, r, err, h.logger)
				return
			}
			in.Age = &age
		}
		if avatar != nil {
			in.Avatar = &avatar.upload
		}
	} else {
		var req updateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondWithDomainError(w, r, err, h.logger)
			return
		}
		in = usecase.UpdateInput{
			Username:    req.Username,
			Password:    req.Password,
			Description: req.Description,
			Age:         req.Age,
		}
	}

	user, err := h.profiles.Update(r.Context(), owner.ID, in)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	respondWithJSON(w, http.StatusOK, toAccountResponse(user), h.logger)
}

// DeleteUser - DELETE /users/{slug}. Только владелец; сессия закрывается.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	owner, err := h.requireOwner(r)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	if err := h.profiles.Delete(r.Context(), owner.ID); err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	if err := h.sessions.Destroy(w, r); err != nil {
		h.logger.Error("failed to destroy session after delete", "user_id", owner.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRelations - GET /users/{slug}/requests/{direction}, direction: incoming, outgoing, partners.
func (h *UserHandler) ListRelations(w http.ResponseWriter, r *http.Request) {
	owner, err := h.requireOwner(r)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}

	var users []domain.User
	switch direction := chi.URLParam(r, "direction"); direction {
	case "incoming":
		users, err = h.queries.IncomingRequests(r.Context(), owner.ID)
	case "outgoing":
		users, err = h.queries.OutgoingRequests(r.Context(), owner.ID)
	case "partners":
		users, err = h.queries.Partners(r.Context(), owner.ID)
	default:
		err = domain.NewValidationError("direction", "must be incoming, outgoing or partners")
	}
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	respondWithJSON(w, http.StatusOK, toUserList(users), h.logger)
}

// requireOwner находит профиль по slug маршрута и сверяет его с пользователем сессии.
func (h *UserHandler) requireOwner(r *http.Request) (*domain.User, error) {
	viewer, ok := UserIDFromContext(r.Context())
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	user, err := h.queries.UserBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		return nil, err
	}
	if user.ID != viewer {
		return nil, domain.ErrForbidden
	}
	return user, nil
}

// acquireUpload занимает слот лимитера; возвращает функцию освобождения.
func (h *UserHandler) acquireUpload(r *http.Request) (func(), error) {
	if h.uploadLimiter == nil {
		return func() {}, nil
	}
	select {
	case h.uploadLimiter <- struct{}{}:
		return func() { <-h.uploadLimiter }, nil
	case <-r.Context().Done():
		return nil, r.Context().Err()
	}
}

func queryInt(ve *domain.ValidationError, raw, field string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		ve.Add(field, "must be an integer")
		return 0
	}
	return n
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

type formValues struct {
	values map[string][]string
}

func (f formValues) optional(key string) *string {
	v, ok := f.values[key]
	if !ok || len(v) == 0 {
		return nil
	}
	return &v[0]
}

func (f formValues) value(key string) string {
	if v := f.optional(key); v != nil {
		return *v
	}
	return ""
}

func (f formValues) intValue(key string) (int, error) {
	raw := strings.TrimSpace(f.value(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(key, "must be an integer")
	}
	return n, nil
}

type avatarFile struct {
	file   multipart.File
	upload usecase.AvatarUpload
}

func closeAvatar(a *avatarFile) {
	if a != nil {
		_ = a.file.Close()
	}
}

// parseMultipart разбирает форму; отсутствие файла avatar не ошибка.
func parseMultipart(w http.ResponseWriter, r *http.Request) (formValues, *avatarFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(maxMultipartBody); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return formValues{}, nil, domain.NewValidationError("avatar", "file exceeds 2 MiB")
		}
		return formValues{}, nil, domain.NewValidationError("body", "malformed multipart form")
	}
	form := formValues{values: r.MultipartForm.Value}

	file, header, err := r.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		return form, nil, nil
	}
	if err != nil {
		return form, nil, domain.NewValidationError("avatar", "cannot read uploaded file")
	}
	return form, &avatarFile{
		file: file,
		upload: usecase.AvatarUpload{
			Body:        file,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
		},
	}, nil
}
