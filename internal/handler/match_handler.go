package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Действия над входящими и исходящими запросами
const (
	actionAccept = "accept"
	actionReject = "reject"
	actionCancel = "cancel"
)

// MatchHandler - обработчик запросов на пару и подбора кандидатов.
// Актор берётся из сессии, цель - из slug маршрута; ядро получает уже готовые id.
type MatchHandler struct {
	engine  usecase.RelationshipEngine
	queries usecase.QueryService
	logger  *slog.Logger
}

// NewMatchHandler создаёт новый экземпляр MatchHandler.
func NewMatchHandler(engine usecase.RelationshipEngine, queries usecase.QueryService, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{engine: engine, queries: queries, logger: logger}
}

type requestActionRequest struct {
	Action string `json:"action"`
}

// Like - POST /match/{slug}: запрос или подтверждение пары.
func (h *MatchHandler) Like(w http.ResponseWriter, r *http.Request) {
	actor, target, err := h.resolve(r)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	result, err := h.engine.RequestOrConfirm(r.Context(), actor, target)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	respondWithJSON(w, http.StatusOK, result, h.logger)
}

// Unmatch - DELETE /match/{slug}: удаляет любую связь с пользователем.
func (h *MatchHandler) Unmatch(w http.ResponseWriter, r *http.Request) {
	actor, target, err := h.resolve(r)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	if err := h.engine.Dissolve(r.Context(), actor, target); err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RespondToRequest - POST /requests/{slug} с {"action": "accept|reject|cancel"}.
// accept подтверждает входящий запрос, reject отклоняет его, cancel отзывает исходящий.
func (h *MatchHandler) RespondToRequest(w http.ResponseWriter, r *http.Request) {
	var req requestActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	actor, target, err := h.resolve(r)
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}

	switch req.Action {
	case actionAccept:
		if err := h.engine.Accept(r.Context(), actor, target); err != nil {
			respondWithDomainError(w, r, err, h.logger)
			return
		}
		respondWithJSON(w, http.StatusOK, usecase.MatchResult{Matched: true}, h.logger)
	case actionReject, actionCancel:
		if err := h.engine.Dissolve(r.Context(), actor, target); err != nil {
			respondWithDomainError(w, r, err, h.logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		respondWithDomainError(w, r, domain.NewValidationError("action", "must be accept, reject or cancel"), h.logger)
	}
}

// Candidates - GET /match/candidates?limit=N или ?all=true для полного списка.
func (h *MatchHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		respondWithDomainError(w, r, domain.ErrUnauthorized, h.logger)
		return
	}

	q := r.URL.Query()
	var (
		users []domain.User
		err   error
	)
	if q.Get("all") == "true" {
		users, err = h.engine.ListCandidates(r.Context(), actor)
	} else {
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
				respondWithDomainError(w, r, domain.NewValidationError("limit", "must be a non-negative integer"), h.logger)
				return
			}
		}
		users, err = h.engine.SampleCandidates(r.Context(), actor, limit)
	}
	if err != nil {
		respondWithDomainError(w, r, err, h.logger)
		return
	}
	respondWithJSON(w, http.StatusOK, toUserList(users), h.logger)
}

// resolve один раз определяет актора и цель запроса.
func (h *MatchHandler) resolve(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, domain.ErrUnauthorized
	}
	target, err := h.queries.UserBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return actor, target.ID, nil
}
