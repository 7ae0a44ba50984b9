package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/asklp/asklp/internal/http/middleware"
	"github.com/asklp/asklp/internal/http/response"
	"github.com/asklp/asklp/internal/observability"
	"github.com/asklp/asklp/internal/repository"
	"github.com/asklp/asklp/internal/service"
)

// QuestionHandler serves the question routes below the authenticated area.
// Routes are mounted behind RequireUser; answering also needs RequireAdmin.
type QuestionHandler struct {
	svc service.QuestionServiceInterface
}

func NewQuestionHandler(svc service.QuestionServiceInterface) *QuestionHandler {
	return &QuestionHandler{svc: svc}
}

// List shows an admin the unanswered queue and everyone else their own
// questions.
func (h *QuestionHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	quota, err := h.svc.Quota(r.Context(), user)
	if err != nil {
		h.internal(w, r, "load question quota failed", err)
		return
	}
	if user.IsAdmin {
		pending, err := h.svc.ListUnanswered(r.Context(), user)
		if err != nil {
			h.internal(w, r, "list unanswered questions failed", err)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]any{"questions": pending, "quota": quota})
		return
	}
	own, err := h.svc.ListOwn(r.Context(), user.ID)
	if err != nil {
		h.internal(w, r, "list questions failed", err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"questions": own, "quota": quota})
}

func (h *QuestionHandler) New(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	quota, err := h.svc.Quota(r.Context(), user)
	if err != nil {
		h.internal(w, r, "load question quota failed", err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"quota": quota})
}

func (h *QuestionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var in service.NewQuestion
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON question", nil)
		return
	}
	q, quota, err := h.svc.Submit(r.Context(), user, in)
	switch {
	case errors.Is(err, service.ErrEmptyQuestion):
		response.Error(w, r, http.StatusBadRequest, "INVALID_QUESTION", err.Error(), nil)
		return
	case errors.Is(err, repository.ErrDailyLimitReached):
		response.Error(w, r, http.StatusForbidden, "DAILY_LIMIT_REACHED", "daily question limit reached", map[string]any{"quota": quota})
		return
	case err != nil:
		h.internal(w, r, "submit question failed", err)
		return
	}
	observability.Audit(r, "question_submitted", "user_id", user.ID, "question_id", q.ID)
	response.JSON(w, r, http.StatusCreated, map[string]any{"question": q, "quota": quota})
}

func (h *QuestionHandler) Show(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, repository.ErrQuestionNotFound) {
		response.Error(w, r, http.StatusNotFound, "QUESTION_NOT_FOUND", "question not found", nil)
		return
	}
	if err != nil {
		h.internal(w, r, "load question failed", err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"question": q})
}

type answerRequest struct {
	Body string `json:"body"`
}

func (h *QuestionHandler) Answer(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var in answerRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON answer", nil)
		return
	}
	a, err := h.svc.Answer(r.Context(), admin, chi.URLParam(r, "id"), in.Body)
	switch {
	case errors.Is(err, service.ErrEmptyAnswer):
		response.Error(w, r, http.StatusBadRequest, "INVALID_ANSWER", err.Error(), nil)
		return
	case errors.Is(err, repository.ErrQuestionNotFound):
		response.Error(w, r, http.StatusNotFound, "QUESTION_NOT_FOUND", "question not found", nil)
		return
	case errors.Is(err, repository.ErrAnswerExists):
		response.Error(w, r, http.StatusConflict, "ANSWER_EXISTS", "question already answered", nil)
		return
	case err != nil:
		h.internal(w, r, "answer question failed", err)
		return
	}
	observability.Audit(r, "question_answered", "user_id", admin.ID, "question_id", a.QuestionID)
	response.JSON(w, r, http.StatusCreated, map[string]any{"answer": a})
}

func (h *QuestionHandler) internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.ErrorContext(r.Context(), msg, "error", err)
	response.Internal(w, r)
}
