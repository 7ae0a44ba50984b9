package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/http/middleware"
	"github.com/asklp/asklp/internal/http/response"
	"github.com/asklp/asklp/internal/service"
)

type AppHandler struct {
	userSvc service.UserServiceInterface
}

func NewAppHandler(userSvc service.UserServiceInterface) *AppHandler {
	return &AppHandler{userSvc: userSvc}
}

type userView struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Discriminator  string    `json:"discriminator"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	IsAdmin        bool      `json:"is_admin"`
	JoinedAt       time.Time `json:"joined_at"`
	DailyQuestions int       `json:"daily_questions"`
}

func toUserView(u *domain.User) userView {
	return userView{
		ID:             u.ID,
		Username:       u.Username,
		Discriminator:  u.Discriminator,
		AvatarURL:      u.AvatarURL(),
		IsAdmin:        u.IsAdmin,
		JoinedAt:       u.JoinedAt,
		DailyQuestions: u.DailyQuestions,
	}
}

func (h *AppHandler) Landing(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]string{"login_url": "/auth/discord"})
}

func (h *AppHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	response.Text(w, http.StatusOK, "pong")
}

func (h *AppHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	payload := map[string]any{"user": toUserView(user)}
	if session, ok := middleware.SessionFromContext(r.Context()); ok {
		payload["session_expires_at"] = session.ExpiresAt
	}
	response.JSON(w, r, http.StatusOK, payload)
}

func (h *AppHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userSvc.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "list users failed", "error", err)
		response.Internal(w, r)
		return
	}
	views := make([]userView, 0, len(users))
	for i := range users {
		views = append(views, toUserView(&users[i]))
	}
	response.JSON(w, r, http.StatusOK, views)
}
