package service

import (
	"context"
	"time"

	"github.com/asklp/asklp/internal/domain"
)

type AuthServiceInterface interface {
	LoginURL() (authURL, state string, err error)
	StateTTL() time.Duration
	VerifyState(cookieState, queryState string) error
	CompleteLogin(ctx context.Context, code string) (*LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
}

type SessionResolver interface {
	ResolveUser(ctx context.Context, sessionID string) (*domain.User, *domain.Session, error)
}

type UserServiceInterface interface {
	List(ctx context.Context) ([]domain.User, error)
}

type QuestionServiceInterface interface {
	Quota(ctx context.Context, user *domain.User) (Quota, error)
	Submit(ctx context.Context, user *domain.User, in NewQuestion) (*domain.Question, Quota, error)
	ListOwn(ctx context.Context, userID string) ([]domain.AskedQuestion, error)
	ListUnanswered(ctx context.Context, admin *domain.User) ([]domain.PendingQuestion, error)
	Get(ctx context.Context, id string) (*domain.Question, error)
	Answer(ctx context.Context, admin *domain.User, questionID, body string) (*domain.Answer, error)
}
