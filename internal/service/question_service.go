package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrEmptyQuestion = errors.New("question title is required")
	ErrEmptyAnswer   = errors.New("answer body is required")
)

type NewQuestion struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Public bool   `json:"public"`
}

// Quota is a user's daily question allowance for the current day.
type Quota struct {
	Limit     int       `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

type QuestionService struct {
	repo   repository.QuestionRepository
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewQuestionService counts daily quotas from midnight to midnight in loc.
func NewQuestionService(repo repository.QuestionRepository, loc *time.Location, logger *slog.Logger) *QuestionService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionService{repo: repo, loc: loc, logger: logger, now: time.Now}
}

// dayWindow returns the bounds of the quota day containing t. Days are
// calendar days in the service zone, so DST days are 23 or 25 hours long.
func (s *QuestionService) dayWindow(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

func (s *QuestionService) Quota(ctx context.Context, user *domain.User) (Quota, error) {
	from, to := s.dayWindow(s.now())
	used, err := s.repo.CountCreatedBetween(ctx, user.ID, from, to)
	if err != nil {
		return Quota{}, err
	}
	return newQuota(user.DailyQuestions, used, to), nil
}

func newQuota(limit int, used int64, resetsAt time.Time) Quota {
	remaining := int64(limit) - used
	if remaining < 0 {
		remaining = 0
	}
	return Quota{Limit: limit, Used: used, Remaining: remaining, ResetsAt: resetsAt.UTC()}
}

// Submit stores a question for user unless the user's daily quota is spent.
func (s *QuestionService) Submit(ctx context.Context, user *domain.User, in NewQuestion) (*domain.Question, Quota, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, Quota{}, ErrEmptyQuestion
	}
	now := s.now()
	from, to := s.dayWindow(now)
	q := &domain.Question{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      strings.TrimSpace(in.Body),
		Public:    in.Public,
		CreatedAt: now.UTC(),
		UserID:    user.ID,
	}
	used, err := s.repo.CreateWithinLimit(ctx, q, from, to, user.DailyQuestions)
	if err != nil {
		if errors.Is(err, repository.ErrDailyLimitReached) {
			return nil, newQuota(user.DailyQuestions, used, to), err
		}
		return nil, Quota{}, fmt.Errorf("submit question: %w", err)
	}
	s.logger.InfoContext(ctx, "question submitted", "user_id", user.ID, "question_id", q.ID, "public", q.Public)
	return q, newQuota(user.DailyQuestions, used, to), nil
}

func (s *QuestionService) ListOwn(ctx context.Context, userID string) ([]domain.AskedQuestion, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ListUnanswered lists the questions waiting on admin, skipping the ones the
// admin asked.
func (s *QuestionService) ListUnanswered(ctx context.Context, admin *domain.User) ([]domain.PendingQuestion, error) {
	return s.repo.ListUnanswered(ctx, admin.ID)
}

func (s *QuestionService) Get(ctx context.Context, id string) (*domain.Question, error) {
	return s.repo.FindByID(ctx, id)
}

// Answer records admin's answer. Each question takes one answer.
func (s *QuestionService) Answer(ctx context.Context, admin *domain.User, questionID, body string) (*domain.Answer, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyAnswer
	}
	q, err := s.repo.FindByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	a := &domain.Answer{
		ID:         uuid.NewString(),
		Body:       body,
		CreatedAt:  s.now().UTC(),
		UserID:     admin.ID,
		QuestionID: q.ID,
	}
	if err := s.repo.CreateAnswer(ctx, a); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "question answered", "user_id", admin.ID, "question_id", q.ID)
	return a, nil
}
