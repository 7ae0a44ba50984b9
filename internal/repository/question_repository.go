package repository

import (
	"context"
	"errors"
	"time"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrQuestionNotFound  = errors.New("question not found")
	ErrAnswerExists      = errors.New("question already answered")
	ErrDailyLimitReached = errors.New("daily question limit reached")
)

type QuestionRepository interface {
	// CreateWithinLimit inserts q unless its author already asked limit
	// questions in [from, to). It returns how many the author has asked in
	// the window, including q.
	CreateWithinLimit(ctx context.Context, q *domain.Question, from, to time.Time, limit int) (int64, error)
	CountCreatedBetween(ctx context.Context, userID string, from, to time.Time) (int64, error)
	FindByID(ctx context.Context, id string) (*domain.Question, error)
	ListByUser(ctx context.Context, userID string) ([]domain.AskedQuestion, error)
	ListUnanswered(ctx context.Context, excludeUserID string) ([]domain.PendingQuestion, error)
	CreateAnswer(ctx context.Context, a *domain.Answer) error
}

type GormQuestionRepository struct{ db *gorm.DB }

func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &GormQuestionRepository{db: db}
}

func (r *GormQuestionRepository) CreateWithinLimit(ctx context.Context, q *domain.Question, from, to time.Time, limit int) (int64, error) {
	q.CreatedAt = q.CreatedAt.UTC()
	var used int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := countWindow(tx, q.UserID, from, to).Count(&used).Error; err != nil {
			return err
		}
		if used >= int64(limit) {
			return ErrDailyLimitReached
		}
		if err := tx.Create(q).Error; err != nil {
			return err
		}
		used++
		return nil
	})
	recordQuestionOp(ctx, "create_within_limit", err)
	return used, err
}

func (r *GormQuestionRepository) CountCreatedBetween(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	var n int64
	err := countWindow(r.db.WithContext(ctx), userID, from, to).Count(&n).Error
	recordQuestionOp(ctx, "count_created_between", err)
	return n, err
}

func countWindow(db *gorm.DB, userID string, from, to time.Time) *gorm.DB {
	return db.Model(&domain.Question{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from.UTC(), to.UTC())
}

func (r *GormQuestionRepository) FindByID(ctx context.Context, id string) (*domain.Question, error) {
	var q domain.Question
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrQuestionNotFound
	}
	recordQuestionOp(ctx, "find_by_id", err)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListByUser returns the user's questions newest first, each with its answer
// when one exists.
func (r *GormQuestionRepository) ListByUser(ctx context.Context, userID string) ([]domain.AskedQuestion, error) {
	out := make([]domain.AskedQuestion, 0)
	err := r.db.WithContext(ctx).Table("questions").
		Select("questions.*, answers.id IS NOT NULL AS answered, answers.body AS answer_body").
		Joins("LEFT JOIN answers ON answers.question_id = questions.id").
		Where("questions.user_id = ?", userID).
		Order("questions.created_at DESC").
		Scan(&out).Error
	recordQuestionOp(ctx, "list_by_user", err)
	return out, err
}

// ListUnanswered returns questions without an answer, newest first, leaving
// out the ones asked by excludeUserID.
func (r *GormQuestionRepository) ListUnanswered(ctx context.Context, excludeUserID string) ([]domain.PendingQuestion, error) {
	out := make([]domain.PendingQuestion, 0)
	err := r.db.WithContext(ctx).Table("questions").
		Select("questions.*, users.username AS username, users.avatar AS avatar").
		Joins("JOIN users ON users.id = questions.user_id").
		Where("questions.user_id <> ?", excludeUserID).
		Where("NOT EXISTS (SELECT 1 FROM answers WHERE answers.question_id = questions.id)").
		Order("questions.created_at DESC").
		Scan(&out).Error
	recordQuestionOp(ctx, "list_unanswered", err)
	return out, err
}

// CreateAnswer stores a. A second answer to the same question returns
// ErrAnswerExists, also when two writers race.
func (r *GormQuestionRepository) CreateAnswer(ctx context.Context, a *domain.Answer) error {
	a.CreatedAt = a.CreatedAt.UTC()
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "question_id"}}, DoNothing: true}).
		Create(a)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrAnswerExists
	}
	recordQuestionOp(ctx, "create_answer", err)
	return err
}

func recordQuestionOp(ctx context.Context, op string, err error) {
	outcome := repositoryOutcome(err, ErrQuestionNotFound)
	if errors.Is(err, ErrDailyLimitReached) || errors.Is(err, ErrAnswerExists) {
		outcome = "rejected"
	}
	observability.RecordRepositoryOperation(ctx, "question", op, outcome)
}
