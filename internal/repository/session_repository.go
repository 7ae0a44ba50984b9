package repository

import (
	"context"
	"errors"
	"time"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository owns persisted session rows. Values it returns are copies;
// callers never share mutable state with each other or with the store.
type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	// FindActiveByUserID backs the operator "sessions show" command.
	FindActiveByUserID(ctx context.Context, userID string) (*domain.Session, error)
	ListActive(ctx context.Context, limit int) ([]domain.Session, error)
	// Create inserts a single row without touching the user's other
	// sessions. Logins go through ReplaceForUser instead.
	Create(ctx context.Context, s *domain.Session) error
	ReplaceForUser(ctx context.Context, s *domain.Session) error
	Update(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &GormSessionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrSessionNotFound
		}
		recordSessionOp(ctx, "find_by_id", err)
		return nil, err
	}
	recordSessionOp(ctx, "find_by_id", nil)
	return &s, nil
}

// FindActiveByUserID returns the user's session with the latest expiry that is
// still valid. Expired sessions of the user are deleted along the way.
func (r *GormSessionRepository) FindActiveByUserID(ctx context.Context, userID string) (*domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("expires_at DESC").
		Find(&sessions).Error
	if err != nil {
		recordSessionOp(ctx, "find_active_by_user_id", err)
		return nil, err
	}
	now := r.now()
	var active *domain.Session
	expired := make([]string, 0)
	for i := range sessions {
		if sessions[i].Valid(now) {
			if active == nil {
				active = &sessions[i]
			}
			continue
		}
		expired = append(expired, sessions[i].ID)
	}
	if len(expired) > 0 {
		if err := r.db.WithContext(ctx).Where("id IN ?", expired).Delete(&domain.Session{}).Error; err != nil {
			recordSessionOp(ctx, "find_active_by_user_id", err)
			return nil, err
		}
	}
	if active == nil {
		recordSessionOp(ctx, "find_active_by_user_id", ErrSessionNotFound)
		return nil, ErrSessionNotFound
	}
	recordSessionOp(ctx, "find_active_by_user_id", nil)
	return active, nil
}

func (r *GormSessionRepository) ListActive(ctx context.Context, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("expires_at > ?", r.now()).
		Order("expires_at DESC").
		Limit(limit).
		Find(&sessions).Error
	recordSessionOp(ctx, "list_active", err)
	return sessions, err
}

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	s.ExpiresAt = s.ExpiresAt.UTC()
	err := r.db.WithContext(ctx).Create(s).Error
	recordSessionOp(ctx, "create", err)
	return err
}

// ReplaceForUser removes every session of s.UserID and inserts s in one
// transaction, keeping at most one session per user after a login.
func (r *GormSessionRepository) ReplaceForUser(ctx context.Context, s *domain.Session) error {
	s.ExpiresAt = s.ExpiresAt.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", s.UserID).Delete(&domain.Session{}).Error; err != nil {
			return err
		}
		return tx.Create(s).Error
	})
	recordSessionOp(ctx, "replace_for_user", err)
	return err
}

// Update replaces the token material and expiry of an existing session. Each
// ciphertext is written together with its nonce in a single statement.
func (r *GormSessionRepository) Update(ctx context.Context, s *domain.Session) error {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"access_token":        s.AccessToken,
			"access_token_nonce":  s.AccessTokenNonce,
			"refresh_token":       s.RefreshToken,
			"refresh_token_nonce": s.RefreshTokenNonce,
			"expires_at":          s.ExpiresAt.UTC(),
		})
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrSessionNotFound
	}
	recordSessionOp(ctx, "update", err)
	return err
}

// Delete is idempotent: removing an absent session is not an error.
func (r *GormSessionRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Session{}).Error
	recordSessionOp(ctx, "delete", err)
	return err
}

func (r *GormSessionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.Session{})
	recordSessionOp(ctx, "delete_by_user_id", res.Error)
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", r.now()).Delete(&domain.Session{})
	recordSessionOp(ctx, "cleanup_expired", res.Error)
	return res.RowsAffected, res.Error
}

func recordSessionOp(ctx context.Context, op string, err error) {
	observability.RecordRepositoryOperation(ctx, "session", op, repositoryOutcome(err, ErrSessionNotFound))
}

func repositoryOutcome(err, notFound error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, notFound):
		return "not_found"
	default:
		return "error"
	}
}
