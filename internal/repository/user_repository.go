package repository

import (
	"context"
	"errors"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	CreateIfAbsent(ctx context.Context, user *domain.User) (bool, error)
	List(ctx context.Context) ([]domain.User, error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", repositoryOutcome(err, ErrUserNotFound))
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.JoinedAt = user.JoinedAt.UTC()
	err := r.db.WithContext(ctx).Create(user).Error
	observability.RecordRepositoryOperation(ctx, "user", "create", repositoryOutcome(err, ErrUserNotFound))
	return err
}

// CreateIfAbsent inserts user unless its id is already taken. When another
// writer got there first, user is overwritten with the stored row and the
// result is false.
func (r *GormUserRepository) CreateIfAbsent(ctx context.Context, user *domain.User) (bool, error) {
	user.JoinedAt = user.JoinedAt.UTC()
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(user)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create_if_absent", "error")
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		observability.RecordRepositoryOperation(ctx, "user", "create_if_absent", "success")
		return true, nil
	}
	existing, err := r.FindByID(ctx, user.ID)
	if err != nil {
		return false, err
	}
	*user = *existing
	observability.RecordRepositoryOperation(ctx, "user", "create_if_absent", "exists")
	return false, nil
}

func (r *GormUserRepository) List(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := r.db.WithContext(ctx).Order("joined_at ASC").Find(&users).Error
	observability.RecordRepositoryOperation(ctx, "user", "list", repositoryOutcome(err, ErrUserNotFound))
	return users, err
}
