package repository

import (
	"context"
	"errors"

	"discussify/internal/database"
	"discussify/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines the interface for author operations
type UserRepository interface {
	Create(ctx context.Context, user *models.Author) error
	GetByID(ctx context.Context, id string) (*models.Author, error)
	// Ensure returns the user with id, creating one named after the id if
	// none exists yet.
	Ensure(ctx context.Context, id string) (*models.Author, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.Author) (err error) {
	ctx, span := startSpan(ctx, r.db, "Create", "users")
	defer func() { err = endSpan(span, err) }()

	if user.ID == "" {
		return models.NewValidationError("user id is required")
	}
	rec := database.UserRecord{ID: user.ID, Username: user.Username, Avatar: user.Avatar}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *userRepository) GetByID(ctx context.Context, id string) (_ *models.Author, err error) {
	ctx, span := startSpan(ctx, r.db, "GetByID", "users")
	defer func() { err = endSpan(span, err) }()

	var rec database.UserRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, notFound(err, "User", id)
	}
	author := toAuthor(rec)
	return &author, nil
}

func (r *userRepository) Ensure(ctx context.Context, id string) (_ *models.Author, err error) {
	ctx, span := startSpan(ctx, r.db, "Ensure", "users")
	defer func() { err = endSpan(span, err) }()

	if id == "" {
		return nil, models.NewValidationError("user id is required")
	}
	rec := database.UserRecord{ID: id, Username: id}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return nil, err
	}
	var stored database.UserRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewInternalError(err)
		}
		return nil, err
	}
	author := toAuthor(stored)
	return &author, nil
}

func toAuthor(rec database.UserRecord) models.Author {
	return models.Author{ID: rec.ID, Username: rec.Username, Avatar: rec.Avatar}
}
