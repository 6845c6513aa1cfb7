package repository

import (
	"context"
	"time"

	"discussify/internal/database"
	"discussify/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	// Create stores comment and increments the comment count of its post.
	Create(ctx context.Context, comment *models.Comment) error
	ListByPost(ctx context.Context, postID string) ([]*models.Comment, error)
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) (err error) {
	ctx, span := startSpan(ctx, r.db, "Create", "comments")
	defer func() { err = endSpan(span, err) }()

	if comment.Author.ID == "" || comment.PostID == "" {
		return models.NewValidationError("author and post are required")
	}
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post database.PostRecord
		if err := tx.Select("id").Where("id = ?", comment.PostID).First(&post).Error; err != nil {
			return notFound(err, "Post", comment.PostID)
		}
		rec := database.CommentRecord{
			ID:        comment.ID,
			PostID:    comment.PostID,
			AuthorID:  comment.Author.ID,
			Content:   comment.Content,
			CreatedAt: comment.CreatedAt,
		}
		if err := tx.Omit(clause.Associations).Create(&rec).Error; err != nil {
			return err
		}
		return tx.Model(&database.PostRecord{}).
			Where("id = ?", comment.PostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + ?", 1)).Error
	})
}

func (r *commentRepository) ListByPost(ctx context.Context, postID string) (_ []*models.Comment, err error) {
	ctx, span := startSpan(ctx, r.db, "ListByPost", "comments")
	defer func() { err = endSpan(span, err) }()

	var recs []database.CommentRecord
	err = r.db.WithContext(ctx).
		Preload("Author").
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	comments := make([]*models.Comment, 0, len(recs))
	for _, rec := range recs {
		author := toAuthor(rec.Author)
		if author.ID == "" {
			author.ID = rec.AuthorID
		}
		comments = append(comments, &models.Comment{
			ID:        rec.ID,
			PostID:    rec.PostID,
			Author:    author,
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt.UTC(),
		})
	}
	return comments, nil
}
