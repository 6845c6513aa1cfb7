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

// DefaultPageSize bounds ListByCommunity when no positive limit is given.
const DefaultPageSize = 50

// PostRepository defines the interface for post data operations
type PostRepository interface {
	// Create stores post and fills in its generated fields.
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	// ListByCommunity returns the newest posts of a community first.
	ListByCommunity(ctx context.Context, communityID string, limit int) ([]*models.Post, error)
	// ToggleVote adds userID's upvote, or removes it if present, and returns
	// the post as stored afterwards.
	ToggleVote(ctx context.Context, postID, userID string) (*models.Post, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) (err error) {
	ctx, span := startSpan(ctx, r.db, "Create", "posts")
	defer func() { err = endSpan(span, err) }()

	if post.Author.ID == "" || post.CommunityID == "" {
		return models.NewValidationError("author and community are required")
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	if post.Type == "" {
		post.Type = models.PostTypeText
	}

	rec := database.PostRecord{
		ID:          post.ID,
		CommunityID: post.CommunityID,
		AuthorID:    post.Author.ID,
		Title:       post.Title,
		Content:     post.Content,
		Type:        post.Type,
		Images:      post.Images,
		CreatedAt:   post.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&rec).Error; err != nil {
		return err
	}

	stored, err := r.load(ctx, post.ID)
	if err != nil {
		return err
	}
	*post = *stored
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (_ *models.Post, err error) {
	ctx, span := startSpan(ctx, r.db, "GetByID", "posts")
	defer func() { err = endSpan(span, err) }()

	return r.load(ctx, id)
}

func (r *postRepository) ListByCommunity(ctx context.Context, communityID string, limit int) (_ []*models.Post, err error) {
	ctx, span := startSpan(ctx, r.db, "ListByCommunity", "posts")
	defer func() { err = endSpan(span, err) }()

	if limit <= 0 {
		limit = DefaultPageSize
	}
	var recs []database.PostRecord
	err = r.withDetails(r.db.WithContext(ctx)).
		Where("community_id = ?", communityID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	posts := make([]*models.Post, 0, len(recs))
	for _, rec := range recs {
		post := toPost(rec)
		posts = append(posts, &post)
	}
	return posts, nil
}

func (r *postRepository) ToggleVote(ctx context.Context, postID, userID string) (_ *models.Post, err error) {
	ctx, span := startSpan(ctx, r.db, "ToggleVote", "votes")
	defer func() { err = endSpan(span, err) }()

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec database.PostRecord
		if err := tx.Select("id").Where("id = ?", postID).First(&rec).Error; err != nil {
			return notFound(err, "Post", postID)
		}
		res := tx.Where("post_id = ? AND user_id = ?", postID, userID).Delete(&database.VoteRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&database.VoteRecord{PostID: postID, UserID: userID, CreatedAt: time.Now().UTC()}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.load(ctx, postID)
}

func (r *postRepository) load(ctx context.Context, id string) (*models.Post, error) {
	var rec database.PostRecord
	if err := r.withDetails(r.db.WithContext(ctx)).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, notFound(err, "Post", id)
	}
	post := toPost(rec)
	return &post, nil
}

func (r *postRepository) withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Author").
		Preload("Votes", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("user_id ASC")
		})
}

func toPost(rec database.PostRecord) models.Post {
	author := toAuthor(rec.Author)
	if author.ID == "" {
		author.ID = rec.AuthorID
	}
	upvotes := make([]string, 0, len(rec.Votes))
	for _, v := range rec.Votes {
		upvotes = append(upvotes, v.UserID)
	}
	return models.Post{
		ID:           rec.ID,
		CommunityID:  rec.CommunityID,
		Author:       author,
		Title:        rec.Title,
		Content:      rec.Content,
		Type:         rec.Type,
		Images:       rec.Images,
		CreatedAt:    rec.CreatedAt.UTC(),
		VoteCount:    len(upvotes),
		Upvotes:      upvotes,
		CommentCount: rec.CommentCount,
	}
}
