package repository

import (
	"context"

	"discussify/internal/database"
	"discussify/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CommunityRepository defines the interface for community operations
type CommunityRepository interface {
	Create(ctx context.Context, community *models.Community) error
	GetByID(ctx context.Context, id string) (*models.Community, error)
	List(ctx context.Context) ([]*models.Community, error)
}

type communityRepository struct {
	db *gorm.DB
}

// NewCommunityRepository creates a new community repository
func NewCommunityRepository(db *gorm.DB) CommunityRepository {
	return &communityRepository{db: db}
}

func (r *communityRepository) Create(ctx context.Context, community *models.Community) (err error) {
	ctx, span := startSpan(ctx, r.db, "Create", "communities")
	defer func() { err = endSpan(span, err) }()

	if community.ID == "" {
		community.ID = uuid.NewString()
	}
	rec := database.CommunityRecord{
		ID:          community.ID,
		Name:        community.Name,
		Description: community.Description,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *communityRepository) GetByID(ctx context.Context, id string) (_ *models.Community, err error) {
	ctx, span := startSpan(ctx, r.db, "GetByID", "communities")
	defer func() { err = endSpan(span, err) }()

	var rec database.CommunityRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, notFound(err, "Community", id)
	}
	community := toCommunity(rec)
	return &community, nil
}

func (r *communityRepository) List(ctx context.Context) (_ []*models.Community, err error) {
	ctx, span := startSpan(ctx, r.db, "List", "communities")
	defer func() { err = endSpan(span, err) }()

	var recs []database.CommunityRecord
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Community, 0, len(recs))
	for _, rec := range recs {
		community := toCommunity(rec)
		out = append(out, &community)
	}
	return out, nil
}

func toCommunity(rec database.CommunityRecord) models.Community {
	return models.Community{ID: rec.ID, Name: rec.Name, Description: rec.Description}
}
