// Package seed fills the development database with generated communities,
// users, posts, votes and comments. It is intended for development and
// testing only.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"discussify/internal/models"
	"discussify/internal/observability"
	"discussify/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
)

// DefaultCommunityID is the ID given to the first generated community.
const DefaultCommunityID = "general"

// Options configuration for the seeder
type Options struct {
	Users             int
	Communities       int
	PostsPerCommunity int
	// MaxComments bounds the comments generated per post.
	MaxComments int
	// MaxDays spreads post creation times over this many past days.
	MaxDays int
	// Seed makes the generated content reproducible when non-zero.
	Seed int64
}

// Summary counts what a run created.
type Summary struct {
	Users        int
	Communities  int
	Posts        int
	Votes        int
	Comments     int
	CommunityIDs []string
	UserIDs      []string
}

// Seeder builds domain entities and persists them through the repositories.
type Seeder struct {
	users       repository.UserRepository
	communities repository.CommunityRepository
	posts       repository.PostRepository
	comments    repository.CommentRepository
	opts        Options
	faker       *gofakeit.Faker
	now         func() time.Time
}

// New creates a Seeder. Zero options fall back to a small data set.
func New(users repository.UserRepository, communities repository.CommunityRepository, posts repository.PostRepository, comments repository.CommentRepository, opts Options) *Seeder {
	if opts.Users <= 0 {
		opts.Users = 8
	}
	if opts.Communities <= 0 {
		opts.Communities = 3
	}
	if opts.PostsPerCommunity < 0 {
		opts.PostsPerCommunity = 0
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeder{
		users:       users,
		communities: communities,
		posts:       posts,
		comments:    comments,
		opts:        opts,
		faker:       gofakeit.New(seed),
		now:         time.Now,
	}
}

// Run generates the data set.
func (s *Seeder) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	log := observability.GlobalLogger

	for i := 0; i < s.opts.Users; i++ {
		user := models.Author{
			ID:       fmt.Sprintf("user-%d", i+1),
			Username: strings.ToLower(s.faker.Username()),
			Avatar:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", s.faker.UUID()),
		}
		if _, err := s.users.GetByID(ctx, user.ID); err == nil {
			sum.UserIDs = append(sum.UserIDs, user.ID)
			continue
		}
		if err := s.users.Create(ctx, &user); err != nil {
			return sum, fmt.Errorf("create user: %w", err)
		}
		sum.Users++
		sum.UserIDs = append(sum.UserIDs, user.ID)
	}

	for i := 0; i < s.opts.Communities; i++ {
		community := models.Community{
			Name:        s.faker.Hobby(),
			Description: s.faker.Sentence(12),
		}
		if i == 0 {
			community.ID = DefaultCommunityID
			community.Name = "General"
			if _, err := s.communities.GetByID(ctx, community.ID); err == nil {
				sum.CommunityIDs = append(sum.CommunityIDs, community.ID)
				continue
			}
		}
		if err := s.communities.Create(ctx, &community); err != nil {
			return sum, fmt.Errorf("create community: %w", err)
		}
		sum.Communities++
		sum.CommunityIDs = append(sum.CommunityIDs, community.ID)
	}

	for _, communityID := range sum.CommunityIDs {
		for j := 0; j < s.opts.PostsPerCommunity; j++ {
			if err := s.seedPost(ctx, communityID, sum.UserIDs, &sum); err != nil {
				return sum, err
			}
		}
	}

	log.Info("Seeding completed",
		"users", sum.Users,
		"communities", sum.Communities,
		"posts", sum.Posts,
		"votes", sum.Votes,
		"comments", sum.Comments,
	)
	return sum, nil
}

func (s *Seeder) seedPost(ctx context.Context, communityID string, userIDs []string, sum *Summary) error {
	author := userIDs[s.faker.Number(0, len(userIDs)-1)]
	content := s.faker.Paragraph(1, 3, 12, "\n")
	post := &models.Post{
		CommunityID: communityID,
		Author:      models.Author{ID: author},
		Title:       strings.TrimSuffix(s.faker.Sentence(6), "."),
		Content:     content,
		Type:        models.PostTypeText,
		CreatedAt:   s.createdAt(),
	}
	if s.faker.Number(0, 4) == 0 {
		post.Type = models.PostTypeImage
		post.Images = []string{fmt.Sprintf("https://picsum.photos/seed/%s/800/600", s.faker.UUID())}
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	sum.Posts++

	voters := indexes(len(userIDs))
	s.faker.ShuffleInts(voters)
	for _, idx := range voters[:s.faker.Number(0, len(voters))] {
		if _, err := s.posts.ToggleVote(ctx, post.ID, userIDs[idx]); err != nil {
			return fmt.Errorf("vote: %w", err)
		}
		sum.Votes++
	}

	if s.opts.MaxComments > 0 {
		for k := s.faker.Number(0, s.opts.MaxComments); k > 0; k-- {
			comment := &models.Comment{
				PostID:  post.ID,
				Author:  models.Author{ID: userIDs[s.faker.Number(0, len(userIDs)-1)]},
				Content: s.faker.Sentence(s.faker.Number(3, 15)),
			}
			if err := s.comments.Create(ctx, comment); err != nil {
				return fmt.Errorf("create comment: %w", err)
			}
			sum.Comments++
		}
	}
	return nil
}

func (s *Seeder) createdAt() time.Time {
	back := time.Duration(s.faker.Number(0, s.opts.MaxDays*24*60)) * time.Minute
	return s.now().UTC().Add(-back).Truncate(time.Second)
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
