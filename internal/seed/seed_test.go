package seed

import (
	"context"
	"testing"

	"discussify/internal/repository"
	"discussify/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeeder_Run(t *testing.T) {
	db := testutil.OpenDB(t)
	users := repository.NewUserRepository(db)
	communities := repository.NewCommunityRepository(db)
	posts := repository.NewPostRepository(db)
	comments := repository.NewCommentRepository(db)
	ctx := context.Background()

	s := New(users, communities, posts, comments, Options{
		Users:             4,
		Communities:       2,
		PostsPerCommunity: 5,
		MaxComments:       2,
		Seed:              42,
	})
	sum, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Users)
	assert.Equal(t, 2, sum.Communities)
	assert.Equal(t, 10, sum.Posts)
	assert.Equal(t, DefaultCommunityID, sum.CommunityIDs[0])

	general, err := posts.ListByCommunity(ctx, DefaultCommunityID, 0)
	require.NoError(t, err)
	require.Len(t, general, 5)
	for i := 1; i < len(general); i++ {
		assert.False(t, general[i].CreatedAt.After(general[i-1].CreatedAt), "newest first")
	}

	votes, commentCount := 0, 0
	for _, id := range sum.CommunityIDs {
		list, err := posts.ListByCommunity(ctx, id, 0)
		require.NoError(t, err)
		for _, p := range list {
			votes += p.VoteCount
			commentCount += p.CommentCount
			assert.LessOrEqual(t, p.VoteCount, 4)
		}
	}
	assert.Equal(t, sum.Votes, votes)
	assert.Equal(t, sum.Comments, commentCount)
}

func TestSeeder_RunTwiceReusesFixedRows(t *testing.T) {
	db := testutil.OpenDB(t)
	s := New(repository.NewUserRepository(db), repository.NewCommunityRepository(db),
		repository.NewPostRepository(db), repository.NewCommentRepository(db),
		Options{Users: 2, Communities: 1, PostsPerCommunity: 1, Seed: 7})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, sum.Users)
	assert.Zero(t, sum.Communities)
	assert.Equal(t, 1, sum.Posts)
}
