package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"discussify/internal/api"
	"discussify/internal/live"
	"discussify/internal/models"
	"discussify/internal/session"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptyBackend struct{}

func (emptyBackend) ListCommunityPosts(context.Context, string) ([]models.Post, error) {
	return []models.Post{}, nil
}

func (emptyBackend) CreatePost(context.Context, api.CreatePostInput) (models.Post, error) {
	return models.Post{}, models.NewValidationError("read only")
}

func (emptyBackend) ToggleVote(context.Context, string) (models.Post, error) {
	return models.Post{}, models.NewValidationError("read only")
}

func (emptyBackend) CreateComment(context.Context, string, string) (models.Comment, error) {
	return models.Comment{}, models.NewValidationError("read only")
}

func TestWatcher_FollowEndsWithClosedView(t *testing.T) {
	ch := live.NewMemoryChannel()
	sess := session.New(emptyBackend{}, ch, session.WithLogger(slogt.New(t)))
	defer func() { _ = sess.Close() }()

	v, err := sess.Open(context.Background(), "c1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return v.State() == session.StateReady }, 2*time.Second, 5*time.Millisecond)
	v.Close()

	var buf bytes.Buffer
	w := &watcher{sess: sess, out: renderer{w: &buf, format: "text"}}
	finished := make(chan struct{})
	go func() {
		w.follow(v)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("follow kept running after the view closed")
	}

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		assert.False(t, strings.HasPrefix(line, "! :"), "zero notice rendered")
		if strings.HasPrefix(line, "==") {
			assert.True(t, strings.HasPrefix(line, "== c1 "), "unexpected header %q", line)
		}
	}
	assert.NotContains(t, buf.String(), "generation 0")
}
