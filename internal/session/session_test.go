package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"discussify/internal/api"
	"discussify/internal/feed"
	"discussify/internal/live"
	"discussify/internal/models"
	"discussify/internal/observability"
	"discussify/internal/preview"
	"discussify/internal/testutil"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type stubBackend struct {
	mu        sync.Mutex
	listFn    func(ctx context.Context, communityID string) ([]models.Post, error)
	createFn  func(ctx context.Context, in api.CreatePostInput) (models.Post, error)
	voteFn    func(ctx context.Context, postID string) (models.Post, error)
	commentFn func(ctx context.Context, postID, content string) (models.Comment, error)
	created   []api.CreatePostInput
}

func (s *stubBackend) ListCommunityPosts(ctx context.Context, communityID string) ([]models.Post, error) {
	if s.listFn == nil {
		return []models.Post{}, nil
	}
	return s.listFn(ctx, communityID)
}

func (s *stubBackend) CreatePost(ctx context.Context, in api.CreatePostInput) (models.Post, error) {
	s.mu.Lock()
	s.created = append(s.created, in)
	s.mu.Unlock()
	return s.createFn(ctx, in)
}

func (s *stubBackend) ToggleVote(ctx context.Context, postID string) (models.Post, error) {
	return s.voteFn(ctx, postID)
}

func (s *stubBackend) CreateComment(ctx context.Context, postID, content string) (models.Comment, error) {
	return s.commentFn(ctx, postID, content)
}

func (s *stubBackend) lastCreated() api.CreatePostInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created[len(s.created)-1]
}

func history(posts ...models.Post) func(context.Context, string) ([]models.Post, error) {
	return func(context.Context, string) ([]models.Post, error) {
		return testutil.NewestFirst(posts...), nil
	}
}

// lockedBuffer collects log output written from the event loop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newSession(t *testing.T, backend Backend, opts ...Option) (*Session, *live.MemoryChannel) {
	t.Helper()
	ch := live.NewMemoryChannel()
	opts = append([]Option{
		WithLogger(slogt.New(t)),
		WithUser(models.Author{ID: "me", Username: "me"}),
		WithRequestTimeout(time.Second),
	}, opts...)
	s := New(backend, ch, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, ch
}

func openReady(t *testing.T, s *Session, communityID string) *View {
	t.Helper()
	v, err := s.Open(context.Background(), communityID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return v.State() == StateReady }, waitFor, tick)
	return v
}

func keys(t *testing.T, v *View) []string {
	t.Helper()
	snap, err := v.Snapshot()
	require.NoError(t, err)
	return snap.Keys()
}

func entry(t *testing.T, v *View, key string) feed.Entry {
	t.Helper()
	snap, err := v.Snapshot()
	require.NoError(t, err)
	for _, e := range snap.Entries {
		if e.Key == key {
			return e
		}
	}
	t.Fatalf("entry %s not in feed %v", key, snap.Keys())
	return feed.Entry{}
}

func nextNotice(t *testing.T, v *View) Notice {
	t.Helper()
	select {
	case n := <-v.Notices():
		return n
	case <-time.After(waitFor):
		t.Fatal("no notice")
		return Notice{}
	}
}

func TestOpen_LoadsHistoryOldestFirst(t *testing.T) {
	s, _ := newSession(t, &stubBackend{listFn: history(testutil.Post("p1", 1), testutil.Post("p2", 2))})

	v := openReady(t, s, "c1")

	assert.Equal(t, []string{"p1", "p2"}, keys(t, v))
	assert.Equal(t, "c1", v.CommunityID())
	assert.Equal(t, uint64(1), v.Generation())
	assert.Same(t, v, s.Current())

	var last feed.Snapshot
	require.Eventually(t, func() bool {
		select {
		case last = <-v.Snapshots():
		default:
		}
		return last.Loaded
	}, waitFor, tick)
	assert.Equal(t, []string{"p1", "p2"}, last.Keys())
}

func TestOpen_KeepsLiveEventsThatBeatHistory(t *testing.T) {
	gate := make(chan struct{})
	s, ch := newSession(t, &stubBackend{listFn: func(ctx context.Context, _ string) ([]models.Post, error) {
		<-gate
		return testutil.NewestFirst(testutil.Post("p1", 1), testutil.Post("p2", 2)), nil
	}})

	v, err := s.Open(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, StateLoading, v.State())

	require.Equal(t, 1, ch.Publish(live.Event{Kind: live.PostCreated, Post: testutil.Post("p3", 3)}))
	require.Equal(t, 1, ch.Publish(live.Event{Kind: live.PostCreated, Post: testutil.Post("p2", 2)}))
	require.Eventually(t, func() bool { return len(keys(t, v)) == 2 }, waitFor, tick)

	close(gate)
	require.Eventually(t, func() bool { return v.State() == StateReady }, waitFor, tick)
	assert.Equal(t, []string{"p1", "p2", "p3"}, keys(t, v))
}

func TestOpen_Validation(t *testing.T) {
	s, _ := newSession(t, &stubBackend{})

	_, err := s.Open(context.Background(), "")
	assert.True(t, models.HasCode(err, models.CodeValidation))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Open(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSubmit_ConfirmReplacesPendingInPlace(t *testing.T) {
	gate := make(chan struct{})
	backend := &stubBackend{
		listFn: history(testutil.Post("P1", 1), testutil.Post("P2", 2)),
		createFn: func(ctx context.Context, in api.CreatePostInput) (models.Post, error) {
			<-gate
			p := testutil.Post("P3", 3)
			p.Content = in.Content
			return p, nil
		},
	}
	s, ch := newSession(t, backend)
	v := openReady(t, s, "c1")

	tempID, err := v.Submit("  hello world  ", nil)
	require.NoError(t, err)
	assert.True(t, feed.IsTemporary(tempID))
	assert.Equal(t, []string{"P1", "P2", tempID}, keys(t, v))
	pending := entry(t, v, tempID)
	assert.Equal(t, feed.StatePending, pending.State)
	assert.Equal(t, "hello world", pending.Post.Content)
	assert.Equal(t, "me", pending.Post.Author.ID)

	close(gate)
	require.Eventually(t, func() bool { return keys(t, v)[2] == "P3" }, waitFor, tick)
	assert.Equal(t, []string{"P1", "P2", "P3"}, keys(t, v))
	assert.Equal(t, "c1", backend.lastCreated().CommunityID)

	updated := testutil.Post("P1", 1)
	updated.VoteCount = 3
	ch.Publish(live.Event{Kind: live.PostUpdated, Post: updated})
	require.Eventually(t, func() bool { return entry(t, v, "P1").Post.VoteCount == 3 }, waitFor, tick)
	assert.Equal(t, []string{"P1", "P2", "P3"}, keys(t, v))
}

func TestSubmit_LiveEventWinsRace(t *testing.T) {
	gate := make(chan struct{})
	s, ch := newSession(t, &stubBackend{
		listFn: history(testutil.Post("p1", 1)),
		createFn: func(ctx context.Context, _ api.CreatePostInput) (models.Post, error) {
			<-gate
			return testutil.Post("p2", 2), nil
		},
	})
	v := openReady(t, s, "c1")

	tempID, err := v.Submit("mine", nil)
	require.NoError(t, err)
	ch.Publish(live.Event{Kind: live.PostCreated, Post: testutil.Post("p2", 2)})
	require.Eventually(t, func() bool { return len(keys(t, v)) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"p1", tempID, "p2"}, keys(t, v))

	close(gate)
	require.Eventually(t, func() bool { return len(keys(t, v)) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"p1", "p2"}, keys(t, v))
}

func TestSubmit_FailureRollsBackAndNotifies(t *testing.T) {
	s, _ := newSession(t, &stubBackend{
		listFn: history(testutil.Post("p1", 1)),
		createFn: func(context.Context, api.CreatePostInput) (models.Post, error) {
			return models.Post{}, models.NewValidationError("Content is too long")
		},
	})
	v := openReady(t, s, "c1")

	tempID, err := v.Submit("doomed", nil)
	require.NoError(t, err)

	n := nextNotice(t, v)
	assert.Equal(t, NoticeError, n.Level)
	assert.Equal(t, tempID, n.Key)
	assert.Equal(t, "Content is too long", n.Message)
	assert.Equal(t, []string{"p1"}, keys(t, v))
}

func TestSubmit_NetworkFailureUsesGenericMessage(t *testing.T) {
	s, _ := newSession(t, &stubBackend{
		createFn: func(context.Context, api.CreatePostInput) (models.Post, error) {
			return models.Post{}, models.NewNetworkError("create_post", errors.New("connection refused"))
		},
	})
	v := openReady(t, s, "c1")

	_, err := v.Submit("x", nil)
	require.NoError(t, err)

	n := nextNotice(t, v)
	assert.Equal(t, "Failed to create post.", n.Message)
	assert.Empty(t, keys(t, v))
}

func TestSubmit_ValidationAndTitle(t *testing.T) {
	backend := &stubBackend{
		createFn: func(context.Context, api.CreatePostInput) (models.Post, error) {
			return testutil.Post("p1", 1), nil
		},
	}
	s, _ := newSession(t, backend)
	v := openReady(t, s, "c1")

	_, err := v.Submit("   ", nil)
	assert.ErrorIs(t, err, ErrEmptySubmission)

	content := strings.Repeat("ü", 60)
	_, err = v.Submit(content, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(keys(t, v)) == 1 && keys(t, v)[0] == "p1" }, waitFor, tick)

	in := backend.lastCreated()
	assert.Equal(t, strings.Repeat("ü", 50), in.Title)
	assert.Equal(t, content, in.Content)
}

func TestSubmit_PreviewsReleasedOnConfirmAndFailure(t *testing.T) {
	store, err := preview.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var fail atomic.Bool
	backend := &stubBackend{
		createFn: func(_ context.Context, in api.CreatePostInput) (models.Post, error) {
			if fail.Load() {
				return models.Post{}, errors.New("boom")
			}
			p := testutil.Post("p1", 1)
			p.Images = []string{"https://cdn.example/p1.webp"}
			return p, nil
		},
	}
	s, _ := newSession(t, backend, WithPreviews(store))
	v := openReady(t, s, "c1")

	draft, err := s.NewDraft()
	require.NoError(t, err)
	_, err = draft.Add("a.png", testutil.TinyPNG(t, 40, 40))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Outstanding())

	_, err = v.Submit("", draft)
	require.NoError(t, err)
	assert.Zero(t, draft.Len())
	require.Eventually(t, func() bool { return store.Outstanding() == 0 }, waitFor, tick)
	assert.Len(t, backend.lastCreated().Files, 1)
	assert.Equal(t, []string{"https://cdn.example/p1.webp"}, entry(t, v, "p1").Post.Images)

	fail.Store(true)
	draft = store.NewDraft()
	_, err = draft.Add("b.png", testutil.TinyPNG(t, 40, 40))
	require.NoError(t, err)
	_, err = v.Submit("with image", draft)
	require.NoError(t, err)
	nextNotice(t, v)
	assert.Zero(t, store.Outstanding())
}

func TestToggleVote(t *testing.T) {
	t.Run("confirmed by the backend", func(t *testing.T) {
		gate := make(chan struct{})
		s, _ := newSession(t, &stubBackend{
			listFn: history(testutil.Post("p1", 1)),
			voteFn: func(context.Context, string) (models.Post, error) {
				<-gate
				p := testutil.Post("p1", 1)
				p.VoteCount = 7
				p.Upvotes = []string{"a", "b", "c", "d", "e", "f", "me"}
				return p, nil
			},
		})
		v := openReady(t, s, "c1")

		require.NoError(t, v.ToggleVote("p1"))
		e := entry(t, v, "p1")
		assert.Equal(t, 1, e.Post.VoteCount)
		assert.True(t, e.Post.HasVoted("me"))
		assert.ErrorIs(t, v.ToggleVote("p1"), ErrVotePending)

		close(gate)
		require.Eventually(t, func() bool { return entry(t, v, "p1").Post.VoteCount == 7 }, waitFor, tick)
	})

	t.Run("rolled back on error", func(t *testing.T) {
		voted := testutil.Post("p1", 1)
		voted.VoteCount = 2
		voted.Upvotes = []string{"x", "me"}
		s, _ := newSession(t, &stubBackend{
			listFn: history(voted),
			voteFn: func(context.Context, string) (models.Post, error) {
				return models.Post{}, models.NewNotFoundError("Post", "p1")
			},
		})
		v := openReady(t, s, "c1")

		require.NoError(t, v.ToggleVote("p1"))

		n := nextNotice(t, v)
		assert.Equal(t, NoticeError, n.Level)
		assert.Equal(t, "p1", n.Key)
		e := entry(t, v, "p1")
		assert.Equal(t, 2, e.Post.VoteCount)
		assert.Equal(t, []string{"x", "me"}, e.Post.Upvotes)
	})

	t.Run("rejected without a user or post", func(t *testing.T) {
		s, _ := newSession(t, &stubBackend{listFn: history(testutil.Post("p1", 1))}, WithUser(models.Author{}))
		v := openReady(t, s, "c1")
		assert.True(t, models.HasCode(v.ToggleVote("p1"), models.CodeUnauthorized))

		s2, _ := newSession(t, &stubBackend{})
		v2 := openReady(t, s2, "c1")
		assert.ErrorIs(t, v2.ToggleVote("nope"), ErrUnknownPost)
	})
}

func TestComment(t *testing.T) {
	var fail atomic.Bool
	s, _ := newSession(t, &stubBackend{
		listFn: history(testutil.Post("p1", 1)),
		commentFn: func(_ context.Context, postID, content string) (models.Comment, error) {
			if fail.Load() {
				return models.Comment{}, errors.New("boom")
			}
			return models.Comment{ID: "k1", PostID: postID, Content: content}, nil
		},
	})
	v := openReady(t, s, "c1")

	assert.ErrorIs(t, v.Comment("p1", " "), ErrEmptySubmission)
	assert.ErrorIs(t, v.Comment("nope", "hi"), ErrUnknownPost)

	require.NoError(t, v.Comment("p1", "nice"))
	n := nextNotice(t, v)
	assert.Equal(t, NoticeSuccess, n.Level)
	assert.Equal(t, 1, entry(t, v, "p1").Post.CommentCount)

	fail.Store(true)
	require.NoError(t, v.Comment("p1", "again"))
	n = nextNotice(t, v)
	assert.Equal(t, NoticeError, n.Level)
	assert.Equal(t, "Failed to post reply.", n.Message)
	assert.Equal(t, 1, entry(t, v, "p1").Post.CommentCount)
}

func TestHistoryFailure_UserRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	s, _ := newSession(t, &stubBackend{listFn: func(context.Context, string) ([]models.Post, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, models.NewNetworkError("list_posts", errors.New("timeout"))
		}
		return testutil.NewestFirst(testutil.Post("p1", 1)), nil
	}})

	v, err := s.Open(context.Background(), "c1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return v.State() == StateFailed }, waitFor, tick)

	n := nextNotice(t, v)
	assert.Equal(t, "Failed to load community posts.", n.Message)
	assert.Never(t, func() bool { return v.State() != StateFailed }, 50*time.Millisecond, tick, "retry is user-initiated")

	require.NoError(t, v.Retry())
	require.Eventually(t, func() bool { return v.State() == StateReady }, waitFor, tick)
	assert.Equal(t, []string{"p1"}, keys(t, v))
	assert.ErrorIs(t, v.Retry(), ErrNotFailed)
}

func TestCommunitySwitch_LateResponseIsDropped(t *testing.T) {
	c1Gate := make(chan struct{})
	c1Returned := make(chan struct{})
	c1Post := testutil.Post("c1-late", 1)
	c2Post := testutil.Post("c2-post", 1)
	c2Post.CommunityID = "c2"

	logs := &lockedBuffer{}
	s, ch := newSession(t, &stubBackend{
		listFn: func(ctx context.Context, communityID string) ([]models.Post, error) {
			if communityID == "c1" {
				<-c1Gate
				defer close(c1Returned)
				return []models.Post{c1Post}, nil
			}
			return []models.Post{c2Post}, nil
		},
	}, WithLogger(slog.New(slog.NewJSONHandler(logs, nil))))

	first, err := s.Open(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, ch.Subscribers("c1"))

	second := openReady(t, s, "c2")
	assert.Equal(t, StateClosed, first.State())
	assert.Zero(t, ch.Subscribers("c1"), "previous subscription released")
	assert.Equal(t, 1, ch.Subscribers("c2"))
	assert.Equal(t, uint64(2), s.Generation())

	close(c1Gate)
	<-c1Returned

	assert.Never(t, func() bool {
		return len(keys(t, second)) != 1
	}, 100*time.Millisecond, tick)
	assert.Equal(t, []string{"c2-post"}, keys(t, second))
	require.Eventually(t, func() bool { return strings.Contains(logs.String(), "stale completion dropped") }, waitFor, tick)
	assert.Contains(t, logs.String(), models.NewStaleError("c1").Error())

	_, err = first.Snapshot()
	assert.ErrorIs(t, err, ErrViewClosed)
	_, err = first.Submit("late", nil)
	assert.ErrorIs(t, err, ErrViewClosed)

	ch.Publish(live.Event{Kind: live.PostCreated, Post: c1Post})
	assert.Equal(t, []string{"c2-post"}, keys(t, second))
}

func TestLiveDisconnect_IsReported(t *testing.T) {
	s, ch := newSession(t, &stubBackend{listFn: history(testutil.Post("p1", 1))})
	v := openReady(t, s, "c1")
	assert.NoError(t, v.LiveErr())

	ch.Disconnect()

	n := nextNotice(t, v)
	assert.Equal(t, NoticeError, n.Level)
	assert.ErrorIs(t, n.Err, ErrChannelClosed)
	assert.ErrorIs(t, v.LiveErr(), ErrChannelClosed)
	assert.Equal(t, []string{"p1"}, keys(t, v), "feed stays usable")
}

func TestClose_ReleasesPendingPreviews(t *testing.T) {
	store, err := preview.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s, ch := newSession(t, &stubBackend{
		createFn: func(ctx context.Context, _ api.CreatePostInput) (models.Post, error) {
			<-ctx.Done()
			return models.Post{}, ctx.Err()
		},
	}, WithPreviews(store))
	v := openReady(t, s, "c1")

	draft := store.NewDraft()
	_, err = draft.Add("a.png", testutil.TinyPNG(t, 10, 10))
	require.NoError(t, err)
	_, err = v.Submit("pending forever", draft)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Outstanding())

	v.Close()
	v.Close()

	assert.Zero(t, store.Outstanding())
	assert.Equal(t, StateClosed, v.State())
	assert.Nil(t, s.Current())
	assert.Zero(t, ch.Subscribers("c1"))

	for range v.Snapshots() {
	}
	for range v.Notices() {
	}
	assert.ErrorIs(t, v.ToggleVote("p1"), ErrViewClosed)
}

// droppingChannel behaves like a network connection: once dropped it ends its
// subscriptions and refuses new ones.
type droppingChannel struct {
	*live.MemoryChannel
	done chan struct{}
	once sync.Once
}

func newDroppingChannel() *droppingChannel {
	return &droppingChannel{MemoryChannel: live.NewMemoryChannel(), done: make(chan struct{})}
}

func (c *droppingChannel) Subscribe(ctx context.Context, communityID string) (*live.Subscription, error) {
	select {
	case <-c.done:
		return nil, live.ErrClosed
	default:
		return c.MemoryChannel.Subscribe(ctx, communityID)
	}
}

func (c *droppingChannel) Done() <-chan struct{} { return c.done }

func (c *droppingChannel) drop() {
	c.once.Do(func() { close(c.done) })
	c.Disconnect()
}

func TestReopen_RedialsDroppedChannel(t *testing.T) {
	var mu sync.Mutex
	var dialed []*droppingChannel
	dial := func(context.Context) (live.Channel, error) {
		mu.Lock()
		defer mu.Unlock()
		ch := newDroppingChannel()
		dialed = append(dialed, ch)
		return ch, nil
	}
	channel := func(i int) *droppingChannel {
		mu.Lock()
		defer mu.Unlock()
		return dialed[i]
	}

	s := New(&stubBackend{listFn: history(testutil.Post("p1", 1))}, nil,
		WithLogger(slogt.New(t)),
		WithDialer(dial),
	)
	t.Cleanup(func() { _ = s.Close() })

	v := openReady(t, s, "c1")
	channel(0).drop()

	n := nextNotice(t, v)
	assert.ErrorIs(t, n.Err, ErrChannelClosed)
	assert.Contains(t, n.Message, "Reopen the community")

	v2 := openReady(t, s, "c1")
	mu.Lock()
	require.Len(t, dialed, 2)
	mu.Unlock()
	require.Eventually(t, func() bool { return channel(1).Subscribers("c1") == 1 }, waitFor, tick)

	channel(1).Publish(live.Event{Kind: live.PostCreated, Post: testutil.Post("p2", 2)})
	require.Eventually(t, func() bool { return len(keys(t, v2)) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"p1", "p2"}, keys(t, v2))
	assert.NoError(t, v2.LiveErr())
}

func TestReopen_WithoutDialerKeepsChannelDown(t *testing.T) {
	ch := newDroppingChannel()
	s := New(&stubBackend{listFn: history(testutil.Post("p1", 1))}, ch, WithLogger(slogt.New(t)))
	t.Cleanup(func() { _ = s.Close() })

	v := openReady(t, s, "c1")
	ch.drop()

	n := nextNotice(t, v)
	assert.Equal(t, "Live updates stopped.", n.Message)

	_, err := s.Open(context.Background(), "c1")
	assert.ErrorIs(t, err, live.ErrClosed)
}

func TestReopen_DialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	s := New(&stubBackend{}, nil,
		WithLogger(slogt.New(t)),
		WithDialer(func(context.Context) (live.Channel, error) { return nil, dialErr }),
	)
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Open(context.Background(), "c1")
	assert.ErrorIs(t, err, dialErr)
	assert.Nil(t, s.Current())
}

func TestOpen_RecordsFeedSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := observability.Tracer
	observability.Tracer = tp.Tracer("test")
	t.Cleanup(func() {
		observability.Tracer = prev
		_ = tp.Shutdown(context.Background())
	})

	sess, _ := newSession(t, &stubBackend{listFn: history(testutil.Post("p1", 0))})
	openReady(t, sess, "c1")

	_, err := sess.Open(context.Background(), "")
	require.Error(t, err)

	require.Eventually(t, func() bool { return len(rec.Ended()) >= 3 }, waitFor, tick)
	names := map[string][]codes.Code{}
	for _, s := range rec.Ended() {
		if strings.HasPrefix(s.Name(), "feed.") {
			names[s.Name()] = append(names[s.Name()], s.Status().Code)
		}
	}
	assert.Equal(t, []codes.Code{codes.Unset, codes.Error}, names["feed.open"])
	assert.Equal(t, []codes.Code{codes.Unset}, names["feed.history"])
}
