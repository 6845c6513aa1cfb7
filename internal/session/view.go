package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"discussify/internal/api"
	"discussify/internal/feed"
	"discussify/internal/live"
	"discussify/internal/models"
	"discussify/internal/observability"
	"discussify/internal/preview"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

const noticeBuffer = 32

// ViewState is the loading state of a view.
type ViewState int32

const (
	StateLoading ViewState = iota
	StateReady
	StateFailed
	StateClosed
)

func (s ViewState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NoticeLevel is the severity of a transient notification.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient notification for the user.
type Notice struct {
	Level   NoticeLevel
	Message string
	// Key is the feed entry the notice is about, if any.
	Key string
	Err error
}

// View is one mounted community feed. Every feed mutation runs on the view's
// event loop; backend completions re-enter the loop and are dropped once the
// view is closed or replaced.
type View struct {
	session     *Session
	communityID string
	generation  uint64
	feed        *feed.Feed
	sub         *live.Subscription
	logger      *observability.FeedLogger
	traces      *observability.TraceLayer

	ctx    context.Context
	cancel context.CancelFunc

	actions   chan func()
	snapshots chan feed.Snapshot
	notices   chan Notice
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	state atomic.Int32

	mu      sync.Mutex
	liveErr error
}

func newView(s *Session, communityID string, generation uint64, sub *live.Subscription) *View {
	var opts []feed.Option
	if s.previews != nil {
		opts = append(opts, feed.WithReleaser(s.previews))
	}

	ctx, cancel := context.WithCancel(observability.WithCorrelationID(context.Background(), uuid.NewString()))
	v := &View{
		session:     s,
		communityID: communityID,
		generation:  generation,
		feed:        feed.New(communityID, opts...),
		sub:         sub,
		logger:      observability.NewFeedLogger(communityID).WithLogger(s.logger),
		traces:      observability.GetTraceLayer(),
		ctx:         ctx,
		cancel:      cancel,
		actions:     make(chan func()),
		snapshots:   make(chan feed.Snapshot, 1),
		notices:     make(chan Notice, noticeBuffer),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	v.state.Store(int32(StateLoading))
	go v.run()
	return v
}

func (v *View) start() {
	v.logger.LogLifecycle(v.ctx, "opened", map[string]interface{}{"generation": v.generation})
	v.loadHistory()
}

// CommunityID returns the community shown by the view.
func (v *View) CommunityID() string { return v.communityID }

// Generation returns the generation the view was opened with.
func (v *View) Generation() uint64 { return v.generation }

// State returns the current loading state.
func (v *View) State() ViewState { return ViewState(v.state.Load()) }

// Snapshots delivers the latest feed snapshot after every change. Only the
// most recent snapshot is kept for a slow reader. The channel is closed with
// the view.
func (v *View) Snapshots() <-chan feed.Snapshot { return v.snapshots }

// Notices delivers transient notifications. The channel is closed with the view.
func (v *View) Notices() <-chan Notice { return v.notices }

// Done is closed when the view is closed.
func (v *View) Done() <-chan struct{} { return v.done }

// LiveErr returns why live updates stopped, or nil while they flow.
func (v *View) LiveErr() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.liveErr
}

// Snapshot returns the current feed.
func (v *View) Snapshot() (feed.Snapshot, error) {
	var snap feed.Snapshot
	err := v.call(func() error {
		snap = v.feed.Snapshot(v.generation)
		return nil
	})
	return snap, err
}

// Submit appends the post optimistically and sends it to the backend. The
// attachments of draft are taken over by the pending post. The returned key
// addresses the pending entry until the backend confirms it.
func (v *View) Submit(content string, draft *preview.Draft) (string, error) {
	text := strings.TrimSpace(content)
	if text == "" && (draft == nil || draft.Len() == 0) {
		return "", ErrEmptySubmission
	}

	var attachments []preview.Attachment
	if draft != nil {
		attachments = draft.Take()
	}
	refs := lo.Map(attachments, func(a preview.Attachment, _ int) preview.Ref { return a.Ref })
	files := lo.Map(attachments, func(a preview.Attachment, _ int) api.File {
		return api.File{Name: a.Name, Content: a.Content}
	})

	title := models.DeriveTitle(text)
	var entry feed.Entry
	err := v.call(func() error {
		entry = v.feed.SubmitOptimistic(feed.Submission{
			Author:   v.session.user,
			Title:    title,
			Content:  text,
			Previews: refs,
		})
		observability.OptimisticWritesTotal.WithLabelValues("post", "submitted").Inc()
		v.logger.LogApplied(v.ctx, "submit", entry.Key, map[string]interface{}{"attachments": len(refs)})
		v.publish()
		return nil
	})
	if err != nil {
		v.releaseRefs(refs)
		return "", err
	}

	go v.confirmPost(entry.Key, api.CreatePostInput{
		CommunityID: v.communityID,
		Title:       title,
		Content:     text,
		Files:       files,
	})
	return entry.Key, nil
}

// ToggleVote flips the session user's vote on a post ahead of the backend.
func (v *View) ToggleVote(postID string) error {
	userID := v.session.user.ID
	if userID == "" {
		return models.NewUnauthorizedError("a user id is required to vote")
	}

	err := v.call(func() error {
		entry, ok := v.feed.Get(postID)
		if !ok || entry.State != feed.StateConfirmed {
			return ErrUnknownPost
		}
		if v.feed.VotePending(postID) {
			return ErrVotePending
		}
		vote := !entry.Post.HasVoted(userID)
		v.feed.ApplyVoteToggle(postID, userID, vote)
		observability.OptimisticWritesTotal.WithLabelValues("vote", "submitted").Inc()
		v.logger.LogApplied(v.ctx, "vote", postID, map[string]interface{}{"vote": vote})
		v.publish()
		return nil
	})
	if err != nil {
		return err
	}

	go v.confirmVote(postID)
	return nil
}

// Comment adds a comment to a post and bumps its count ahead of the backend.
func (v *View) Comment(postID, content string) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return ErrEmptySubmission
	}

	err := v.call(func() error {
		if v.feed.ApplyCommentAdded(postID) == feed.OutcomeIgnored {
			return ErrUnknownPost
		}
		observability.OptimisticWritesTotal.WithLabelValues("comment", "submitted").Inc()
		v.logger.LogApplied(v.ctx, "comment", postID, nil)
		v.publish()
		return nil
	})
	if err != nil {
		return err
	}

	go v.confirmComment(postID, text)
	return nil
}

// Retry requests history again after it failed.
func (v *View) Retry() error {
	return v.call(func() error {
		if v.State() != StateFailed {
			return ErrNotFailed
		}
		v.loadHistory()
		return nil
	})
}

// Close tears the view down: the subscription is closed, in-flight requests
// are cancelled, and previews of pending posts are released. It returns once
// the event loop has stopped.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.state.Store(int32(StateClosed))
		close(v.done)
		v.cancel()
		_ = v.sub.Close()
		<-v.loopDone
		v.session.release(v)
		v.logger.LogLifecycle(context.Background(), "closed", map[string]interface{}{"generation": v.generation})
	})
}

func (v *View) run() {
	defer close(v.loopDone)
	defer func() {
		v.feed.Discard()
		close(v.snapshots)
		close(v.notices)
	}()

	v.publish()
	events := v.sub.Events()
	subDone := v.sub.Done()
	for {
		select {
		case <-v.done:
			return
		default:
		}

		select {
		case <-v.done:
			return
		case fn := <-v.actions:
			fn()
		case ev := <-events:
			v.applyLive(ev)
		case <-subDone:
			subDone = nil
			v.liveLost()
		}
	}
}

func (v *View) loadHistory() {
	v.setState(StateLoading)
	go func() {
		ctx, cancel := v.requestContext()
		defer cancel()
		ctx, span := v.traces.StartFeedSpan(ctx, "history", v.communityID)
		posts, err := v.session.backend.ListCommunityPosts(ctx, v.communityID)
		span.Annotate(attribute.Int("feed.posts", len(posts)))
		span.Finish(err)

		v.complete("history", func() {
			if err != nil {
				v.setState(StateFailed)
				v.logger.LogError(v.ctx, "history", err)
				v.notify(Notice{Level: NoticeError, Message: models.UserMessage(err, "Failed to load community posts."), Err: err})
				v.publish()
				return
			}
			if err := v.feed.LoadHistory(posts); err != nil {
				v.logger.LogError(v.ctx, "history", err)
				return
			}
			v.setState(StateReady)
			v.logger.LogLifecycle(v.ctx, "history_loaded", map[string]interface{}{"posts": len(posts)})
			v.publish()
		})
	}()
}

func (v *View) confirmPost(tempID string, in api.CreatePostInput) {
	ctx, cancel := v.requestContext()
	defer cancel()
	post, err := v.session.backend.CreatePost(ctx, in)

	v.complete("create_post", func() {
		if err != nil {
			failed, outcome := v.feed.FailOptimistic(tempID, err)
			if outcome == feed.OutcomeIgnored {
				return
			}
			observability.OptimisticWritesTotal.WithLabelValues("post", "rolled_back").Inc()
			v.logger.LogRollback(v.ctx, "create_post", tempID, err)
			v.notify(Notice{Level: NoticeError, Key: tempID, Message: models.UserMessage(err, "Failed to create post."), Err: failed.Err})
			v.publish()
			return
		}

		outcome := v.feed.ConfirmOptimistic(tempID, post)
		if outcome == feed.OutcomeIgnored {
			return
		}
		result := "confirmed"
		if outcome == feed.OutcomeCollapsed {
			result = "collapsed"
		}
		observability.OptimisticWritesTotal.WithLabelValues("post", result).Inc()
		v.logger.LogApplied(v.ctx, "confirm_post", post.ID, map[string]interface{}{"temp_id": tempID, "outcome": outcome.String()})
		v.publish()
	})
}

func (v *View) confirmVote(postID string) {
	ctx, cancel := v.requestContext()
	defer cancel()
	post, err := v.session.backend.ToggleVote(ctx, postID)

	v.complete("toggle_vote", func() {
		if err != nil {
			if v.feed.RollbackVote(postID) == feed.OutcomeIgnored {
				return
			}
			observability.OptimisticWritesTotal.WithLabelValues("vote", "rolled_back").Inc()
			v.logger.LogRollback(v.ctx, "toggle_vote", postID, err)
			v.notify(Notice{Level: NoticeError, Key: postID, Message: models.UserMessage(err, "Failed to toggle vote."), Err: err})
			v.publish()
			return
		}

		if v.feed.ConfirmVote(postID, post) == feed.OutcomeIgnored {
			return
		}
		observability.OptimisticWritesTotal.WithLabelValues("vote", "confirmed").Inc()
		v.publish()
	})
}

func (v *View) confirmComment(postID, content string) {
	ctx, cancel := v.requestContext()
	defer cancel()
	_, err := v.session.backend.CreateComment(ctx, postID, content)

	v.complete("create_comment", func() {
		if err != nil {
			if v.feed.RollbackComment(postID).Changed() {
				v.publish()
			}
			observability.OptimisticWritesTotal.WithLabelValues("comment", "rolled_back").Inc()
			v.logger.LogRollback(v.ctx, "create_comment", postID, err)
			v.notify(Notice{Level: NoticeError, Key: postID, Message: models.UserMessage(err, "Failed to post reply."), Err: err})
			return
		}

		v.feed.ConfirmComment(postID)
		observability.OptimisticWritesTotal.WithLabelValues("comment", "confirmed").Inc()
		v.notify(Notice{Level: NoticeSuccess, Key: postID, Message: "Reply posted successfully!"})
	})
}

func (v *View) applyLive(ev live.Event) {
	_, span := v.traces.TraceLiveEvent(v.ctx, "live", string(ev.Kind), ev.CommunityID)
	defer span.End()

	outcome := v.feed.ApplyLiveEvent(ev)
	observability.LiveEventsTotal.WithLabelValues(string(ev.Kind), outcome.String()).Inc()
	if outcome.Changed() {
		v.logger.LogApplied(v.ctx, string(ev.Kind), ev.Post.ID, map[string]interface{}{"outcome": outcome.String()})
		v.publish()
	}
}

func (v *View) liveLost() {
	cause := v.sub.Err()
	err := fmt.Errorf("%w: %v", ErrChannelClosed, cause)

	v.mu.Lock()
	v.liveErr = err
	v.mu.Unlock()

	v.logger.LogError(v.ctx, "live", err)
	msg := "Live updates stopped."
	if v.session.reconnects() {
		msg += " Reopen the community to catch up."
	}
	v.notify(Notice{Level: NoticeError, Message: msg, Err: err})
}

// call runs fn on the event loop and waits for it.
func (v *View) call(fn func() error) error {
	var err error
	finished := make(chan struct{})
	if !v.post(func() {
		defer close(finished)
		err = fn()
	}) {
		return ErrViewClosed
	}
	select {
	case <-finished:
		return err
	case <-v.loopDone:
		return ErrViewClosed
	}
}

func (v *View) post(fn func()) bool {
	select {
	case <-v.done:
		return false
	default:
	}
	select {
	case v.actions <- fn:
		return true
	case <-v.done:
		return false
	}
}

// complete hands a backend result to the event loop. Results for a closed
// view, or for a view that is no longer the session's newest, are dropped.
func (v *View) complete(operation string, fn func()) {
	posted := v.post(func() {
		if current := v.session.Generation(); current != v.generation {
			v.dropStale(operation, current)
			return
		}
		fn()
	})
	if !posted {
		v.dropStale(operation, v.session.Generation())
	}
}

func (v *View) dropStale(operation string, current uint64) {
	observability.StaleCompletionsTotal.WithLabelValues(operation).Inc()
	v.logger.LogStale(v.ctx, operation, models.NewStaleError(v.communityID), v.generation, current)
}

func (v *View) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(v.ctx, v.session.timeout)
}

func (v *View) setState(s ViewState) {
	for {
		cur := v.state.Load()
		if ViewState(cur) == StateClosed {
			return
		}
		if v.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// publish must run on the event loop.
func (v *View) publish() {
	snap := v.feed.Snapshot(v.generation)
	observability.FeedEntries.Set(float64(len(snap.Entries)))
	select {
	case <-v.snapshots:
	default:
	}
	v.snapshots <- snap
}

// notify must run on the event loop.
func (v *View) notify(n Notice) {
	select {
	case v.notices <- n:
	default:
		v.logger.LogError(v.ctx, "notify", errors.New("notice dropped: "+n.Message))
	}
}

func (v *View) releaseRefs(refs []preview.Ref) {
	if v.session.previews == nil {
		return
	}
	for _, r := range refs {
		_ = v.session.previews.Release(r)
	}
}
