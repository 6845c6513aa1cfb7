// Package session owns the live connection of one application session and the
// view of the community currently open in it.
//
// A Session hands out at most one active View. Opening another community
// closes the previous view, and completions that still arrive for it are
// dropped by the generation guard.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"discussify/internal/api"
	"discussify/internal/live"
	"discussify/internal/models"
	"discussify/internal/observability"
	"discussify/internal/preview"

	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrSessionClosed is returned by Open after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrViewClosed is returned by operations on a closed view.
	ErrViewClosed = errors.New("view closed")
	// ErrChannelClosed is reported when the live channel of an open view ends.
	ErrChannelClosed = errors.New("live channel closed")
	// ErrEmptySubmission rejects posts and comments without content.
	ErrEmptySubmission = errors.New("nothing to submit")
	// ErrUnknownPost is returned for votes and comments on posts not in the feed.
	ErrUnknownPost = errors.New("post is not in the feed")
	// ErrVotePending is returned while an earlier vote on the same post awaits the server.
	ErrVotePending = errors.New("vote already in flight")
	// ErrNotFailed is returned by Retry when history did not fail.
	ErrNotFailed = errors.New("history has not failed")
)

const defaultRequestTimeout = 15 * time.Second

// Backend is the REST collaborator used by views.
type Backend interface {
	ListCommunityPosts(ctx context.Context, communityID string) ([]models.Post, error)
	CreatePost(ctx context.Context, in api.CreatePostInput) (models.Post, error)
	ToggleVote(ctx context.Context, postID string) (models.Post, error)
	CreateComment(ctx context.Context, postID, content string) (models.Comment, error)
}

// Dialer opens a new live channel.
type Dialer func(ctx context.Context) (live.Channel, error)

// Session ties the backend, the live channel and the preview store together.
type Session struct {
	backend  Backend
	dial     Dialer
	previews *preview.Store
	user     models.Author
	timeout  time.Duration
	logger   *slog.Logger

	// dialMu serializes reconnects.
	dialMu sync.Mutex

	mu         sync.Mutex
	channel    live.Channel
	generation uint64
	current    *View
	closed     bool
}

// Option configures a Session.
type Option func(*Session)

// WithUser sets the identity used for optimistic posts and votes.
func WithUser(user models.Author) Option {
	return func(s *Session) { s.user = user }
}

// WithRequestTimeout bounds every backend call made by views.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger replaces the global logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithDialer lets Open replace a channel whose connection has gone away.
// Without a dialer a dropped connection stays dropped.
func WithDialer(dial Dialer) Option {
	return func(s *Session) { s.dial = dial }
}

// WithPreviews sets the store whose previews pending posts release.
func WithPreviews(store *preview.Store) Option {
	return func(s *Session) { s.previews = store }
}

// New creates a session. The session takes ownership of channel, which may be
// nil when a dialer is configured: the first Open dials then.
func New(backend Backend, channel live.Channel, opts ...Option) *Session {
	s := &Session{
		backend: backend,
		channel: channel,
		timeout: defaultRequestTimeout,
		logger:  observability.GlobalLogger.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// User returns the session identity.
func (s *Session) User() models.Author { return s.user }

// NewDraft starts a draft whose attachments are kept in the session's
// preview store.
func (s *Session) NewDraft() (*preview.Draft, error) {
	if s.previews == nil {
		return nil, errors.New("session has no preview store")
	}
	return s.previews.NewDraft(), nil
}

// Generation returns the generation of the most recently opened view.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Current returns the active view, or nil.
func (s *Session) Current() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Open closes the active view and opens communityID. The live subscription is
// established before history is requested, so nothing published in between is
// missed; history arrives asynchronously.
func (s *Session) Open(ctx context.Context, communityID string) (*View, error) {
	ctx, span := observability.GetTraceLayer().StartFeedSpan(ctx, "open", communityID)
	v, err := s.open(ctx, communityID)
	if v != nil {
		span.Annotate(attribute.Int64("feed.generation", int64(v.Generation())))
	}
	span.Finish(err)
	return v, err
}

func (s *Session) open(ctx context.Context, communityID string) (*View, error) {
	if communityID == "" {
		return nil, models.NewValidationError("community id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.generation++
	gen := s.generation
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	ch, err := s.liveChannel(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := ch.Subscribe(ctx, communityID)
	if err != nil {
		return nil, err
	}

	v := newView(s, communityID, gen, sub)

	s.mu.Lock()
	if s.closed || s.generation != gen {
		// another Open or Close won the race
		s.mu.Unlock()
		v.Close()
		if s.closed {
			return nil, ErrSessionClosed
		}
		return nil, ErrViewClosed
	}
	s.current = v
	s.mu.Unlock()

	v.start()
	return v, nil
}

// Close closes the active view and the live channel.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.generation++
	cur := s.current
	s.current = nil
	ch := s.channel
	s.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// liveChannel returns the session channel, dialing a new one when the
// connection of the current one is gone.
func (s *Session) liveChannel(ctx context.Context) (live.Channel, error) {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.mu.Lock()
	old := s.channel
	s.mu.Unlock()
	if !connectionGone(old) {
		return old, nil
	}
	if s.dial == nil {
		if old == nil {
			return nil, ErrChannelClosed
		}
		return old, nil
	}

	fresh, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconnect live channel: %w", err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = fresh.Close()
		return nil, ErrSessionClosed
	}
	s.channel = fresh
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	s.logger.InfoContext(ctx, "live channel reconnected")
	return fresh, nil
}

// connectionGone reports whether ch is missing or exposes a Done channel that
// has been closed.
func connectionGone(ch live.Channel) bool {
	if ch == nil {
		return true
	}
	conn, ok := ch.(interface{ Done() <-chan struct{} })
	if !ok {
		return false
	}
	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}

// reconnects reports whether a dropped channel is replaced on the next Open.
func (s *Session) reconnects() bool { return s.dial != nil }

func (s *Session) release(v *View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == v {
		s.current = nil
	}
}
