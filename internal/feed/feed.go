// Package feed reconciles the post list of one open community.
//
// A Feed merges three sources into one ordered, duplicate-free sequence:
// the history page fetched from the backend, live events from the push
// channel, and the local user's optimistic writes. The Feed is owned by a
// single view and is not safe for concurrent use; the owner serialises every
// call.
//
// Ordering rules:
//   - history is displayed oldest first;
//   - live "created" events and local submissions are appended in arrival order,
//     never by embedded timestamp;
//   - no operation moves an entry relative to another one, except that a pending
//     entry may be dropped when its confirmed post is already on screen.
package feed

import (
	"errors"
	"slices"
	"strings"
	"time"

	"discussify/internal/live"
	"discussify/internal/models"
	"discussify/internal/preview"

	"github.com/google/uuid"
)

// TempPrefix starts every temporary key handed out for pending entries.
const TempPrefix = "tmp-"

// ErrHistoryLoaded is returned when history is loaded twice into one feed.
var ErrHistoryLoaded = errors.New("history already loaded")

// Releaser frees local previews held by pending entries.
type Releaser interface {
	Release(ref preview.Ref) error
}

type voteState struct {
	count   int
	upvotes []string
}

type voteIntent struct {
	userID string
	vote   bool
	prev   voteState
}

// Feed is the ordered post list of one community.
type Feed struct {
	communityID string
	entries     []Entry
	index       map[string]int
	loaded      bool

	// temporary keys already rolled back
	failed map[string]error
	// permanent IDs whose creation was rolled back locally
	tombstones map[string]struct{}
	// optimistic votes awaiting the server, by post ID
	votes map[string]voteIntent
	// optimistic comment increments awaiting the server, by post ID
	comments map[string]int

	releaser Releaser
	now      func() time.Time
	newID    func() string
}

// Option configures a Feed.
type Option func(*Feed)

// WithReleaser sets where previews of pending entries are released.
func WithReleaser(r Releaser) Option {
	return func(f *Feed) { f.releaser = r }
}

// WithClock overrides the time source used to stamp pending entries.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// WithIDGenerator overrides how temporary keys are generated. The generator's
// result is prefixed with TempPrefix.
func WithIDGenerator(gen func() string) Option {
	return func(f *Feed) { f.newID = gen }
}

// New returns an empty feed for communityID. History is added with LoadHistory.
func New(communityID string, opts ...Option) *Feed {
	f := &Feed{
		communityID: communityID,
		index:       make(map[string]int),
		failed:      make(map[string]error),
		tombstones:  make(map[string]struct{}),
		votes:       make(map[string]voteIntent),
		comments:    make(map[string]int),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CommunityID returns the community this feed belongs to.
func (f *Feed) CommunityID() string { return f.communityID }

// Loaded reports whether history has been loaded.
func (f *Feed) Loaded() bool { return f.loaded }

// Len returns the number of entries.
func (f *Feed) Len() int { return len(f.entries) }

// Index returns the display position of key, or -1.
func (f *Feed) Index(key string) int {
	if i, ok := f.index[key]; ok {
		return i
	}
	return -1
}

// Get returns a copy of the entry stored under key.
func (f *Feed) Get(key string) (Entry, bool) {
	i, ok := f.index[key]
	if !ok {
		return Entry{}, false
	}
	return f.entries[i].clone(), true
}

// Snapshot copies the feed for rendering.
func (f *Feed) Snapshot(generation uint64) Snapshot {
	entries := make([]Entry, len(f.entries))
	for i, e := range f.entries {
		entries[i] = e.clone()
	}
	return Snapshot{
		CommunityID: f.communityID,
		Generation:  generation,
		Loaded:      f.loaded,
		Entries:     entries,
	}
}

// LoadHistory installs the history page. The backend returns posts newest
// first; the feed displays them oldest first. Entries that arrived before the
// history (live events, local submissions) keep their relative order after it,
// and posts already displayed are not duplicated. Posts of another community
// are skipped.
func (f *Feed) LoadHistory(newestFirst []models.Post) error {
	if f.loaded {
		return ErrHistoryLoaded
	}

	early := f.entries
	f.entries = make([]Entry, 0, len(newestFirst)+len(early))
	f.index = make(map[string]int, len(newestFirst)+len(early))

	for i := len(newestFirst) - 1; i >= 0; i-- {
		p := newestFirst[i]
		if p.ID == "" || (p.CommunityID != "" && p.CommunityID != f.communityID) {
			continue
		}
		if _, dup := f.index[p.ID]; dup {
			continue
		}
		f.push(Entry{Key: p.ID, State: StateConfirmed, Post: p.Clone()})
	}

	for _, e := range early {
		if i, dup := f.index[e.Key]; dup {
			// live snapshot is at least as recent as the history page
			f.entries[i] = e
			continue
		}
		f.push(e)
	}

	f.loaded = true
	return nil
}

// ApplyLiveEvent folds a pushed event into the feed. A created post is
// appended unless it is already displayed. An update replaces the matching
// entry in place and is dropped when the post is not displayed.
func (f *Feed) ApplyLiveEvent(ev live.Event) Outcome {
	if ev.CommunityID != "" && ev.CommunityID != f.communityID {
		return OutcomeIgnored
	}
	id := ev.Post.ID
	if id == "" {
		return OutcomeIgnored
	}
	if _, gone := f.tombstones[id]; gone {
		return OutcomeIgnored
	}
	if _, failed := f.failed[id]; failed {
		return OutcomeIgnored
	}

	switch ev.Kind {
	case live.PostCreated:
		if _, ok := f.index[id]; ok {
			return OutcomeDuplicate
		}
		f.push(Entry{Key: id, State: StateConfirmed, Post: ev.Post.Clone()})
		return OutcomeAppended

	case live.PostUpdated:
		i, ok := f.index[id]
		if !ok || f.entries[i].State != StateConfirmed {
			return OutcomeIgnored
		}
		post := ev.Post.Clone()
		if intent, pending := f.votes[id]; pending {
			intent.prev = voteStateOf(post)
			f.votes[id] = intent
			post = withVote(post, intent.userID, intent.vote)
		}
		// the update carries the authoritative comment count
		delete(f.comments, id)
		f.entries[i].Post = post
		return OutcomeReplaced
	}

	return OutcomeIgnored
}

// Submission is the content of a local post before the server confirms it.
type Submission struct {
	Author   models.Author
	Title    string
	Content  string
	Previews []preview.Ref
}

// SubmitOptimistic appends a pending entry under a new temporary key and
// returns it. It never waits on the network.
func (f *Feed) SubmitOptimistic(s Submission) Entry {
	key := TempPrefix + f.newID()

	postType := models.PostTypeText
	var images []string
	if len(s.Previews) > 0 {
		postType = models.PostTypeImage
		images = make([]string, len(s.Previews))
		for i, r := range s.Previews {
			images[i] = r.URL()
		}
	}

	e := Entry{
		Key:   key,
		State: StatePending,
		Post: models.Post{
			ID:          key,
			CommunityID: f.communityID,
			Author:      s.Author,
			Title:       s.Title,
			Content:     s.Content,
			Type:        postType,
			Images:      images,
			CreatedAt:   f.now().UTC(),
			Upvotes:     []string{},
		},
		Previews: slices.Clone(s.Previews),
	}
	f.push(e)
	return e.clone()
}

// ConfirmOptimistic swaps the pending entry tempID for the confirmed post.
//
// The pending entry is replaced in place unless the confirmed post is already
// displayed because its live "created" event won the race; then the pending
// entry is dropped and the displayed one keeps its position and content.
// Confirming an unknown or rolled-back key changes nothing.
func (f *Feed) ConfirmOptimistic(tempID string, confirmed models.Post) Outcome {
	i, ok := f.index[tempID]
	if !ok || f.entries[i].State != StatePending {
		if _, failed := f.failed[tempID]; failed && confirmed.ID != "" {
			if _, shown := f.index[confirmed.ID]; !shown {
				f.tombstones[confirmed.ID] = struct{}{}
			}
		}
		return OutcomeIgnored
	}
	if confirmed.ID == "" {
		return OutcomeIgnored
	}

	f.releasePreviews(f.entries[i])

	if _, shown := f.index[confirmed.ID]; shown {
		f.removeAt(i)
		return OutcomeCollapsed
	}

	delete(f.index, tempID)
	f.entries[i] = Entry{Key: confirmed.ID, State: StateConfirmed, Post: confirmed.Clone()}
	f.index[confirmed.ID] = i
	return OutcomeReplaced
}

// FailOptimistic removes the pending entry tempID, releases its previews and
// returns it in the failed state so the caller can notify the user. Calling it
// again for the same key is a no-op.
func (f *Feed) FailOptimistic(tempID string, reason error) (Entry, Outcome) {
	i, ok := f.index[tempID]
	if !ok || f.entries[i].State != StatePending {
		return Entry{}, OutcomeIgnored
	}
	if reason == nil {
		reason = errors.New("submission failed")
	}

	e := f.entries[i]
	f.releasePreviews(e)
	f.removeAt(i)
	f.failed[tempID] = reason

	e.State = StateFailed
	e.Err = reason
	e.Previews = nil
	return e, OutcomeRemoved
}

// ApplyVoteToggle sets the local user's vote on a confirmed post ahead of the
// server. The state before the first unconfirmed toggle is kept for rollback.
func (f *Feed) ApplyVoteToggle(postID, userID string, vote bool) Outcome {
	i, ok := f.index[postID]
	if !ok || f.entries[i].State != StateConfirmed || userID == "" {
		return OutcomeIgnored
	}
	post := f.entries[i].Post

	intent, pending := f.votes[postID]
	if !pending {
		intent = voteIntent{prev: voteStateOf(post)}
	}
	intent.userID = userID
	intent.vote = vote
	f.votes[postID] = intent

	f.entries[i].Post = withVote(post, userID, vote)
	return OutcomeReplaced
}

// ConfirmVote replaces the post with the server's authoritative vote state.
// A response for a different post cannot confirm the toggle, so the
// optimistic vote is rolled back instead.
func (f *Feed) ConfirmVote(postID string, authoritative models.Post) Outcome {
	if authoritative.ID != postID {
		return f.RollbackVote(postID)
	}
	delete(f.votes, postID)
	i, ok := f.index[postID]
	if !ok {
		return OutcomeIgnored
	}
	f.entries[i].Post = authoritative.Clone()
	return OutcomeReplaced
}

// RollbackVote restores the vote state recorded before the unconfirmed toggle.
func (f *Feed) RollbackVote(postID string) Outcome {
	intent, pending := f.votes[postID]
	if !pending {
		return OutcomeIgnored
	}
	delete(f.votes, postID)
	i, ok := f.index[postID]
	if !ok {
		return OutcomeIgnored
	}
	f.entries[i].Post.VoteCount = intent.prev.count
	f.entries[i].Post.Upvotes = slices.Clone(intent.prev.upvotes)
	return OutcomeReplaced
}

// VotePending reports whether a vote on postID awaits the server.
func (f *Feed) VotePending(postID string) bool {
	_, ok := f.votes[postID]
	return ok
}

// ApplyCommentAdded bumps the comment count of a post ahead of the server.
func (f *Feed) ApplyCommentAdded(postID string) Outcome {
	i, ok := f.index[postID]
	if !ok || f.entries[i].State != StateConfirmed {
		return OutcomeIgnored
	}
	f.comments[postID]++
	f.entries[i].Post.CommentCount++
	return OutcomeReplaced
}

// ConfirmComment settles one optimistic comment; the count stays as displayed
// until the next update event brings the authoritative value.
func (f *Feed) ConfirmComment(postID string) {
	if f.comments[postID] <= 1 {
		delete(f.comments, postID)
		return
	}
	f.comments[postID]--
}

// RollbackComment reverts one optimistic comment increment. It is a no-op when
// an update event has already replaced the count.
func (f *Feed) RollbackComment(postID string) Outcome {
	n := f.comments[postID]
	if n == 0 {
		return OutcomeIgnored
	}
	if n == 1 {
		delete(f.comments, postID)
	} else {
		f.comments[postID] = n - 1
	}
	i, ok := f.index[postID]
	if !ok {
		return OutcomeIgnored
	}
	if f.entries[i].Post.CommentCount > 0 {
		f.entries[i].Post.CommentCount--
	}
	return OutcomeReplaced
}

// Discard releases the previews of every pending entry. The feed must not be
// used afterwards.
func (f *Feed) Discard() {
	for _, e := range f.entries {
		if e.State == StatePending {
			f.releasePreviews(e)
		}
	}
	f.entries = nil
	f.index = map[string]int{}
}

// IsTemporary reports whether key is a temporary key.
func IsTemporary(key string) bool {
	return strings.HasPrefix(key, TempPrefix)
}

func (f *Feed) push(e Entry) {
	f.index[e.Key] = len(f.entries)
	f.entries = append(f.entries, e)
}

func (f *Feed) removeAt(i int) {
	delete(f.index, f.entries[i].Key)
	f.entries = slices.Delete(f.entries, i, i+1)
	for j := i; j < len(f.entries); j++ {
		f.index[f.entries[j].Key] = j
	}
}

func (f *Feed) releasePreviews(e Entry) {
	if f.releaser == nil {
		return
	}
	for _, r := range e.Previews {
		// a preview that cannot be deleted is left to Store.Close
		_ = f.releaser.Release(r)
	}
}

func voteStateOf(p models.Post) voteState {
	return voteState{count: p.VoteCount, upvotes: slices.Clone(p.Upvotes)}
}

func withVote(p models.Post, userID string, vote bool) models.Post {
	voted := p.HasVoted(userID)
	switch {
	case vote && !voted:
		p.Upvotes = append(slices.Clone(p.Upvotes), userID)
		p.VoteCount++
	case !vote && voted:
		p.Upvotes = slices.DeleteFunc(slices.Clone(p.Upvotes), func(id string) bool { return id == userID })
		if p.VoteCount > 0 {
			p.VoteCount--
		}
	}
	return p
}
