package feed

import (
	"slices"

	"discussify/internal/models"
	"discussify/internal/preview"
)

// EntryState tags a feed entry as confirmed by the server, pending, or failed.
type EntryState int

const (
	// StateConfirmed entries carry a server-assigned post ID.
	StateConfirmed EntryState = iota
	// StatePending entries are local submissions waiting for the server.
	StatePending
	// StateFailed marks a submission the server rejected. Failed entries are
	// handed back to the caller and never stay in the feed.
	StateFailed
)

func (s EntryState) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one row of the feed. Key is the stable addressing key: the post ID
// once confirmed, the temporary ID while pending.
type Entry struct {
	Key      string
	State    EntryState
	Post     models.Post
	Previews []preview.Ref
	Err      error
}

// Pending reports whether the entry is an unconfirmed local submission.
func (e Entry) Pending() bool { return e.State == StatePending }

func (e Entry) clone() Entry {
	out := e
	out.Post = e.Post.Clone()
	out.Previews = slices.Clone(e.Previews)
	return out
}

// Snapshot is an immutable copy of the feed handed to the rendering layer.
type Snapshot struct {
	CommunityID string
	Generation  uint64
	Loaded      bool
	Entries     []Entry
}

// Keys returns the entry keys in display order.
func (s Snapshot) Keys() []string {
	keys := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		keys[i] = e.Key
	}
	return keys
}

// Outcome describes what a reconciliation step did to the feed.
type Outcome int

const (
	// OutcomeIgnored means the input did not apply to this feed.
	OutcomeIgnored Outcome = iota
	// OutcomeAppended means a new entry was added at the end.
	OutcomeAppended
	// OutcomeReplaced means an entry was replaced in place.
	OutcomeReplaced
	// OutcomeDuplicate means the post was already displayed.
	OutcomeDuplicate
	// OutcomeCollapsed means a pending entry was dropped because its
	// confirmed post was already displayed.
	OutcomeCollapsed
	// OutcomeRemoved means an entry was removed.
	OutcomeRemoved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAppended:
		return "appended"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeCollapsed:
		return "collapsed"
	case OutcomeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Changed reports whether the outcome modified the feed.
func (o Outcome) Changed() bool {
	return o != OutcomeIgnored && o != OutcomeDuplicate
}
