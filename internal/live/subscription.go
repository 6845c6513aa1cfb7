package live

import (
	"context"
	"sync"

	"discussify/internal/observability"
)

// subscriptionBuffer is the number of events held for a subscriber that is
// busy applying earlier ones.
const subscriptionBuffer = 256

// Channel is a push connection shared by every view of one session. Views
// subscribe to the community they display and close the subscription when
// they are torn down.
type Channel interface {
	Subscribe(ctx context.Context, communityID string) (*Subscription, error)
	Close() error
}

// Subscription delivers the events of one community until it is closed by its
// owner or the underlying connection goes away.
type Subscription struct {
	communityID string
	transport   string

	events chan Event
	done   chan struct{}

	mu          sync.Mutex
	err         error
	finished    bool
	unsubscribe func()
}

func newSubscription(communityID, transport string, unsubscribe func()) *Subscription {
	observability.LiveSubscriptions.WithLabelValues(transport).Inc()
	return &Subscription{
		communityID: communityID,
		transport:   transport,
		events:      make(chan Event, subscriptionBuffer),
		done:        make(chan struct{}),
		unsubscribe: unsubscribe,
	}
}

// CommunityID returns the subscribed community.
func (s *Subscription) CommunityID() string { return s.communityID }

// Events returns the event stream. It is never closed; select on Done as well.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended, or nil while it is active.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() error {
	if s.finish(ErrClosed) && s.unsubscribe != nil {
		s.unsubscribe()
	}
	return nil
}

// fail ends the subscription from the channel side.
func (s *Subscription) fail(err error) {
	s.finish(err)
}

func (s *Subscription) finish(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	s.err = err
	close(s.done)
	observability.LiveSubscriptions.WithLabelValues(s.transport).Dec()
	return true
}

// deliver hands ev to the subscriber without blocking the connection. Events
// for other communities are filtered out; a full buffer drops the event.
func (s *Subscription) deliver(ev Event) bool {
	if ev.CommunityID != s.communityID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		observability.LiveDrops.WithLabelValues(s.transport).Inc()
		return false
	}
}
