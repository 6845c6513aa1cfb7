package live

import (
	"context"
	"errors"
	"sync"
)

const transportMemory = "memory"

// MemoryChannel is an in-process Channel. The development server fans events
// out to its websocket clients through it, and tests use it in place of a
// network connection.
type MemoryChannel struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewMemoryChannel returns an empty in-process channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for communityID.
func (c *MemoryChannel) Subscribe(ctx context.Context, communityID string) (*Subscription, error) {
	if communityID == "" {
		return nil, errors.New("subscribe: empty community id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	var sub *Subscription
	sub = newSubscription(communityID, transportMemory, func() { c.remove(sub) })
	set, ok := c.subs[communityID]
	if !ok {
		set = make(map[*Subscription]struct{})
		c.subs[communityID] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Publish delivers ev to the subscribers of its community and returns how
// many accepted it.
func (c *MemoryChannel) Publish(ev Event) int {
	if ev.CommunityID == "" {
		ev.CommunityID = ev.Post.CommunityID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for sub := range c.subs[ev.CommunityID] {
		if sub.deliver(ev) {
			n++
		}
	}
	return n
}

// Subscribers returns the number of subscribers of communityID.
func (c *MemoryChannel) Subscribers(communityID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[communityID])
}

// Disconnect ends every subscription with ErrDisconnected, as a dropped
// connection would. New subscriptions are still accepted.
func (c *MemoryChannel) Disconnect() {
	c.endAll(ErrDisconnected, false)
}

// Close ends every subscription with ErrClosed and refuses new ones.
func (c *MemoryChannel) Close() error {
	c.endAll(ErrClosed, true)
	return nil
}

func (c *MemoryChannel) endAll(err error, closing bool) {
	c.mu.Lock()
	if closing {
		c.closed = true
	}
	subs := c.subs
	c.subs = make(map[string]map[*Subscription]struct{})
	c.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.fail(err)
		}
	}
}

func (c *MemoryChannel) remove(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.subs[sub.communityID]
	delete(set, sub)
	if len(set) == 0 {
		delete(c.subs, sub.communityID)
	}
}
