package live

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"discussify/internal/observability"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
)

const transportRedis = "redis"

// NewRedisClient connects to addr, which is either host:port or a redis://
// URL, and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL %q: %w", addr, err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}
	// Servers without the maintenance notifications subcommand reject the handshake.
	opts.MaintNotificationsConfig = &maintnotifications.Config{Mode: maintnotifications.ModeDisabled}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisChannel is a Channel over Redis Pub/Sub. Each subscription listens on
// the community's post channel.
type RedisChannel struct {
	rdb    *redis.Client
	logger *observability.WSLogger

	mu     sync.Mutex
	subs   map[*Subscription]*redis.PubSub
	closed bool
}

// NewRedisChannel creates a channel reading from rdb. The caller keeps
// ownership of rdb.
func NewRedisChannel(rdb *redis.Client) *RedisChannel {
	return &RedisChannel{
		rdb:    rdb,
		logger: observability.NewWSLogger(transportRedis),
		subs:   make(map[*Subscription]*redis.PubSub),
	}
}

// Subscribe listens on the post channel of communityID.
func (c *RedisChannel) Subscribe(ctx context.Context, communityID string) (*Subscription, error) {
	if communityID == "" {
		return nil, errors.New("subscribe: empty community id")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	ps := c.rdb.Subscribe(ctx, CommunityChannel(communityID))
	// wait for the confirmation so no message published after Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", CommunityChannel(communityID), err)
	}

	var sub *Subscription
	sub = newSubscription(communityID, transportRedis, func() { c.unsubscribe(sub) })

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ps.Close()
		sub.fail(ErrClosed)
		return nil, ErrClosed
	}
	c.subs[sub] = ps
	c.mu.Unlock()

	c.logger.LogSubscription(ctx, communityID, "join")
	go c.listen(sub, ps)
	return sub, nil
}

// Close ends every subscription with ErrClosed. The Redis client stays open.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	subs := c.subs
	c.subs = make(map[*Subscription]*redis.PubSub)
	c.mu.Unlock()

	for sub, ps := range subs {
		sub.fail(ErrClosed)
		_ = ps.Close()
	}
	return nil
}

func (c *RedisChannel) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	ps, ok := c.subs[sub]
	delete(c.subs, sub)
	c.mu.Unlock()
	if !ok {
		return
	}
	_ = ps.Close()
	c.logger.LogSubscription(context.Background(), sub.communityID, "leave")
}

func (c *RedisChannel) listen(sub *Subscription, ps *redis.PubSub) {
	ch := ps.Channel()
	for {
		select {
		case <-sub.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				sub.fail(ErrDisconnected)
				return
			}
			c.handle(sub, msg)
		}
	}
}

func (c *RedisChannel) handle(sub *Subscription, msg *redis.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.LogError(context.Background(), sub.communityID,
				fmt.Errorf("panic handling message: %v\n%s", r, debug.Stack()), msg.Channel)
		}
	}()

	ev, ok, err := DecodeEvent([]byte(msg.Payload))
	if err != nil {
		c.logger.LogError(context.Background(), sub.communityID, err, "decode")
		return
	}
	if ok {
		sub.deliver(ev)
	}
}

// Publisher publishes post events to Redis for RedisChannel subscribers.
// A Publisher without a client is a no-op.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a Publisher using rdb, which may be nil.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish sends ev to its community channel.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	if ev.CommunityID == "" {
		ev.CommunityID = ev.Post.CommunityID
	}
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, CommunityChannel(ev.CommunityID), payload).Err()
}
