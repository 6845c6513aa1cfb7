package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"discussify/internal/live"
	"discussify/internal/middleware"
	"discussify/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Clients only send control frames.
	maxMessageSize = 4096

	// Outbound frames buffered per connection.
	sendBuffer = 256

	transportDevServer = "devserver"
)

// FeedWebSocket handles GET /ws. Clients send joinCommunity and
// leaveCommunity frames and receive the post events of every community they
// joined.
func (s *Server) FeedWebSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(middleware.UserIDLocal).(string)
		client := newFeedClient(s, conn, userID)
		client.serve()
	})
}

// feedClient is the middleman between one websocket connection and the hub.
type feedClient struct {
	server *Server
	conn   *websocket.Conn
	userID string
	send   chan []byte
	done   chan struct{}
	ctx    context.Context
	logger *observability.WSLogger

	mu   sync.Mutex
	subs map[string]*live.Subscription
	wg   sync.WaitGroup
}

func newFeedClient(s *Server, conn *websocket.Conn, userID string) *feedClient {
	ctx := observability.WithCorrelationID(s.shutdownCtx, uuid.NewString())
	return &feedClient{
		server: s,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		logger: observability.NewWSLogger(transportDevServer).WithLogger(s.logger),
		subs:   make(map[string]*live.Subscription),
	}
}

// serve blocks until the connection ends; the connection is closed when the
// fiber handler returns.
func (c *feedClient) serve() {
	c.logger.LogConnect(c.ctx, c.userID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	stopOnShutdown := make(chan struct{})
	go func() {
		select {
		case <-c.server.shutdownCtx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			_ = c.conn.Close()
		case <-stopOnShutdown:
		}
	}()

	reason := c.readPump()
	close(stopOnShutdown)

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*live.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}

	close(c.done)
	c.wg.Wait()
	<-writerDone
	c.logger.LogDisconnect(c.ctx, reason)
}

func (c *feedClient) readPump() string {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { _ = c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.LogError(c.ctx, "", err, "read")
			}
			return err.Error()
		}
		c.handle(message)
	}
}

func (c *feedClient) handle(message []byte) {
	env, err := live.DecodeEnvelope(message)
	if err != nil {
		c.logger.LogError(c.ctx, "", err, "decode")
		return
	}
	if env.Community == "" {
		return
	}

	switch env.Type {
	case live.FrameJoin:
		c.join(env.Community)
	case live.FrameLeave:
		c.leave(env.Community)
	}
}

func (c *feedClient) join(communityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[communityID]; ok {
		return
	}
	sub, err := c.server.hub.Subscribe(c.ctx, communityID)
	if err != nil {
		c.logger.LogError(c.ctx, communityID, err, "join")
		return
	}
	c.subs[communityID] = sub
	c.wg.Add(1)
	go c.forward(sub)
	c.logger.LogSubscription(c.ctx, communityID, "join")
}

func (c *feedClient) leave(communityID string) {
	c.mu.Lock()
	sub, ok := c.subs[communityID]
	delete(c.subs, communityID)
	c.mu.Unlock()
	if !ok {
		return
	}
	_ = sub.Close()
	c.logger.LogSubscription(c.ctx, communityID, "leave")
}

func (c *feedClient) forward(sub *live.Subscription) {
	defer c.wg.Done()
	for {
		select {
		case ev := <-sub.Events():
			frame, err := live.EncodeEvent(ev)
			if err != nil {
				c.logger.LogError(c.ctx, sub.CommunityID(), err, string(ev.Kind))
				continue
			}
			c.trySend(frame)
		case <-sub.Done():
			if err := sub.Err(); err != nil && !errors.Is(err, live.ErrClosed) {
				c.logger.LogError(c.ctx, sub.CommunityID(), err, "subscription")
			}
			return
		case <-c.done:
			return
		}
	}
}

// trySend queues a frame without blocking; a full buffer drops the frame.
func (c *feedClient) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
		observability.LiveDrops.WithLabelValues(transportDevServer).Inc()
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
