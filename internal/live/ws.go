package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"discussify/internal/observability"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// Time allowed to read the next frame or pong from the server.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Post snapshots can carry long content, so the client accepts larger
	// frames than the server does.
	maxFrameSize = 1 << 20

	// Control frames queued before the write pump picks them up.
	sendBuffer = 16

	transportWebSocket = "websocket"
)

// WSChannel is a Channel over one websocket connection. It joins a community
// when its first subscriber arrives and leaves it when the last one closes.
type WSChannel struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *observability.WSLogger

	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	closeOnce sync.Once
}

// DialWS opens the websocket at rawURL. The token authenticates the
// connection both as a bearer header and as the token query parameter.
func DialWS(ctx context.Context, rawURL, token string) (*WSChannel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	header := http.Header{}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: writeWait,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", u.Host, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}

	ch := NewWSChannel(conn)
	ch.logger.LogConnect(ctx, u.Host+u.Path)
	return ch, nil
}

// NewWSChannel takes ownership of conn and starts its pumps.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: observability.NewWSLogger(transportWebSocket),
		subs:   make(map[string]map[*Subscription]struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c
}

// Subscribe starts delivering the events of communityID.
func (c *WSChannel) Subscribe(ctx context.Context, communityID string) (*Subscription, error) {
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
	sub = newSubscription(communityID, transportWebSocket, func() { c.unsubscribe(sub) })

	set, joined := c.subs[communityID]
	if !joined {
		frame, err := ControlFrame(FrameJoin, communityID)
		if err != nil {
			return nil, err
		}
		if err := c.enqueue(frame); err != nil {
			sub.fail(err)
			return nil, err
		}
		set = make(map[*Subscription]struct{})
		c.subs[communityID] = set
		c.logger.LogSubscription(ctx, communityID, "join")
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Done is closed when the connection is gone.
func (c *WSChannel) Done() <-chan struct{} { return c.done }

// Close ends every subscription with ErrClosed and closes the connection.
func (c *WSChannel) Close() error {
	c.shutdown(ErrClosed, "closed by owner")
	return nil
}

func (c *WSChannel) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.subs[sub.communityID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) > 0 {
		return
	}
	delete(c.subs, sub.communityID)
	if c.closed {
		return
	}
	frame, err := ControlFrame(FrameLeave, sub.communityID)
	if err == nil {
		err = c.enqueue(frame)
	}
	if err != nil {
		c.logger.LogError(context.Background(), sub.communityID, err, FrameLeave)
		return
	}
	c.logger.LogSubscription(context.Background(), sub.communityID, "leave")
}

// enqueue must be called with c.mu held.
func (c *WSChannel) enqueue(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return errors.New("live channel send buffer full")
	}
}

func (c *WSChannel) dispatch(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs[ev.CommunityID] {
		sub.deliver(ev)
	}
}

func (c *WSChannel) shutdown(reason error, detail string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		subs := c.subs
		c.subs = make(map[string]map[*Subscription]struct{})
		c.mu.Unlock()

		for _, set := range subs {
			for sub := range set {
				sub.fail(reason)
			}
		}

		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
		c.logger.LogDisconnect(context.Background(), detail)
	})
}

func (c *WSChannel) readPump() {
	defer c.shutdown(ErrDisconnected, "connection lost")

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	c.conn.SetPingHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.LogError(context.Background(), "", err, "read")
			}
			return
		}

		ev, ok, err := DecodeEvent(message)
		if err != nil {
			c.logger.LogError(context.Background(), "", err, "decode")
			continue
		}
		if !ok {
			continue
		}
		c.dispatch(ev)
	}
}

func (c *WSChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown(ErrDisconnected, "write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(ErrDisconnected, "ping failed")
				return
			}
		}
	}
}
