package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"discussify/internal/testutil"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts one websocket, records control frames and lets the test
// push frames to the client.
type fakeServer struct {
	*httptest.Server

	mu     sync.Mutex
	frames []Envelope
	token  string
	conn   *websocket.Conn
	ready  chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.token = r.URL.Query().Get("token")
		fs.conn = conn
		fs.mu.Unlock()
		close(fs.ready)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := DecodeEnvelope(data)
			if err != nil {
				continue
			}
			fs.mu.Lock()
			fs.frames = append(fs.frames, env)
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http") + "/ws"
}

func (fs *fakeServer) push(t *testing.T, ev Event) {
	t.Helper()
	data, err := EncodeEvent(ev)
	require.NoError(t, err)
	<-fs.ready
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NoError(t, fs.conn.WriteMessage(websocket.TextMessage, data))
}

func (fs *fakeServer) controlFrames() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, len(fs.frames))
	for i, f := range fs.frames {
		out[i] = f.Type + ":" + f.Community
	}
	return out
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestWSChannel_JoinLeaveRefCounted(t *testing.T) {
	fs := newFakeServer(t)
	ch, err := DialWS(context.Background(), fs.url(), "secret")
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	first, err := ch.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	second, err := ch.Subscribe(context.Background(), "c1")
	require.NoError(t, err)

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())

	assert.Eventually(t, func() bool {
		return len(fs.controlFrames()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"joinCommunity:c1", "leaveCommunity:c1"}, fs.controlFrames())

	fs.mu.Lock()
	assert.Equal(t, "secret", fs.token)
	fs.mu.Unlock()
}

func TestWSChannel_DeliversOnlySubscribedCommunity(t *testing.T) {
	fs := newFakeServer(t)
	ch, err := DialWS(context.Background(), fs.url(), "")
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	c1, err := ch.Subscribe(context.Background(), "c1")
	require.NoError(t, err)

	other := testutil.Post("x1", 1)
	other.CommunityID = "c2"
	fs.push(t, Event{Kind: PostCreated, Post: other})
	fs.push(t, Event{Kind: PostUpdated, Post: testutil.Post("p1", 1)})

	ev := receive(t, c1)
	assert.Equal(t, PostUpdated, ev.Kind)
	assert.Equal(t, "p1", ev.Post.ID)
	assert.Never(t, func() bool { return len(c1.Events()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestWSChannel_DisconnectFailsSubscriptions(t *testing.T) {
	fs := newFakeServer(t)
	ch, err := DialWS(context.Background(), fs.url(), "")
	require.NoError(t, err)

	sub, err := ch.Subscribe(context.Background(), "c1")
	require.NoError(t, err)

	<-fs.ready
	fs.mu.Lock()
	_ = fs.conn.Close()
	fs.mu.Unlock()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ended")
	}
	assert.ErrorIs(t, sub.Err(), ErrDisconnected)

	_, err = ch.Subscribe(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWSChannel_CloseEndsSubscriptions(t *testing.T) {
	fs := newFakeServer(t)
	ch, err := DialWS(context.Background(), fs.url(), "")
	require.NoError(t, err)

	sub, err := ch.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	<-sub.Done()
	assert.ErrorIs(t, sub.Err(), ErrClosed)
	require.NoError(t, sub.Close())

	_, err = ch.Subscribe(context.Background(), "")
	assert.Error(t, err)
}

func TestDialWS_Errors(t *testing.T) {
	_, err := DialWS(context.Background(), "://bad", "")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()
	_, err = DialWS(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
