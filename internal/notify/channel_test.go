package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketmaster/internal/clock/manual"
	"github.com/JakeFAU/marketmaster/internal/market"
	"github.com/JakeFAU/marketmaster/internal/policy/reconnect"
)

type fakeConn struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 8), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	fail  bool
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) SetFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func newTestChannel(t *testing.T) (*Channel, *fakeDialer, *manual.Clock) {
	t.Helper()
	dialer := &fakeDialer{}
	clk := manual.New(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ch, err := New(Config{
		URL:    "ws://backend.test/api/ws/",
		Dialer: dialer,
		Clock:  clk,
		Policy: reconnect.Default(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch, dialer, clk
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func pendingIs(clk *manual.Clock, want ...time.Duration) func() bool {
	return func() bool {
		got := clk.Pending()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}
}

// TestNewRejectsNonWebSocketURL ensures only ws and wss endpoints are accepted.
func TestNewRejectsNonWebSocketURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{URL: "http://backend.test/api/ws"})
	require.Error(t, err)
}

// TestChannelDeliversNotifications ensures frames reach the handler and bump the unread counter.
func TestChannelDeliversNotifications(t *testing.T) {
	t.Parallel()

	ch, dialer, _ := newTestChannel(t)
	received := make(chan market.Notification, 4)
	ch.OnNotification(func(n market.Notification) { received <- n })

	require.NoError(t, ch.Connect("sess-1"))
	waitFor(t, func() bool { return dialer.Dials() == 1 && ch.State() == StateOpen })
	require.Equal(t, []string{"ws://backend.test/api/ws/sess-1"}, dialer.URLs())

	conn := dialer.Last()
	conn.frames <- []byte(`not json`)
	conn.frames <- []byte(`{"id": 7, "message": "Results for camera are ready", "keyword": "camera"}`)

	select {
	case n := <-received:
		require.Equal(t, "7", n.ID)
		require.Equal(t, "camera", n.Keyword)
		require.Equal(t, "Results for camera are ready", n.Message)
		require.False(t, n.ReceivedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	require.Equal(t, 1, ch.Unread())
	ch.MarkRead()
	require.Equal(t, 0, ch.Unread())
}

// TestChannelReconnectsAfterClosure ensures a dropped channel is redialed after five seconds, indefinitely.
func TestChannelReconnectsAfterClosure(t *testing.T) {
	t.Parallel()

	ch, dialer, clk := newTestChannel(t)
	require.NoError(t, ch.Connect("sess-1"))
	waitFor(t, func() bool { return ch.State() == StateOpen })

	dialer.Last().Close()
	waitFor(t, pendingIs(clk, 5*time.Second))
	require.Equal(t, StateReconnecting, ch.State())

	clk.Advance(4 * time.Second)
	require.Equal(t, 1, dialer.Dials())

	dialer.SetFail(true)
	clk.Advance(time.Second)
	waitFor(t, func() bool { return dialer.Dials() == 2 })

	// Failed dials keep rescheduling at the same fixed delay.
	for want := 3; want <= 6; want++ {
		waitFor(t, pendingIs(clk, 5*time.Second))
		clk.Advance(5 * time.Second)
		waitFor(t, func() bool { return dialer.Dials() == want })
	}

	dialer.SetFail(false)
	waitFor(t, pendingIs(clk, 5*time.Second))
	clk.Advance(5 * time.Second)
	waitFor(t, func() bool { return ch.State() == StateOpen })

	for _, u := range dialer.URLs() {
		require.Equal(t, "ws://backend.test/api/ws/sess-1", u)
	}
}

// TestChannelConnectIsIdempotent ensures repeated Connect for one session keeps one connection.
func TestChannelConnectIsIdempotent(t *testing.T) {
	t.Parallel()

	ch, dialer, _ := newTestChannel(t)
	require.NoError(t, ch.Connect("sess-1"))
	waitFor(t, func() bool { return ch.State() == StateOpen })
	require.NoError(t, ch.Connect("sess-1"))
	require.NoError(t, ch.Connect("sess-1"))
	require.Equal(t, 1, dialer.Dials())

	first := dialer.Last()
	require.NoError(t, ch.Connect("sess-2"))
	waitFor(t, func() bool { return dialer.Dials() == 2 && ch.State() == StateOpen })
	require.True(t, first.isClosed())
	require.Equal(t, "sess-2", ch.SessionID())
	require.Equal(t, "ws://backend.test/api/ws/sess-2", dialer.URLs()[1])
}

// TestChannelCloseStopsReconnects ensures teardown cancels the pending timer and refuses new connects.
func TestChannelCloseStopsReconnects(t *testing.T) {
	t.Parallel()

	ch, dialer, clk := newTestChannel(t)
	require.NoError(t, ch.Connect("sess-1"))
	waitFor(t, func() bool { return ch.State() == StateOpen })

	dialer.Last().Close()
	waitFor(t, pendingIs(clk, 5*time.Second))

	require.NoError(t, ch.Close())
	require.Empty(t, clk.Pending())
	clk.Advance(time.Minute)
	require.Equal(t, 1, dialer.Dials())
	require.Equal(t, StateClosed, ch.State())
	require.ErrorIs(t, ch.Connect("sess-1"), ErrClosed)
	require.NoError(t, ch.Close())
}

// TestChannelGivesUpAfterMaxAttempts ensures a bounded policy stops rescheduling.
func TestChannelGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{fail: true}
	clk := manual.New(time.Unix(0, 0))
	ch, err := New(Config{
		URL:    "wss://backend.test/api/ws",
		Dialer: dialer,
		Clock:  clk,
		Policy: reconnect.Policy{Delay: time.Second, MaxAttempts: 2},
	})
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Connect("sess-1"))
	waitFor(t, pendingIs(clk, time.Second))
	clk.Advance(time.Second)
	waitFor(t, func() bool { return dialer.Dials() == 2 })
	waitFor(t, pendingIs(clk, time.Second))
	clk.Advance(time.Second)
	waitFor(t, func() bool { return dialer.Dials() == 3 && ch.State() == StateIdle })
	require.Empty(t, clk.Pending())

	// An explicit Connect starts over.
	require.NoError(t, ch.Connect("sess-1"))
	waitFor(t, func() bool { return dialer.Dials() == 4 })
}

// TestWSDialerReadsServerFrames ensures the WebSocket dialer speaks to a real upgrade handler.
func TestWSDialerReadsServerFrames(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ws/sess-42" {
			http.NotFound(w, r)
			return
		}
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = wsutil.WriteServerText(conn, []byte(`{"id":"n1","message":"done","keyword":"camera"}`))
		<-release
	}))
	defer srv.Close()
	defer close(release)

	base := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/api/ws"
	ch, err := New(Config{URL: base, Dialer: WSDialer{Timeout: 2 * time.Second}, Policy: reconnect.Default()})
	require.NoError(t, err)
	defer ch.Close()

	received := make(chan market.Notification, 1)
	ch.OnNotification(func(n market.Notification) { received <- n })
	require.NoError(t, ch.Connect("sess-42"))

	select {
	case n := <-received:
		require.Equal(t, "n1", n.ID)
		require.Equal(t, "camera", n.Keyword)
	case <-time.After(3 * time.Second):
		t.Fatal("frame not received")
	}
	require.Equal(t, StateOpen, ch.State())
}
