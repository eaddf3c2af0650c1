// Package notify keeps the per-session push channel over which the backend
// announces finished crawls. The channel reconnects on a fixed delay for as
// long as it is wanted.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/clock/system"
	"github.com/JakeFAU/marketmaster/internal/events"
	"github.com/JakeFAU/marketmaster/internal/market"
	"github.com/JakeFAU/marketmaster/internal/metrics"
	"github.com/JakeFAU/marketmaster/internal/policy/reconnect"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("notification channel closed")

// State describes the channel lifecycle.
type State string

// Channel states.
const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Config wires a Channel.
type Config struct {
	// URL is the channel base; the session id is appended as the last path
	// segment.
	URL     string
	Dialer  Dialer
	Clock   market.Clock
	Policy  reconnect.Policy
	Emitter events.Emitter
	Logger  *zap.Logger
}

// Channel is the NotificationChannel: at most one live connection, bound to
// one session id.
type Channel struct {
	baseURL string
	dialer  Dialer
	clock   market.Clock
	policy  reconnect.Policy
	emitter events.Emitter
	logger  *zap.Logger

	mu        sync.Mutex
	sessionID string
	state     State
	conn      Conn
	cancel    context.CancelFunc
	timer     market.Timer
	attempts  int
	epoch     uint64
	closed    bool
	handler   func(market.Notification)

	unread atomic.Int64
}

// New validates cfg and returns an idle Channel.
func New(cfg Config) (*Channel, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse notify url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("notify url %q must use ws or wss", cfg.URL)
	}
	c := &Channel{
		baseURL: base,
		dialer:  cfg.Dialer,
		clock:   cfg.Clock,
		policy:  cfg.Policy,
		emitter: cfg.Emitter,
		logger:  cfg.Logger,
		state:   StateIdle,
	}
	if c.dialer == nil {
		c.dialer = WSDialer{}
	}
	if c.clock == nil {
		c.clock = system.New()
	}
	if c.emitter == nil {
		c.emitter = events.Discard
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// OnNotification registers the single delivery handler, replacing any
// previous one. The handler runs on the channel's read goroutine.
func (c *Channel) OnNotification(handler func(market.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Connect opens the channel for sessionID. Calling it again for the active
// session is a no-op; a different session replaces the current connection.
func (c *Channel) Connect(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sessionID == sessionID && c.state != StateIdle {
		return nil
	}
	c.teardownLocked()
	c.sessionID = sessionID
	c.attempts = 0
	c.state = StateConnecting
	go c.run(c.epoch)
	return nil
}

// Close stops reconnecting and closes the live connection. It is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.teardownLocked()
	c.state = StateClosed
	c.emitState(events.ChannelClosed)
	return nil
}

// Unread returns how many notifications arrived since the last MarkRead.
func (c *Channel) Unread() int {
	return int(c.unread.Load())
}

// MarkRead clears the unread counter.
func (c *Channel) MarkRead() {
	c.unread.Store(0)
}

// State reports the lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session the channel is bound to, if any.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// URLFor returns the endpoint dialed for sessionID.
func (c *Channel) URLFor(sessionID string) string {
	return c.baseURL + "/" + url.PathEscape(sessionID)
}

// teardownLocked invalidates the current epoch so in-flight dials, read loops
// and reconnect timers stand down.
func (c *Channel) teardownLocked() {
	c.epoch++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("close notification socket", zap.Error(err))
		}
		c.conn = nil
	}
}

func (c *Channel) run(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	target := c.URLFor(c.sessionID)
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, target)
	cancel()
	metrics.ObserveChannelDial(err == nil)
	if err != nil {
		c.logger.Warn("notification channel dial failed", zap.String("url", target), zap.Error(err))
		c.scheduleReconnect(epoch)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.cancel = nil
	c.conn = conn
	c.attempts = 0
	c.state = StateOpen
	c.emitState(events.ChannelOpen)
	c.mu.Unlock()
	c.logger.Info("notification channel open", zap.String("url", target))

	c.readLoop(conn, epoch)

	c.mu.Lock()
	if c.epoch == epoch {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	c.scheduleReconnect(epoch)
}

func (c *Channel) readLoop(conn Conn, epoch uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Info("notification channel closed", zap.Error(err))
			return
		}
		var n market.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			metrics.ObserveChannelMessage(false)
			c.logger.Warn("skipping malformed notification", zap.ByteString("frame", data), zap.Error(err))
			continue
		}
		n.ReceivedAt = c.clock.Now()

		c.mu.Lock()
		current := c.epoch == epoch
		handler := c.handler
		c.mu.Unlock()
		if !current {
			return
		}
		metrics.ObserveChannelMessage(true)
		c.unread.Add(1)
		if handler != nil {
			handler(n)
		}
	}
}

func (c *Channel) scheduleReconnect(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.closed {
		return
	}
	c.attempts++
	if !c.policy.ShouldRetry(c.attempts) {
		c.logger.Warn("notification channel giving up", zap.Int("attempts", c.attempts-1))
		c.state = StateIdle
		c.emitState(events.ChannelClosed)
		return
	}
	c.state = StateReconnecting
	c.emitState(events.ChannelReconnecting)
	c.timer = c.clock.AfterFunc(c.policy.Backoff(c.attempts), func() {
		c.mu.Lock()
		due := c.epoch == epoch && !c.closed
		if due {
			c.timer = nil
		}
		c.mu.Unlock()
		if due {
			go c.run(epoch)
		}
	})
}

func (c *Channel) emitState(state string) {
	c.emitter.Emit(events.Event{
		Kind:  events.KindChannelState,
		TS:    c.clock.Now(),
		State: state,
		Count: c.attempts,
	})
}
