// Package livechannel maintains the WebSocket push channel that delivers
// trust updates, security alerts and anomaly notices without waiting for
// the next poll. The channel is an optimization: every piece of state it
// pushes can also be pulled, so a lost connection degrades latency, never
// correctness.
package livechannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sentinel/internal/behavior"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
)

// ReconnectDelay is how long after a drop the single reconnect attempt
// waits. Exactly one attempt is pending at any time; a failed dial counts
// as another drop and schedules the next.
const ReconnectDelay = 5 * time.Second

var ErrNoSession = errors.New("livechannel: no session bound")

// TokenSource yields the bound session token. The channel address embeds
// the token, so connecting without one is refused outright.
type TokenSource interface {
	Token() (string, bool)
}

// Alert is a pushed security notice.
type Alert struct {
	Severity string          `json:"severity"`
	Message  string          `json:"message"`
	Action   behavior.Action `json:"action,omitempty"`
}

// Anomaly is a pushed behavioral anomaly notice.
type Anomaly struct {
	Modality string  `json:"modality"`
	Severity float64 `json:"severity"`
	Details  string  `json:"details,omitempty"`
}

// message is the inbound frame union, discriminated by Type.
type message struct {
	Type              string             `json:"type"`
	TrustScore        float64            `json:"trust_score"`
	TrustLevel        string             `json:"trust_level"`
	TrustComponents   map[string]float64 `json:"trust_components"`
	RecommendedAction behavior.Action    `json:"recommended_action"`
	Alert             *Alert             `json:"alert"`
	Anomaly           *Anomaly           `json:"anomaly"`
}

// Channel is the live push client.
type Channel struct {
	baseURL string
	tokens  TokenSource
	log     *logging.Logger
	dialer  *websocket.Dialer

	reconnectDelay time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connToken string
	closed    bool
	pending   *time.Timer
	wg        sync.WaitGroup

	onTrustUpdate   func(behavior.TrustSnapshot)
	onSecurityAlert func(Alert)
	onAnomaly       func(Anomaly)
}

// New creates a Channel for the collector at baseURL (http/https origin).
// log may be nil.
func New(baseURL string, tokens TokenSource, log *logging.Logger) *Channel {
	if log == nil {
		log = logging.Default().WithComponent("livechannel")
	}
	return &Channel{
		baseURL: baseURL,
		tokens:  tokens,
		log:     log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		reconnectDelay: ReconnectDelay,
	}
}

// SetReconnectDelay overrides the reconnect delay. Must be called before
// Connect.
func (c *Channel) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		c.reconnectDelay = d
	}
}

// Handler registration. Register before Connect.

func (c *Channel) OnTrustUpdate(fn func(behavior.TrustSnapshot)) { c.onTrustUpdate = fn }
func (c *Channel) OnSecurityAlert(fn func(Alert))                { c.onSecurityAlert = fn }
func (c *Channel) OnAnomaly(fn func(Anomaly))                    { c.onAnomaly = fn }

// Connect dials the push endpoint for the bound session. It refuses to
// connect when no session is bound and is a no-op when already connected.
func (c *Channel) Connect(ctx context.Context) error {
	token, ok := c.tokens.Token()
	if !ok {
		return ErrNoSession
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("livechannel: closed")
	}
	if c.conn != nil {
		return nil
	}

	endpoint, err := c.endpointURL(token)
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("livechannel dial: %w", err)
	}

	c.conn = conn
	c.connToken = token
	metrics.LiveConnected.Set(1)
	c.log.Info("live channel connected")

	c.wg.Add(1)
	go c.readLoop(conn, token)
	return nil
}

// endpointURL converts the HTTP origin into the ws(s) push address for the
// session.
func (c *Channel) endpointURL(token string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/" + token
	return u.String(), nil
}

// Close tears the channel down and cancels any pending reconnect.
// Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	c.wg.Wait()
	metrics.LiveConnected.Set(0)
}

// Connected reports whether a connection is currently established.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// readLoop consumes frames until the connection drops, then hands off to
// the reconnect scheduler.
func (c *Channel) readLoop(conn *websocket.Conn, token string) {
	defer c.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onDisconnect(conn, token, err)
			return
		}
		c.dispatch(data)
	}
}

// Disconnect drops the current connection and cancels any pending
// reconnect without closing the channel for good. A later Connect
// establishes a fresh connection.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		metrics.LiveConnected.Set(0)
	}
}

// onDisconnect clears the dead connection and schedules the single
// reconnect attempt. Deliberate detaches (Disconnect, Close) already
// cleared c.conn, so only unsolicited drops reconnect.
func (c *Channel) onDisconnect(conn *websocket.Conn, token string, cause error) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn || c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	metrics.LiveConnected.Set(0)
	c.log.Warn("live channel dropped", "error", cause)
	c.scheduleReconnectLocked(token)
	c.mu.Unlock()
}

// scheduleReconnectLocked arms one delayed reconnect. The attempt is gated
// on the same session still being bound when the timer fires; a rebound or
// cleared session abandons it.
func (c *Channel) scheduleReconnectLocked(token string) {
	if c.pending != nil {
		return
	}
	metrics.LiveReconnects.Inc()
	c.pending = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		c.pending = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		current, ok := c.tokens.Token()
		if !ok || current != token {
			c.log.Info("session changed, abandoning live reconnect")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Connect(ctx); err != nil {
			c.log.Warn("live reconnect failed", "error", err)
			c.mu.Lock()
			if !c.closed {
				c.scheduleReconnectLocked(token)
			}
			c.mu.Unlock()
		}
	})
}

// dispatch validates one frame and routes it to the registered handler.
func (c *Channel) dispatch(data []byte) {
	if err := validateFrame(data); err != nil {
		metrics.LiveMessages.WithLabelValues("invalid").Inc()
		c.log.Warn("rejected live frame", "error", err)
		return
	}

	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.LiveMessages.WithLabelValues("invalid").Inc()
		return
	}
	metrics.LiveMessages.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case "trust_update":
		if c.onTrustUpdate == nil {
			return
		}
		snapshot := behavior.TrustSnapshot{
			Score:             msg.TrustScore,
			LevelName:         msg.TrustLevel,
			Components:        msg.TrustComponents,
			RecommendedAction: msg.RecommendedAction,
		}
		snapshot.Normalize(time.Now())
		c.onTrustUpdate(snapshot)
	case "security_alert":
		if c.onSecurityAlert != nil && msg.Alert != nil {
			c.onSecurityAlert(*msg.Alert)
		}
	case "behavioral_anomaly":
		if c.onAnomaly != nil && msg.Anomaly != nil {
			c.onAnomaly(*msg.Anomaly)
		}
	}
}
