package ipc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Common client errors.
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// ClientConfig configures the control socket client.
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible client defaults.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Client is a synchronous control socket client. One request is in
// flight at a time, which suits the CLI.
type Client struct {
	cfg ClientConfig

	mu        sync.Mutex
	conn      net.Conn
	nextReqID atomic.Uint32
}

// NewClient creates a client for the given configuration.
func NewClient(cfg ClientConfig) *Client {
	return &Client{cfg: cfg}
}

// Connect dials the daemon's control socket.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := net.DialTimeout("unix", c.cfg.SocketPath, c.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	c.conn = conn
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// call sends a request and waits for the matching response.
func (c *Client) call(msgType MessageType, payload any) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, body)

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	if err := msg.Write(c.conn); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout))
		resp, err := ReadMessage(c.conn)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		// Unsolicited pings keep the connection alive; skip them.
		if resp.Header.Type == MsgPing {
			continue
		}
		if resp.Header.RequestID != reqID {
			continue
		}
		if resp.Header.Type == MsgError {
			var errResp ErrorResponse
			if err := Decode(resp.Payload, &errResp); err != nil {
				return nil, fmt.Errorf("daemon error (undecodable)")
			}
			return nil, fmt.Errorf("daemon error %d: %s", errResp.Code, errResp.Message)
		}
		return resp, nil
	}
}

// Ping checks that the daemon is responsive.
func (c *Client) Ping() error {
	resp, err := c.call(MsgPing, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response type %#x", resp.Header.Type)
	}
	return nil
}

// Status fetches the daemon's current state.
func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.call(MsgStatusRequest, nil)
	if err != nil {
		return nil, err
	}
	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// BindSession binds an authenticated session token.
func (c *Client) BindSession(token string) error {
	resp, err := c.call(MsgBindSession, &BindSessionRequest{Token: token})
	if err != nil {
		return err
	}
	var bind BindSessionResponse
	if err := Decode(resp.Payload, &bind); err != nil {
		return fmt.Errorf("decode bind response: %w", err)
	}
	if !bind.Success {
		return fmt.Errorf("bind session: %s", bind.Error)
	}
	return nil
}

// ClearSession drops the bound session and its cached credential.
func (c *Client) ClearSession() error {
	_, err := c.call(MsgClearSession, nil)
	return err
}

// StartCollection starts behavioral capture.
func (c *Client) StartCollection() error {
	resp, err := c.call(MsgStartCollection, nil)
	if err != nil {
		return err
	}
	var coll CollectionResponse
	if err := Decode(resp.Payload, &coll); err != nil {
		return fmt.Errorf("decode collection response: %w", err)
	}
	if !coll.Success {
		return fmt.Errorf("start collection: %s", coll.Error)
	}
	return nil
}

// StopCollection stops behavioral capture.
func (c *Client) StopCollection() error {
	resp, err := c.call(MsgStopCollection, nil)
	if err != nil {
		return err
	}
	var coll CollectionResponse
	if err := Decode(resp.Payload, &coll); err != nil {
		return fmt.Errorf("decode collection response: %w", err)
	}
	if !coll.Success {
		return fmt.Errorf("stop collection: %s", coll.Error)
	}
	return nil
}

// Trust fetches the current trust assessment.
func (c *Client) Trust() (*Trust, error) {
	resp, err := c.call(MsgTrustRequest, nil)
	if err != nil {
		return nil, err
	}
	var trust Trust
	if err := Decode(resp.Payload, &trust); err != nil {
		return nil, fmt.Errorf("decode trust: %w", err)
	}
	return &trust, nil
}

// RecentActions fetches the most recent journaled security actions.
func (c *Client) RecentActions(limit int) ([]ActionInfo, error) {
	resp, err := c.call(MsgActionsRequest, &ActionsRequest{Limit: limit})
	if err != nil {
		return nil, err
	}
	var actions ActionsResponse
	if err := Decode(resp.Payload, &actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return actions.Actions, nil
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() error {
	_, err := c.call(MsgShutdown, nil)
	return err
}
