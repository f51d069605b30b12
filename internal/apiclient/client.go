// Package apiclient is the HTTP client for the behavioral collector API.
// It owns the wire envelope, bearer authentication and the 401 policy:
// an unauthorized response clears the cached credentials and notifies the
// engine exactly once per occurrence so re-authentication can begin.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/behavior"
	"sentinel/internal/logging"
)

// DefaultTimeout bounds every collector round trip. A hung collector must
// never stall a flush cycle past its successor.
const DefaultTimeout = 10 * time.Second

var (
	ErrNoSession    = errors.New("apiclient: no session bound")
	ErrUnauthorized = errors.New("apiclient: session rejected")
)

// CredentialSource yields and invalidates the bound session token.
// session.Manager implements it.
type CredentialSource interface {
	Token() (string, bool)
	Clear()
}

// Config holds the client settings.
type Config struct {
	// BaseURL is the collector origin, e.g. "https://sentinel.example.com".
	BaseURL string

	// Timeout bounds one request. Zero selects DefaultTimeout.
	Timeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string
}

// Client talks to the collector API.
type Client struct {
	http           *http.Client
	baseURL        string
	userAgent      string
	creds          CredentialSource
	log            *logging.Logger
	onUnauthorized func()
}

// New creates a Client. log may be nil.
func New(cfg Config, creds CredentialSource, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Default().WithComponent("apiclient")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "sentineld"
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: ua,
		creds:     creds,
		log:       log,
	}
}

// OnUnauthorized registers the callback invoked after a 401 clears the
// credentials. Must be set before the client is used concurrently.
func (c *Client) OnUnauthorized(fn func()) { c.onUnauthorized = fn }

// behaviorEnvelope is the collector's submission format.
type behaviorEnvelope struct {
	EventType     string                 `json:"eventType"`
	RawData       any                    `json:"rawData"`
	Features      behavior.FeatureVector `json:"features"`
	SessionToken  string                 `json:"sessionToken"`
	SentAtEpochMs int64                  `json:"sentAtEpochMs"`
}

// SubmitKeystrokes posts one keystroke window with its feature vector.
func (c *Client) SubmitKeystrokes(ctx context.Context, events []behavior.KeyEvent, features behavior.FeatureVector) error {
	token, ok := c.creds.Token()
	if !ok {
		return ErrNoSession
	}
	return c.post(ctx, "/api/behavior/keystroke", behaviorEnvelope{
		EventType:     behavior.ModalityKeystroke,
		RawData:       events,
		Features:      features,
		SessionToken:  token,
		SentAtEpochMs: time.Now().UnixMilli(),
	}, nil)
}

// SubmitPointer posts one pointer window with its feature vector.
func (c *Client) SubmitPointer(ctx context.Context, events []behavior.PointerEvent, features behavior.FeatureVector) error {
	token, ok := c.creds.Token()
	if !ok {
		return ErrNoSession
	}
	return c.post(ctx, "/api/behavior/mouse", behaviorEnvelope{
		EventType:     behavior.ModalityPointer,
		RawData:       events,
		Features:      features,
		SessionToken:  token,
		SentAtEpochMs: time.Now().UnixMilli(),
	}, nil)
}

// TrustScore requests the current server-side trust assessment.
func (c *Client) TrustScore(ctx context.Context) (behavior.TrustSnapshot, error) {
	token, ok := c.creds.Token()
	if !ok {
		return behavior.TrustSnapshot{}, ErrNoSession
	}
	var snapshot behavior.TrustSnapshot
	err := c.post(ctx, "/api/trust/score", map[string]string{"sessionToken": token}, &snapshot)
	if err != nil {
		return behavior.TrustSnapshot{}, err
	}
	snapshot.Normalize(time.Now())
	return snapshot, nil
}

// UpdateActivity sends the periodic session keep-alive.
func (c *Client) UpdateActivity(ctx context.Context) error {
	token, ok := c.creds.Token()
	if !ok {
		return ErrNoSession
	}
	return c.do(ctx, http.MethodPut, "/api/session/activity",
		map[string]string{"sessionToken": token}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// do performs one authenticated JSON round trip.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token, ok := c.creds.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.log.Warn("session rejected by collector", "path", path)
		c.creds.Clear()
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode,
			strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
