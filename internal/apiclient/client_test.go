package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"sentinel/internal/behavior"
)

type fakeCreds struct {
	token   string
	bound   atomic.Bool
	cleared atomic.Int32
}

func newFakeCreds(token string) *fakeCreds {
	c := &fakeCreds{token: token}
	c.bound.Store(true)
	return c
}

func (c *fakeCreds) Token() (string, bool) {
	if !c.bound.Load() {
		return "", false
	}
	return c.token, true
}

func (c *fakeCreds) Clear() {
	c.bound.Store(false)
	c.cleared.Add(1)
}

func TestSubmitKeystrokesEnvelope(t *testing.T) {
	var got map[string]any
	var auth, requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/behavior/keystroke" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		requestID = r.Header.Get("X-Request-ID")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	creds := newFakeCreds("tok-abc")
	client := New(Config{BaseURL: srv.URL}, creds, nil)

	events := []behavior.KeyEvent{{Code: "KeyA", DwellTimeMs: 80, CapturedAtEpochMs: 123, SessionToken: "tok-abc"}}
	features := behavior.FeatureVector{"avg_dwell_time": 80}
	if err := client.SubmitKeystrokes(context.Background(), events, features); err != nil {
		t.Fatalf("SubmitKeystrokes: %v", err)
	}

	if auth != "Bearer tok-abc" {
		t.Errorf("Authorization = %q, want bearer token", auth)
	}
	if requestID == "" {
		t.Error("X-Request-ID missing")
	}
	if got["eventType"] != "keystroke" {
		t.Errorf("eventType = %v, want keystroke", got["eventType"])
	}
	if got["sessionToken"] != "tok-abc" {
		t.Errorf("sessionToken = %v", got["sessionToken"])
	}
	if _, ok := got["sentAtEpochMs"].(float64); !ok {
		t.Error("sentAtEpochMs missing from envelope")
	}
	raw, ok := got["rawData"].([]any)
	if !ok || len(raw) != 1 {
		t.Fatalf("rawData = %v, want one event", got["rawData"])
	}
	if raw[0].(map[string]any)["keyCode"] != "KeyA" {
		t.Errorf("raw event keyCode = %v", raw[0])
	}
}

func TestUnauthorizedClearsCredentialsAndNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := newFakeCreds("tok-expired")
	client := New(Config{BaseURL: srv.URL}, creds, nil)

	var notified atomic.Int32
	client.OnUnauthorized(func() { notified.Add(1) })

	err := client.UpdateActivity(context.Background())
	if err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if creds.cleared.Load() != 1 {
		t.Error("credentials should be cleared on 401")
	}
	if notified.Load() != 1 {
		t.Error("unauthorized callback should fire once")
	}

	// With credentials gone, further calls fail locally.
	if err := client.UpdateActivity(context.Background()); err != ErrNoSession {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestTrustScoreNormalizesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/trust/score" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"trust_score":        0.72,
			"trust_level":        "high",
			"trust_components":   map[string]float64{"keystroke": 0.7, "mouse": 0.74},
			"recommended_action": "no_action",
		})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, newFakeCreds("tok"), nil)
	snapshot, err := client.TrustScore(context.Background())
	if err != nil {
		t.Fatalf("TrustScore: %v", err)
	}
	if snapshot.Score != 0.72 || snapshot.Level != behavior.TrustHigh {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if snapshot.RecommendedAction != behavior.ActionNoAction {
		t.Errorf("action = %q", snapshot.RecommendedAction)
	}
	if snapshot.CapturedAt.IsZero() {
		t.Error("CapturedAt should be stamped")
	}
	if snapshot.Components["keystroke"] != 0.7 {
		t.Errorf("components = %v", snapshot.Components)
	}
}

func TestServerErrorSurfacesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scoring model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, newFakeCreds("tok"), nil)
	err := client.UpdateActivity(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"503", "scoring model unavailable"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestNoSessionShortCircuits(t *testing.T) {
	creds := newFakeCreds("tok")
	creds.bound.Store(false)
	client := New(Config{BaseURL: "http://127.0.0.1:0"}, creds, nil)

	if _, err := client.TrustScore(context.Background()); err != ErrNoSession {
		t.Errorf("TrustScore err = %v, want ErrNoSession", err)
	}
	if err := client.SubmitPointer(context.Background(), nil, nil); err != ErrNoSession {
		t.Errorf("SubmitPointer err = %v, want ErrNoSession", err)
	}
}
