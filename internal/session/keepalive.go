package session

import (
	"context"
	"sync"
	"time"

	"sentinel/internal/logging"
	"sentinel/internal/metrics"
)

// KeepAliveInterval matches the server's session idle window with margin.
const KeepAliveInterval = 5 * time.Minute

// ActivityClient sends the keep-alive request. *apiclient.Client
// implements it.
type ActivityClient interface {
	UpdateActivity(ctx context.Context) error
}

// KeepAlive periodically refreshes the server-side session activity stamp
// so an actively observed user is not idle-expired. Failures are logged
// and retried on the next tick; the 401 path is handled inside the client.
type KeepAlive struct {
	manager *Manager
	client  ActivityClient
	log     *logging.Logger
	every   time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewKeepAlive creates the keep-alive loop. log may be nil.
func NewKeepAlive(manager *Manager, client ActivityClient, log *logging.Logger) *KeepAlive {
	if log == nil {
		log = logging.Default().WithComponent("session")
	}
	return &KeepAlive{
		manager: manager,
		client:  client,
		log:     log,
		every:   KeepAliveInterval,
	}
}

// SetInterval overrides the cadence. Must be called before Start.
func (k *KeepAlive) SetInterval(every time.Duration) {
	if every > 0 {
		k.every = every
	}
}

// Start launches the loop. Idempotent.
func (k *KeepAlive) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.running = true

	k.wg.Add(1)
	go k.loop(runCtx)
}

// Stop halts the loop. Idempotent.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	k.cancel()
	k.running = false
	k.mu.Unlock()
	k.wg.Wait()
}

func (k *KeepAlive) loop(ctx context.Context) {
	defer k.wg.Done()
	ticker := time.NewTicker(k.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.tick(ctx)
		}
	}
}

func (k *KeepAlive) tick(ctx context.Context) {
	if _, ok := k.manager.Token(); !ok {
		return
	}
	if err := k.client.UpdateActivity(ctx); err != nil {
		metrics.SessionKeepalives.WithLabelValues("error").Inc()
		k.log.Warn("session keep-alive failed", "error", err)
		return
	}
	metrics.SessionKeepalives.WithLabelValues("ok").Inc()
}
