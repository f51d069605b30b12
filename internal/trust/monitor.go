// Package trust tracks the server-assessed trust state of the bound
// session. The engine never scores behavior locally; this package ingests
// snapshots pushed over the live channel or pulled by the poll loop, keeps
// a bounded history, and notifies the dispatcher on level transitions.
package trust

import (
	"context"
	"math"
	"sync"
	"time"

	"sentinel/internal/behavior"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
)

const (
	// HistoryCap bounds the retained snapshots, oldest evicted first.
	HistoryCap = 100

	// PollInterval is the fallback cadence when the live channel is not
	// delivering pushes.
	PollInterval = 10 * time.Second

	// Trend compares the newest score against the one five snapshots
	// back (or the oldest when history is shorter). Deltas under the
	// epsilon are noise.
	trendWindow  = 5
	trendEpsilon = 0.05
)

// Trend describes the recent direction of the trust score.
type Trend string

const (
	TrendUnknown    Trend = "unknown"
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
)

// Poller fetches a fresh trust assessment. *apiclient.Client implements it.
type Poller interface {
	TrustScore(ctx context.Context) (behavior.TrustSnapshot, error)
}

// Monitor is the trust state machine.
type Monitor struct {
	poller Poller
	log    *logging.Logger

	mu        sync.Mutex
	pollEvery time.Duration
	retune    chan struct{}
	history   []behavior.TrustSnapshot
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	onUpdate   func(behavior.TrustSnapshot)
	onChange   func(prev, cur behavior.TrustSnapshot)
	onLowTrust func(behavior.TrustSnapshot)
}

// NewMonitor creates a Monitor polling at the default cadence. log may be
// nil.
func NewMonitor(poller Poller, log *logging.Logger) *Monitor {
	if log == nil {
		log = logging.Default().WithComponent("trust")
	}
	return &Monitor{
		poller:    poller,
		log:       log,
		pollEvery: PollInterval,
	}
}

// SetPollInterval overrides the poll cadence. Takes effect immediately,
// even while the loop is running.
func (m *Monitor) SetPollInterval(every time.Duration) {
	if every <= 0 {
		return
	}
	m.mu.Lock()
	m.pollEvery = every
	if m.retune != nil {
		close(m.retune)
		m.retune = make(chan struct{})
	}
	m.mu.Unlock()
}

func (m *Monitor) pollInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollEvery
}

// OnUpdate registers the callback fired on every ingested snapshot,
// whether or not the level moved. Register before StartMonitoring.
func (m *Monitor) OnUpdate(fn func(behavior.TrustSnapshot)) { m.onUpdate = fn }

// OnChange registers the callback fired when the trust level transitions.
// Register before StartMonitoring.
func (m *Monitor) OnChange(fn func(prev, cur behavior.TrustSnapshot)) { m.onChange = fn }

// OnLowTrust registers the callback fired when a snapshot enters the low
// or critical level. A sustained low assessment does not re-fire; the
// level has to move again to trigger another notification.
func (m *Monitor) OnLowTrust(fn func(behavior.TrustSnapshot)) { m.onLowTrust = fn }

// Ingest records one snapshot and fires callbacks. Safe from any
// goroutine; the live channel and the poll loop both feed it.
func (m *Monitor) Ingest(snapshot behavior.TrustSnapshot) {
	m.mu.Lock()
	var prev *behavior.TrustSnapshot
	if len(m.history) > 0 {
		p := m.history[len(m.history)-1]
		prev = &p
	}
	m.history = append(m.history, snapshot)
	if len(m.history) > HistoryCap {
		m.history = append(m.history[:0], m.history[len(m.history)-HistoryCap:]...)
	}
	m.mu.Unlock()

	metrics.TrustScore.Set(snapshot.Score)
	metrics.TrustLevel.Set(float64(snapshot.Level))

	if m.onUpdate != nil {
		m.onUpdate(snapshot)
	}

	levelEntered := prev == nil || prev.Level != snapshot.Level
	if prev != nil && levelEntered {
		m.log.Info("trust level transition",
			"from", prev.Level.String(), "to", snapshot.Level.String(),
			"score", snapshot.Score)
		if m.onChange != nil {
			m.onChange(*prev, snapshot)
		}
	}
	if snapshot.Level <= behavior.TrustLow && levelEntered && m.onLowTrust != nil {
		m.onLowTrust(snapshot)
	}
}

// Current returns the latest snapshot, ok=false before the first ingest.
func (m *Monitor) Current() (behavior.TrustSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return behavior.TrustSnapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// History returns a copy of the retained snapshots, oldest first.
func (m *Monitor) History() []behavior.TrustSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]behavior.TrustSnapshot(nil), m.history...)
}

// Trend reports the recent score direction. It needs at least two
// snapshots; with fewer it returns TrendUnknown.
func (m *Monitor) Trend() Trend {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	if n < 2 {
		return TrendUnknown
	}
	ref := n - 1 - trendWindow
	if ref < 0 {
		ref = 0
	}
	delta := m.history[n-1].Score - m.history[ref].Score
	switch {
	case math.Abs(delta) < trendEpsilon:
		return TrendStable
	case delta > 0:
		return TrendIncreasing
	default:
		return TrendDecreasing
	}
}

// StartMonitoring begins the poll loop with an immediate first poll.
// Idempotent.
func (m *Monitor) StartMonitoring(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.retune = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(runCtx)
}

// StopMonitoring halts the poll loop. Idempotent; history survives so a
// restart keeps its trend context.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.poll(ctx)
	ticker := time.NewTicker(m.pollInterval())
	defer ticker.Stop()
	for {
		m.mu.Lock()
		retune := m.retune
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		case <-retune:
			ticker.Reset(m.pollInterval())
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	snapshot, err := m.poller.TrustScore(ctx)
	if err != nil {
		metrics.TrustPolls.WithLabelValues("error").Inc()
		m.log.Warn("trust poll failed", "error", err)
		return
	}
	metrics.TrustPolls.WithLabelValues("ok").Inc()
	m.Ingest(snapshot)
}
