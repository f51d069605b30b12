package telemetry

import (
	"context"
	"sync"
	"time"

	"sentinel/internal/behavior"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
)

// Flush cadence per modality. Keystroke windows fill faster than pointer
// windows, so they ship more often.
const (
	KeystrokeInterval = 3 * time.Second
	PointerInterval   = 4 * time.Second
)

// Collector is the remote endpoint that receives behavioral submissions.
// *apiclient.Client implements it.
type Collector interface {
	SubmitKeystrokes(ctx context.Context, events []behavior.KeyEvent, features behavior.FeatureVector) error
	SubmitPointer(ctx context.Context, events []behavior.PointerEvent, features behavior.FeatureVector) error
}

// Shipper drives the per-modality flush timers. Each cycle snapshots a
// buffer, derives the feature vector and submits both; the buffer is only
// trimmed after the collector acknowledges.
type Shipper struct {
	buffers *Buffers
	client  Collector
	log     *logging.Logger

	mu             sync.Mutex
	keystrokeEvery time.Duration
	pointerEvery   time.Duration
	retune         chan struct{}
	running        bool
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewShipper creates a shipper with the default cadence. log may be nil.
func NewShipper(buffers *Buffers, client Collector, log *logging.Logger) *Shipper {
	if log == nil {
		log = logging.Default().WithComponent("telemetry")
	}
	return &Shipper{
		buffers:        buffers,
		client:         client,
		log:            log,
		keystrokeEvery: KeystrokeInterval,
		pointerEvery:   PointerInterval,
	}
}

// SetIntervals overrides the flush cadence. Takes effect immediately,
// even while the loops are running.
func (s *Shipper) SetIntervals(keystroke, pointer time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keystroke > 0 {
		s.keystrokeEvery = keystroke
	}
	if pointer > 0 {
		s.pointerEvery = pointer
	}
	if s.retune != nil {
		close(s.retune)
		s.retune = make(chan struct{})
	}
}

func (s *Shipper) keystrokeInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keystrokeEvery
}

func (s *Shipper) pointerInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointerEvery
}

// Start launches the flush loops. Idempotent.
func (s *Shipper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.retune = make(chan struct{})

	s.wg.Add(2)
	go s.loop(runCtx, s.keystrokeInterval, s.FlushKeystrokes)
	go s.loop(runCtx, s.pointerInterval, s.FlushPointer)
}

// Stop halts the timers and performs one final flush of each modality so a
// clean shutdown does not strand captured events. Idempotent.
func (s *Shipper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.FlushKeystrokes(ctx)
	s.FlushPointer(ctx)
}

func (s *Shipper) loop(ctx context.Context, interval func() time.Duration, flush func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval())
	defer ticker.Stop()
	for {
		s.mu.Lock()
		retune := s.retune
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flush(ctx)
		case <-retune:
			ticker.Reset(interval())
		}
	}
}

// FlushKeystrokes ships one keystroke window. Windows below the extraction
// minimum are retained for the next cycle rather than sent.
func (s *Shipper) FlushKeystrokes(ctx context.Context) {
	events := s.buffers.Keys.Snapshot()
	features, ok := behavior.ExtractKeystrokeFeatures(events)
	if !ok {
		metrics.FlushesTotal.WithLabelValues(behavior.ModalityKeystroke, "skipped").Inc()
		return
	}

	start := time.Now()
	err := s.client.SubmitKeystrokes(ctx, events, features)
	metrics.FlushDuration.WithLabelValues(behavior.ModalityKeystroke).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FlushesTotal.WithLabelValues(behavior.ModalityKeystroke, "error").Inc()
		s.log.Warn("keystroke flush failed, retaining events",
			"events", len(events), "error", err)
		return
	}
	s.buffers.Keys.DropFirst(len(events))
	metrics.FlushesTotal.WithLabelValues(behavior.ModalityKeystroke, "ok").Inc()
	s.log.Debug("keystroke window shipped", "events", len(events))
}

// FlushPointer ships one pointer window under the same retention rules.
func (s *Shipper) FlushPointer(ctx context.Context) {
	events := s.buffers.Pointers.Snapshot()
	features, ok := behavior.ExtractPointerFeatures(events)
	if !ok {
		metrics.FlushesTotal.WithLabelValues(behavior.ModalityPointer, "skipped").Inc()
		return
	}

	start := time.Now()
	err := s.client.SubmitPointer(ctx, events, features)
	metrics.FlushDuration.WithLabelValues(behavior.ModalityPointer).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FlushesTotal.WithLabelValues(behavior.ModalityPointer, "error").Inc()
		s.log.Warn("pointer flush failed, retaining events",
			"events", len(events), "error", err)
		return
	}
	s.buffers.Pointers.DropFirst(len(events))
	metrics.FlushesTotal.WithLabelValues(behavior.ModalityPointer, "ok").Inc()
	s.log.Debug("pointer window shipped", "events", len(events))
}
