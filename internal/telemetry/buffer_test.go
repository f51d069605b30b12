package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sentinel/internal/behavior"
)

func keyAt(ms int64) behavior.KeyEvent {
	return behavior.KeyEvent{Code: "KeyA", DwellTimeMs: 80, CapturedAtEpochMs: ms}
}

// =============================================================================
// Buffer semantics
// =============================================================================

func TestBufferDropsOldestOnOverflow(t *testing.T) {
	b := NewBuffer[behavior.KeyEvent](behavior.ModalityKeystroke, 3)
	for i := int64(0); i < 5; i++ {
		b.Append(keyAt(i))
	}
	got := b.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Events 0 and 1 were evicted; 2, 3, 4 remain in order.
	for i, want := range []int64{2, 3, 4} {
		if got[i].CapturedAtEpochMs != want {
			t.Errorf("item %d captured at %d, want %d", i, got[i].CapturedAtEpochMs, want)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	b := NewBuffer[behavior.KeyEvent](behavior.ModalityKeystroke, 10)
	b.Append(keyAt(1))
	snap := b.Snapshot()
	snap[0].CapturedAtEpochMs = 99
	if b.Snapshot()[0].CapturedAtEpochMs != 1 {
		t.Error("mutating a snapshot must not touch the buffer")
	}
}

func TestDropFirstKeepsMidFlightAppends(t *testing.T) {
	b := NewBuffer[behavior.KeyEvent](behavior.ModalityKeystroke, 10)
	for i := int64(0); i < 4; i++ {
		b.Append(keyAt(i))
	}
	snap := b.Snapshot()

	// Two more events arrive while the snapshot is in flight.
	b.Append(keyAt(10))
	b.Append(keyAt(11))

	b.DropFirst(len(snap))
	got := b.Snapshot()
	if len(got) != 2 || got[0].CapturedAtEpochMs != 10 || got[1].CapturedAtEpochMs != 11 {
		t.Errorf("mid-flight events lost: %v", got)
	}
}

func TestDropFirstClampedToLength(t *testing.T) {
	b := NewBuffer[behavior.KeyEvent](behavior.ModalityKeystroke, 10)
	b.Append(keyAt(1))
	b.DropFirst(100)
	if b.Len() != 0 {
		t.Errorf("len = %d, want 0", b.Len())
	}
}

func TestDefaultCapacity(t *testing.T) {
	b := NewBuffer[behavior.KeyEvent](behavior.ModalityKeystroke, 0)
	if b.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", b.capacity, DefaultCapacity)
	}
}

// =============================================================================
// Shipper flush semantics
// =============================================================================

type fakeCollector struct {
	mu       sync.Mutex
	err      error
	keyCalls [][]behavior.KeyEvent
	ptrCalls [][]behavior.PointerEvent
	features []behavior.FeatureVector
}

func (f *fakeCollector) SubmitKeystrokes(ctx context.Context, events []behavior.KeyEvent, features behavior.FeatureVector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keyCalls = append(f.keyCalls, events)
	f.features = append(f.features, features)
	return nil
}

func (f *fakeCollector) SubmitPointer(ctx context.Context, events []behavior.PointerEvent, features behavior.FeatureVector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ptrCalls = append(f.ptrCalls, events)
	return nil
}

func fillKeys(b *Buffers, n int) {
	for i := 0; i < n; i++ {
		b.AppendKey(keyAt(int64(i) * 100))
	}
}

func TestFlushClearsOnlyOnAck(t *testing.T) {
	buffers := NewBuffers(100)
	collector := &fakeCollector{err: errors.New("collector unreachable")}
	s := NewShipper(buffers, collector, nil)

	fillKeys(buffers, 6)
	s.FlushKeystrokes(context.Background())
	if buffers.Keys.Len() != 6 {
		t.Fatalf("failed flush must retain events, len = %d", buffers.Keys.Len())
	}

	// Collector recovers; retained events merge with new ones.
	collector.mu.Lock()
	collector.err = nil
	collector.mu.Unlock()
	fillKeys(buffers, 2)

	s.FlushKeystrokes(context.Background())
	if buffers.Keys.Len() != 0 {
		t.Errorf("acked flush should clear, len = %d", buffers.Keys.Len())
	}
	if len(collector.keyCalls) != 1 || len(collector.keyCalls[0]) != 8 {
		t.Fatalf("collector should receive all 8 events in one window")
	}
}

func TestFlushSkippedBelowMinimum(t *testing.T) {
	buffers := NewBuffers(100)
	collector := &fakeCollector{}
	s := NewShipper(buffers, collector, nil)

	fillKeys(buffers, behavior.MinKeystrokeEvents-1)
	s.FlushKeystrokes(context.Background())

	if len(collector.keyCalls) != 0 {
		t.Error("window below the extraction minimum must not be submitted")
	}
	if buffers.Keys.Len() != behavior.MinKeystrokeEvents-1 {
		t.Error("skipped window must be retained")
	}
}

func TestFlushSubmitsFeatures(t *testing.T) {
	buffers := NewBuffers(100)
	collector := &fakeCollector{}
	s := NewShipper(buffers, collector, nil)

	fillKeys(buffers, 6)
	s.FlushKeystrokes(context.Background())

	if len(collector.features) != 1 {
		t.Fatal("features missing from submission")
	}
	if _, ok := collector.features[0]["avg_dwell_time"]; !ok {
		t.Error("feature vector should carry avg_dwell_time")
	}
}

func TestStopFlushesRemainder(t *testing.T) {
	buffers := NewBuffers(100)
	collector := &fakeCollector{}
	s := NewShipper(buffers, collector, nil)

	s.Start(context.Background())
	fillKeys(buffers, 6)
	s.Stop()

	if len(collector.keyCalls) != 1 {
		t.Errorf("stop should perform a final flush, got %d calls", len(collector.keyCalls))
	}
	// A second stop is a harmless no-op.
	s.Stop()
}
