package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/behavior"
)

func (f *fakeCollector) keyWindows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keyCalls)
}

func (f *fakeCollector) ptrWindows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ptrCalls)
}

func fillPointer(b *Buffers, moves, clicks int) {
	now := time.Now().UnixMilli()
	for i := 0; i < moves; i++ {
		b.AppendPointer(behavior.NewPointerMove(behavior.PointerMoveEvent{
			X:                 float64(100 + i*10),
			Y:                 200,
			DistancePx:        10,
			VelocityPxPerMs:   0.2,
			TimeDeltaMs:       50,
			CapturedAtEpochMs: now + int64(i*50),
		}))
	}
	for i := 0; i < clicks; i++ {
		b.AppendPointer(behavior.NewPointerClick(behavior.PointerClickEvent{
			X: 150, Y: 200, Button: 0,
			CapturedAtEpochMs: now + int64((moves+i)*50),
		}))
	}
}

// =============================================================================
// Pointer flush semantics
// =============================================================================

func TestFlushPointerRequiresEnoughMoves(t *testing.T) {
	buffers := NewBuffers(100)
	collector := &fakeCollector{}
	s := NewShipper(buffers, collector, nil)

	// Ten events total but only four moves: the window must be retained.
	fillPointer(buffers, 4, 6)
	s.FlushPointer(context.Background())
	require.Equal(t, 0, collector.ptrWindows())
	require.Equal(t, 10, buffers.Pointers.Len())

	// One more move crosses the threshold and the whole window ships.
	fillPointer(buffers, 1, 0)
	s.FlushPointer(context.Background())
	assert.Equal(t, 1, collector.ptrWindows())
	assert.Equal(t, 0, buffers.Pointers.Len())
}

// =============================================================================
// Flush loop cadence
// =============================================================================

func TestLoopFlushesOnCadence(t *testing.T) {
	buffers := NewBuffers(100)
	collector := &fakeCollector{}
	s := NewShipper(buffers, collector, nil)
	s.SetIntervals(20*time.Millisecond, time.Hour)

	fillKeys(buffers, 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool { return collector.keyWindows() >= 1 },
		2*time.Second, 5*time.Millisecond, "flush loop never shipped the window")
	assert.Equal(t, 0, buffers.Keys.Len())
}

func TestSetIntervalsRetunesRunningLoop(t *testing.T) {
	buffers := NewBuffers(100)
	collector := &fakeCollector{}
	s := NewShipper(buffers, collector, nil)

	// Cadence far beyond the test's lifetime.
	s.SetIntervals(time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	fillKeys(buffers, 6)

	// Retuning must take effect without restarting the shipper.
	s.SetIntervals(15*time.Millisecond, time.Hour)

	require.Eventually(t, func() bool { return collector.keyWindows() >= 1 },
		2*time.Second, 5*time.Millisecond, "retuned cadence never fired")
}

func TestStartIsIdempotent(t *testing.T) {
	buffers := NewBuffers(100)
	collector := &fakeCollector{}
	s := NewShipper(buffers, collector, nil)
	s.SetIntervals(time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx)
	fillKeys(buffers, 6)
	s.Stop()

	// One final flush, not one per Start call.
	assert.Equal(t, 1, collector.keyWindows())
}
