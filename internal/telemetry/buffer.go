// Package telemetry buffers completed behavioral events and ships them to
// the collector under backpressure. Buffers only shrink on an acknowledged
// delivery; a failed flush leaves every event in place so the next cycle
// retries it merged with whatever arrived since.
package telemetry

import (
	"sync"

	"sentinel/internal/behavior"
	"sentinel/internal/metrics"
)

// DefaultCapacity caps each modality buffer. When a buffer is full the
// oldest events are evicted first: recent behavior is worth more to the
// scoring model than stale behavior.
const DefaultCapacity = 1000

// Buffer is a bounded FIFO for one modality's events.
type Buffer[T any] struct {
	modality string
	capacity int

	mu    sync.Mutex
	items []T
}

// NewBuffer creates a buffer for the named modality. capacity <= 0 selects
// DefaultCapacity.
func NewBuffer[T any](modality string, capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{modality: modality, capacity: capacity}
}

// Append adds one event, evicting the oldest if the buffer is full.
func (b *Buffer[T]) Append(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.capacity {
		over := len(b.items) - b.capacity + 1
		b.items = append(b.items[:0], b.items[over:]...)
		metrics.BufferOverflowDrops.WithLabelValues(b.modality).Add(float64(over))
	}
	b.items = append(b.items, item)
	metrics.BufferedEvents.WithLabelValues(b.modality).Set(float64(len(b.items)))
}

// Snapshot returns a copy of the buffered events in arrival order. The
// buffer keeps everything until DropFirst acknowledges delivery.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	return append([]T(nil), b.items...)
}

// DropFirst removes the n oldest events. Callers pass the length of the
// snapshot they just delivered, so events appended mid-flight survive.
func (b *Buffer[T]) DropFirst(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.items) {
		n = len(b.items)
	}
	b.items = append(b.items[:0], b.items[n:]...)
	metrics.BufferedEvents.WithLabelValues(b.modality).Set(float64(len(b.items)))
}

// Reset discards all buffered events. Used when the session changes:
// events captured under one identity must never ship under another.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = b.items[:0]
	metrics.BufferedEvents.WithLabelValues(b.modality).Set(0)
}

// Len returns the current number of buffered events.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Buffers groups the per-modality buffers and satisfies the capture sink.
type Buffers struct {
	Keys     *Buffer[behavior.KeyEvent]
	Pointers *Buffer[behavior.PointerEvent]
}

// NewBuffers creates both modality buffers with the given capacity each.
func NewBuffers(capacity int) *Buffers {
	return &Buffers{
		Keys:     NewBuffer[behavior.KeyEvent](behavior.ModalityKeystroke, capacity),
		Pointers: NewBuffer[behavior.PointerEvent](behavior.ModalityPointer, capacity),
	}
}

func (b *Buffers) AppendKey(e behavior.KeyEvent)         { b.Keys.Append(e) }
func (b *Buffers) AppendPointer(e behavior.PointerEvent) { b.Pointers.Append(e) }

// Reset discards both modality buffers.
func (b *Buffers) Reset() {
	b.Keys.Reset()
	b.Pointers.Reset()
}
