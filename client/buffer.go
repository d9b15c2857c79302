// ABOUTME: Coalescing stream buffer that batches high-frequency appends into one flush per paint.
// ABOUTME: Scheduling is injected; scheduling while a flush is pending is a no-op, and ForceFlush drains synchronously.

package client

import (
	"strings"
	"sync"
)

// Scheduler defers a flush to the host environment's next paint. The TUI
// passes its frame tick; tests pass a manual trampoline.
type Scheduler func(flush func())

// StreamBuffer accumulates appended fragments and flushes them as one
// chunk on the scheduled boundary. Two independent instances exist per
// active message, one for thinking text and one for answer text; the
// channels interleave on the wire but must never merge.
type StreamBuffer struct {
	mu        sync.Mutex
	pending   strings.Builder
	scheduled bool
	schedule  Scheduler
	emit      func(chunk string)
}

// NewStreamBuffer creates a buffer that delivers drained chunks to emit.
func NewStreamBuffer(schedule Scheduler, emit func(chunk string)) *StreamBuffer {
	return &StreamBuffer{schedule: schedule, emit: emit}
}

// Append adds a fragment and schedules a flush if none is pending.
func (b *StreamBuffer) Append(fragment string) {
	b.mu.Lock()
	b.pending.WriteString(fragment)
	if b.scheduled {
		b.mu.Unlock()
		return
	}
	b.scheduled = true
	b.mu.Unlock()

	b.schedule(b.flush)
}

// ForceFlush synchronously drains any pending buffer. Called when the
// stream ends or aborts so no trailing characters are lost.
func (b *StreamBuffer) ForceFlush() {
	b.flush()
}

func (b *StreamBuffer) flush() {
	b.mu.Lock()
	chunk := b.pending.String()
	b.pending.Reset()
	b.scheduled = false
	b.mu.Unlock()

	if chunk != "" {
		b.emit(chunk)
	}
}
