// Package framebuffer provides the bounded queue decoupling capture cadence
// from display cadence.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// The preview path is lossy by design: Push never blocks the capture loop,
// and when the buffer is full the oldest unread frame is evicted. Recorded
// output takes a different path entirely (the recorder writes synchronously
// on the capture thread), so only the on-screen preview pays for slowness.
package framebuffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
)

// DefaultCapacity is the buffer capacity used when the caller passes <= 0.
const DefaultCapacity = 4

// Buffer is a bounded frame queue with oldest-first eviction.
//
// Exactly one producer (the capture loop) calls Push; exactly one consumer
// (the preview loop) calls Next. Latest may be read from any goroutine.
type Buffer struct {
	ch chan frame.Frame

	mu     sync.RWMutex
	latest *frame.Frame

	pushed  atomic.Uint64
	evicted atomic.Uint64
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	// Pushed is the total number of frames offered to the buffer
	Pushed uint64
	// Evicted is the number of unread frames dropped to make room
	Evicted uint64
	// Depth is the number of frames currently pending display
	Depth int
	// Capacity is the configured bound
	Capacity int
}

// New creates a buffer holding at most capacity frames pending display.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{ch: make(chan frame.Frame, capacity)}
}

// Push offers a frame to the display path. It never blocks: if the buffer
// is full the oldest unread frame is evicted first. The latest-frame cell
// is updated unconditionally, so screenshots see the newest frame even
// when the display path is saturated.
func (b *Buffer) Push(f frame.Frame) {
	b.pushed.Add(1)

	b.mu.Lock()
	b.latest = &f
	b.mu.Unlock()

	for {
		select {
		case b.ch <- f:
			return
		default:
		}
		// Full: evict the oldest unread frame and retry. The consumer may
		// have drained the channel between the two selects, in which case
		// the eviction receive falls through and the retry succeeds.
		select {
		case <-b.ch:
			b.evicted.Add(1)
		default:
		}
	}
}

// Next returns the next pending frame, waiting up to timeout.
// The second return is false if no frame arrived in time.
func (b *Buffer) Next(timeout time.Duration) (frame.Frame, bool) {
	select {
	case f := <-b.ch:
		return f, true
	case <-time.After(timeout):
		return frame.Frame{}, false
	}
}

// Latest returns the most recently pushed frame, regardless of whether the
// display path has consumed it. The second return is false before the
// first Push.
func (b *Buffer) Latest() (frame.Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return frame.Frame{}, false
	}
	return *b.latest, true
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Pushed:   b.pushed.Load(),
		Evicted:  b.evicted.Load(),
		Depth:    len(b.ch),
		Capacity: cap(b.ch),
	}
}
