// Package source abstracts the video devices and network streams that feed
// the capture pipeline.
//
// A FrameSource yields a sequence of raw RGB frames at a nominal rate. It
// owns no retry policy: a mid-stream fault surfaces from NextFrame so the
// pipeline controller can decide whether to back off and reconnect. This
// keeps failure observable instead of silently looping inside the source.
package source

import (
	"context"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
)

// FrameSource is the contract for video stream acquisition.
//
// Implementations must guarantee:
//   - Connect negotiates and returns the actual stream parameters
//   - NextFrame blocks until a frame is available, the context is cancelled,
//     or the device reports failure (ErrRead) / end of stream (io.EOF)
//   - NextFrame never auto-retries after a fault
//   - Disconnect is idempotent and releases the device handle
type FrameSource interface {
	// Connect opens the underlying device or stream and negotiates the
	// stream configuration. Request hints (desired resolution/fps) are
	// applied best-effort; the returned config reflects what the source
	// actually delivers.
	Connect(ctx context.Context) (frame.StreamConfig, error)

	// NextFrame returns the next captured frame. It blocks until a frame
	// arrives or the source faults. Returns io.EOF when the stream ends
	// cleanly, or an error wrapping ErrRead on a mid-stream fault.
	NextFrame(ctx context.Context) (frame.Frame, error)

	// Disconnect releases the device handle. Safe to call multiple times.
	Disconnect() error

	// Config returns the negotiated stream configuration.
	// Zero value before a successful Connect.
	Config() frame.StreamConfig
}

// Hints carries the best-effort request parameters applied at connect time.
type Hints struct {
	// Width is the desired frame width in pixels
	Width int
	// Height is the desired frame height in pixels
	Height int
	// FPS is the desired frames per second
	FPS float64
	// BufferDepth is the desired source-side buffer depth in frames
	BufferDepth int
}

// DefaultHints returns the request hints used when the operator specifies
// nothing: 1080p at 30 fps with a minimal device buffer for low latency.
func DefaultHints() Hints {
	return Hints{Width: 1920, Height: 1080, FPS: 30, BufferDepth: 1}
}
