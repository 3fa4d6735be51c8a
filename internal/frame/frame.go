// Package frame defines the value types shared by every stage of the
// capture pipeline.
package frame

import (
	"fmt"
	"time"
)

// Frame represents a single decoded video frame with metadata.
//
// Data is raw RGB (width*height*3 bytes). A Frame is immutable once
// published: consumers (preview, recorder) share it read-only and must
// copy before mutating.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the frame data (RGB format)
	Data []byte
	// TraceID is a unique identifier for tracing a frame through the pipeline
	TraceID string
}

// StreamConfig holds the negotiated stream parameters.
// Set at connect time, immutable until the next reconnect.
type StreamConfig struct {
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// FPS is the nominal frames per second
	FPS float64
}

// String returns the overlay-friendly form, e.g. "1920x1080 @ 30fps".
func (c StreamConfig) String() string {
	return fmt.Sprintf("%dx%d @ %.0ffps", c.Width, c.Height, c.FPS)
}
