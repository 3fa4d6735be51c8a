// Package preview is the operator-facing side of the pipeline: a live
// display window with a status overlay, keyboard commands, and screenshots.
// The preview consumes the lossy frame path; stale frames are dropped
// upstream so the window tracks the live stream.
package preview

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
	"github.com/ebowwa/iphone-photobooth/internal/framebuffer"
)

const (
	frameWait   = 100 * time.Millisecond
	jpegQuality = 90
)

// FrameDisplay is the window the sink renders into.
type FrameDisplay interface {
	Open(cfg frame.StreamConfig) error
	Show(img *image.RGBA) error
	ToggleFullscreen()
	Close()
}

// StatusFunc reports the pipeline state to stamp on the next frame.
type StatusFunc func() Status

// Sink drains the preview buffer, overlays status, and renders to a display.
type Sink struct {
	buf      *framebuffer.Buffer
	display  FrameDisplay
	renderer *Renderer
	status   StatusFunc
	shotDir  string
	log      *slog.Logger
	now      func() time.Time
}

// NewSink wires a preview sink. status may be nil for a bare display.
func NewSink(buf *framebuffer.Buffer, display FrameDisplay, status StatusFunc, shotDir string, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	if status == nil {
		status = func() Status { return Status{} }
	}
	return &Sink{
		buf:      buf,
		display:  display,
		renderer: NewRenderer(),
		status:   status,
		shotDir:  shotDir,
		log:      log,
		now:      time.Now,
	}
}

// Open starts the display window at the negotiated configuration.
func (s *Sink) Open(cfg frame.StreamConfig) error {
	return s.display.Open(cfg)
}

// Run renders frames until the context is cancelled. Display errors end the
// loop; the pipeline decides whether that is fatal.
func (s *Sink) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, ok := s.buf.Next(frameWait)
		if !ok {
			continue
		}
		img := s.renderer.Render(f, s.status())
		if err := s.display.Show(img); err != nil {
			return err
		}
	}
}

// ToggleFullscreen forwards the command to the display.
func (s *Sink) ToggleFullscreen() { s.display.ToggleFullscreen() }

// Screenshot persists the most recent frame as a timestamped JPEG. The saved
// image is the clean frame without the overlay. Returns the written path.
func (s *Sink) Screenshot() (string, error) {
	f, ok := s.buf.Latest()
	if !ok {
		return "", fmt.Errorf("preview: no frame available for screenshot")
	}

	if err := os.MkdirAll(s.shotDir, 0o755); err != nil {
		return "", fmt.Errorf("preview: screenshot dir: %w", err)
	}
	path := filepath.Join(s.shotDir, screenshotName(s.now()))

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("preview: create screenshot: %w", err)
	}
	if err := jpeg.Encode(out, toRGBA(f), &jpeg.Options{Quality: jpegQuality}); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("preview: encode screenshot: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("preview: close screenshot: %w", err)
	}

	s.log.Info("preview: screenshot saved", "path", path, "seq", f.Seq)
	return path, nil
}

// Close tears down the display.
func (s *Sink) Close() { s.display.Close() }
