package preview

import (
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
)

// Display is a window rendering overlaid preview frames. Frames are pushed
// as RGBA buffers into a live appsrc; the sink runs unsynchronized so the
// window always shows the newest frame instead of pacing the pipeline.
type Display struct {
	log *slog.Logger

	mu         sync.Mutex
	pipeline   *gst.Pipeline
	src        *app.Source
	sink       *gst.Element
	fullscreen bool
	open       bool
}

// NewDisplay creates a closed display. Open starts the window.
func NewDisplay(log *slog.Logger) *Display {
	if log == nil {
		log = slog.Default()
	}
	return &Display{log: log}
}

// Open builds and starts the window pipeline for the given stream shape.
func (d *Display) Open(cfg frame.StreamConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("preview: create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return fmt.Errorf("preview: create appsrc: %w", err)
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	src.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1",
		cfg.Width, cfg.Height, int(fps),
	)))
	src.SetProperty("is-live", true)
	src.SetProperty("do-timestamp", true)
	src.SetProperty("format", 3) // GST_FORMAT_TIME

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("preview: create videoconvert: %w", err)
	}

	sink, err := gst.NewElement("autovideosink")
	if err != nil {
		return fmt.Errorf("preview: create autovideosink: %w", err)
	}
	sink.SetProperty("sync", false)

	if err := pipeline.AddMany(src.Element, convert, sink); err != nil {
		return fmt.Errorf("preview: assemble pipeline: %w", err)
	}
	if err := gst.ElementLinkMany(src.Element, convert, sink); err != nil {
		return fmt.Errorf("preview: link pipeline: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("preview: start pipeline: %w", err)
	}

	d.pipeline = pipeline
	d.src = src
	d.sink = sink
	d.open = true
	d.log.Info("preview: display opened", "config", cfg.String())
	return nil
}

// Show pushes one rendered frame to the window. Errors after the window
// closed are reported so the caller can stop the preview loop.
func (d *Display) Show(img *image.RGBA) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fmt.Errorf("preview: display not open")
	}

	buf := gst.NewBufferFromBytes(img.Pix)
	if ret := d.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("preview: push frame: flow %v", ret)
	}
	return nil
}

// ToggleFullscreen flips the window between fullscreen and windowed mode.
// Best effort: not every platform sink exposes the property.
func (d *Display) ToggleFullscreen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return
	}
	d.fullscreen = !d.fullscreen
	if err := d.sink.SetProperty("fullscreen", d.fullscreen); err != nil {
		d.log.Warn("preview: fullscreen not supported by video sink", "error", err)
		return
	}
	d.log.Info("preview: fullscreen toggled", "fullscreen", d.fullscreen)
}

// Close tears down the window. Idempotent.
func (d *Display) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return
	}
	d.open = false
	d.src.EndStream()
	_ = d.pipeline.SetState(gst.StateNull)
	d.pipeline = nil
	d.src = nil
	d.sink = nil
	d.log.Info("preview: display closed")
}
