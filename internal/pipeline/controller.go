// Package pipeline owns the capture lifecycle: it connects the source,
// fans frames out to the lossy preview path and the lossless record path,
// reacts to operator commands, and supervises reconnection after stream
// faults. All state transitions happen on the control loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
	"github.com/ebowwa/iphone-photobooth/internal/framebuffer"
	"github.com/ebowwa/iphone-photobooth/internal/preview"
	"github.com/ebowwa/iphone-photobooth/internal/recorder"
	"github.com/ebowwa/iphone-photobooth/internal/source"
	"github.com/ebowwa/iphone-photobooth/internal/telemetry"
)

// Viewer is the operator-facing surface the controller drives.
type Viewer interface {
	Open(cfg frame.StreamConfig) error
	Run(ctx context.Context) error
	Screenshot() (string, error)
	ToggleFullscreen()
	Close()
}

// Controller runs the capture pipeline. Construct with New, then Run.
type Controller struct {
	src       source.FrameSource
	buf       *framebuffer.Buffer
	rec       *recorder.Recorder
	viewer    Viewer // nil runs headless
	commands  <-chan preview.Command
	metrics   *telemetry.Metrics // nil disables counters
	reconnect ReconnectConfig
	log       *slog.Logger

	state atomic.Int32
	cfg   frame.StreamConfig

	// capture epoch, owned by the control loop
	capCancel context.CancelFunc
	capDone   chan struct{}
}

// Options configures a Controller.
type Options struct {
	Viewer    Viewer
	Metrics   *telemetry.Metrics
	Reconnect ReconnectConfig
}

// New wires a controller over the given source, buffer, and recorder.
func New(src source.FrameSource, buf *framebuffer.Buffer, rec *recorder.Recorder, commands <-chan preview.Command, log *slog.Logger, opts Options) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if opts.Reconnect.MaxRetries == 0 && opts.Reconnect.RetryDelay == 0 {
		opts.Reconnect = DefaultReconnectConfig()
	}
	return &Controller{
		src:       src,
		buf:       buf,
		rec:       rec,
		viewer:    opts.Viewer,
		commands:  commands,
		metrics:   opts.Metrics,
		reconnect: opts.Reconnect,
		log:       log,
	}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	if c.metrics != nil {
		c.metrics.SetPipelineState(int(s))
	}
	c.log.Info("pipeline: state changed", "state", s.String())
}

// Config returns the negotiated stream configuration once connected.
func (c *Controller) Config() frame.StreamConfig { return c.cfg }

// Run connects the source and drives the pipeline until the context is
// cancelled, the operator quits, or the reconnect budget is spent. The
// initial connect fails fast so a misconfigured source is visible
// immediately.
func (c *Controller) Run(ctx context.Context) error {
	cfg, err := c.src.Connect(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: initial connect: %w", err)
	}
	c.cfg = cfg
	c.setState(StateConnected)
	c.log.Info("pipeline: source connected", "config", cfg.String())

	viewErr := make(chan error, 1)
	if c.viewer != nil {
		if err := c.viewer.Open(cfg); err != nil {
			c.src.Disconnect()
			c.setState(StateDisconnected)
			return fmt.Errorf("pipeline: open viewer: %w", err)
		}
		vctx, vcancel := context.WithCancel(context.Background())
		defer vcancel()
		go func() { viewErr <- c.viewer.Run(vctx) }()
	}

	faults := make(chan error, 1)
	c.startCapture(faults)

	defer func() {
		c.stopCapture()
		if c.viewer != nil {
			c.viewer.Close()
		}
		c.src.Disconnect()
		c.setState(StateDisconnected)
	}()

	for {
		select {
		case <-ctx.Done():
			c.shutdownRecording(ctx)
			return ctx.Err()

		case cmd := <-c.commands:
			if quit := c.handleCommand(ctx, cmd, faults); quit {
				return nil
			}

		case err := <-faults:
			if rerr := c.handleFault(ctx, err, faults); rerr != nil {
				return rerr
			}

		case err := <-viewErr:
			c.log.Warn("pipeline: viewer stopped, shutting down", "error", err)
			c.shutdownRecording(ctx)
			return nil
		}
	}
}

// startCapture begins a capture epoch: one goroutine pulling frames from
// the source into the preview buffer and the recorder.
func (c *Controller) startCapture(faults chan<- error) {
	capCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.capCancel = cancel
	c.capDone = done

	go func() {
		defer close(done)
		for {
			f, err := c.src.NextFrame(capCtx)
			if err != nil {
				if capCtx.Err() != nil {
					return
				}
				select {
				case faults <- err:
				default:
				}
				return
			}

			c.buf.Push(f)
			if c.metrics != nil {
				c.metrics.IncFramesCaptured()
			}

			if err := c.rec.WriteFrame(f); err != nil {
				c.log.Error("pipeline: frame write failed", "seq", f.Seq, "error", err)
			} else if c.metrics != nil && c.State() == StateRecording {
				c.metrics.IncFramesWritten()
			}
		}
	}()
}

// stopCapture ends the current capture epoch and joins its goroutine.
func (c *Controller) stopCapture() {
	if c.capCancel == nil {
		return
	}
	c.capCancel()
	<-c.capDone
	c.capCancel = nil
	c.capDone = nil
}

func (c *Controller) handleCommand(ctx context.Context, cmd preview.Command, faults chan error) (quit bool) {
	c.log.Debug("pipeline: command received", "command", cmd.String())

	switch cmd {
	case preview.CommandToggleRecording:
		c.toggleRecording(ctx)

	case preview.CommandScreenshot:
		if c.viewer == nil {
			return false
		}
		path, err := c.viewer.Screenshot()
		if err != nil {
			c.log.Warn("pipeline: screenshot failed", "error", err)
			return false
		}
		if c.metrics != nil {
			c.metrics.IncScreenshots()
		}
		c.log.Info("pipeline: screenshot taken", "path", path)

	case preview.CommandToggleFullscreen:
		if c.viewer != nil {
			c.viewer.ToggleFullscreen()
		}

	case preview.CommandResetConnection:
		c.log.Info("pipeline: connection reset requested")
		if err := c.recycleConnection(ctx, faults); err != nil {
			c.log.Error("pipeline: reset failed", "error", err)
			return true
		}

	case preview.CommandQuit:
		c.log.Info("pipeline: quit requested")
		c.shutdownRecording(ctx)
		return true
	}
	return false
}

// handleFault reacts to a broken stream: finalize any active recording so
// captured frames survive, then rebuild the connection within the retry
// budget. A spent budget ends the pipeline with an error.
func (c *Controller) handleFault(ctx context.Context, cause error, faults chan error) error {
	c.log.Error("pipeline: stream fault", "error", cause)

	if err := c.recycleConnection(ctx, faults); err != nil {
		return fmt.Errorf("pipeline: reconnect after fault: %w", err)
	}
	return nil
}

// recycleConnection tears down the capture epoch and source, then
// reconnects with bounded retries and starts a fresh epoch.
func (c *Controller) recycleConnection(ctx context.Context, faults chan error) error {
	c.shutdownRecording(ctx)
	c.stopCapture()
	c.src.Disconnect()
	c.setState(StateDisconnected)

	// Drain a fault the dying epoch may have posted concurrently.
	select {
	case <-faults:
	default:
	}

	onAttempt := func() {
		if c.metrics != nil {
			c.metrics.IncReconnects()
		}
	}
	err := RunWithReconnect(ctx, func(ctx context.Context) error {
		cfg, err := c.src.Connect(ctx)
		if err != nil {
			return err
		}
		c.cfg = cfg
		return nil
	}, c.reconnect, c.log, onAttempt)
	if err != nil {
		return err
	}

	c.setState(StateConnected)
	c.log.Info("pipeline: source reconnected", "config", c.cfg.String())
	c.startCapture(faults)
	return nil
}

// toggleRecording starts or stops a session. Failures keep the pipeline in
// its current state; a merge failure is reported but the session still ends.
func (c *Controller) toggleRecording(ctx context.Context) {
	if c.rec.Recording() {
		c.finishRecording(ctx)
		return
	}

	if _, err := c.rec.Start(c.cfg); err != nil {
		if errors.Is(err, recorder.ErrSinkInit) {
			c.log.Error("pipeline: cannot start recording", "error", err)
			return
		}
		c.log.Error("pipeline: recording start rejected", "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.IncRecordings()
	}
	c.setState(StateRecording)
}

// finishRecording stops the active session and returns to Connected.
func (c *Controller) finishRecording(ctx context.Context) {
	res, err := c.rec.Stop(ctx)
	if err != nil {
		var merr *recorder.MergeError
		if errors.As(err, &merr) {
			c.log.Error("pipeline: recording saved without audio merge",
				"video", merr.VideoPath,
				"audio", merr.AudioPath,
				"error", merr.Err,
			)
		} else {
			c.log.Error("pipeline: stop recording", "error", err)
		}
	} else {
		c.log.Info("pipeline: recording finished",
			"path", res.FinalPath,
			"frames", res.FramesWritten,
			"video_only", res.VideoOnly,
		)
	}
	c.setState(StateConnected)
}

// shutdownRecording finalizes any active session during teardown so no
// captured frames are lost.
func (c *Controller) shutdownRecording(ctx context.Context) {
	if !c.rec.Recording() {
		return
	}
	c.finishRecording(ctx)
}

// Stats snapshots buffer counters for periodic logging or scrapes.
func (c *Controller) Stats() framebuffer.Stats {
	return c.buf.Stats()
}
