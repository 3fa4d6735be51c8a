package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
)

// frameChanDepth is the source-side buffer between the GStreamer callback
// and NextFrame. Small on purpose: the callback drops rather than queues.
const frameChanDepth = 10

// pipelineParts holds the GStreamer elements a source needs after build time.
type pipelineParts struct {
	pipeline *gst.Pipeline
	appsink  *app.Sink
}

// buildFunc constructs a configured (but not yet playing) capture pipeline.
type buildFunc func(hints Hints) (*pipelineParts, error)

// Stats contains counters for one source connection.
type Stats struct {
	// FramesCaptured is the number of frames delivered by the pipeline
	FramesCaptured uint64
	// FramesDropped is the number of frames dropped because NextFrame lagged
	FramesDropped uint64
	// BytesRead is the total decoded bytes pulled from the appsink
	BytesRead uint64
}

// gstSource is the shared GStreamer-backed FrameSource core. The device and
// RTSP variants differ only in the pipeline they build.
type gstSource struct {
	name  string
	hints Hints
	build buildFunc
	log   *slog.Logger

	mu         sync.RWMutex
	parts      *pipelineParts
	negotiated frame.StreamConfig
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	frames     chan frame.Frame
	faults     chan error

	seq       uint64
	dropped   uint64
	bytesRead uint64
}

func newGstSource(name string, hints Hints, build buildFunc, log *slog.Logger) *gstSource {
	if log == nil {
		log = slog.Default()
	}
	return &gstSource{name: name, hints: hints, build: build, log: log}
}

// Connect builds the pipeline, brings it to PLAYING, and starts the bus
// monitor. The passed context bounds the connect attempt only; the stream
// itself lives until Disconnect.
func (s *gstSource) Connect(ctx context.Context) (frame.StreamConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parts != nil {
		return frame.StreamConfig{}, fmt.Errorf("%w: %s already connected", ErrConnect, s.name)
	}

	parts, err := s.build(s.hints)
	if err != nil {
		return frame.StreamConfig{}, fmt.Errorf("%w: %s: %v", ErrConnect, s.name, err)
	}

	s.parts = parts
	s.frames = make(chan frame.Frame, frameChanDepth)
	s.faults = make(chan error, 1)
	s.seq = 0

	parts.appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := parts.pipeline.SetState(gst.StatePlaying); err != nil {
		s.teardownLocked()
		return frame.StreamConfig{}, fmt.Errorf("%w: %s: failed to start pipeline: %v", ErrConnect, s.name, err)
	}

	// Wait for the pipeline to leave the READY state before declaring the
	// connection negotiated. A connect error on the bus here means the
	// device is unavailable, not a mid-stream fault.
	if err := s.waitPlaying(ctx, parts); err != nil {
		s.teardownLocked()
		return frame.StreamConfig{}, fmt.Errorf("%w: %s: %v", ErrConnect, s.name, err)
	}

	s.negotiated = s.readNegotiatedLocked()

	monCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.monitorBus(monCtx, parts)

	s.log.Info("source: connected",
		"source", s.name,
		"resolution", fmt.Sprintf("%dx%d", s.negotiated.Width, s.negotiated.Height),
		"fps", s.negotiated.FPS,
	)

	return s.negotiated, nil
}

// waitPlaying blocks until the pipeline reports PLAYING, a bus error
// arrives, or the connect context/timeout expires.
func (s *gstSource) waitPlaying(ctx context.Context, parts *pipelineParts) error {
	bus := parts.pipeline.GetPipelineBus()
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("pipeline error [%s]: %s", Classify(gerr.Error()), gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() == parts.pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					return nil
				}
			}
		}
	}

	// Some sources reach PLAYING without a bus message we observe in time;
	// treat an expired wait as success and let the bus monitor catch real
	// faults. Frames simply arrive asynchronously.
	return nil
}

// NextFrame blocks until the pipeline delivers a frame or faults.
func (s *gstSource) NextFrame(ctx context.Context) (frame.Frame, error) {
	s.mu.RLock()
	frames, faults := s.frames, s.faults
	connected := s.parts != nil
	s.mu.RUnlock()

	if !connected {
		return frame.Frame{}, ErrNotConnected
	}

	select {
	case f := <-frames:
		return f, nil
	case err := <-faults:
		return frame.Frame{}, err
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

// Disconnect stops the bus monitor and releases the pipeline. Idempotent.
// The monitor join happens outside the lock: the monitor and the sample
// callback both take read locks, so waiting under the write lock would
// stall them.
func (s *gstSource) Disconnect() error {
	s.mu.Lock()
	if s.parts == nil {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait for the monitor goroutine, bounded so a wedged bus cannot hang
	// shutdown.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		s.log.Warn("source: disconnect timeout exceeded", "source", s.name)
	}

	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()

	s.log.Info("source: disconnected",
		"source", s.name,
		"frames_captured", atomic.LoadUint64(&s.seq),
		"frames_dropped", atomic.LoadUint64(&s.dropped),
	)
	return nil
}

// Config returns the negotiated stream configuration.
func (s *gstSource) Config() frame.StreamConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.negotiated
}

// Stats returns counters for the current connection.
func (s *gstSource) Stats() Stats {
	return Stats{
		FramesCaptured: atomic.LoadUint64(&s.seq),
		FramesDropped:  atomic.LoadUint64(&s.dropped),
		BytesRead:      atomic.LoadUint64(&s.bytesRead),
	}
}

func (s *gstSource) teardownLocked() {
	if s.parts != nil && s.parts.pipeline != nil {
		if err := s.parts.pipeline.SetState(gst.StateNull); err != nil {
			s.log.Error("source: failed to stop pipeline", "source", s.name, "error", err)
		}
	}
	s.parts = nil
}

// onNewSample runs on the GStreamer streaming thread. It copies the frame
// out of the volatile buffer and hands it to NextFrame via a non-blocking
// send: when the consumer lags, frames are dropped here, never queued.
func (s *gstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single bad sample should not kill the stream.
		s.log.Warn("source: failed to pull sample, skipping frame", "source", s.name)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		s.log.Warn("source: sample without buffer, skipping frame", "source", s.name)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		s.log.Warn("source: empty buffer received", "source", s.name)
		return gst.FlowOK
	}

	// Copy out: GStreamer reuses the buffer after we return.
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := atomic.AddUint64(&s.seq, 1)
	atomic.AddUint64(&s.bytesRead, uint64(len(frameData)))

	s.mu.RLock()
	cfg := s.negotiated
	frames := s.frames
	s.mu.RUnlock()

	f := frame.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     cfg.Width,
		Height:    cfg.Height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	select {
	case frames <- f:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}

	return gst.FlowOK
}

// sendFault delivers a stream-level fault to NextFrame. Buffered at 1; a
// second fault before the first is consumed carries no extra information.
func (s *gstSource) sendFault(err error) {
	s.mu.RLock()
	faults := s.faults
	s.mu.RUnlock()

	select {
	case faults <- err:
	default:
	}
}

// monitorBus watches the pipeline bus and converts errors/EOS into faults
// surfaced by NextFrame. Exits on context cancellation or the first fault.
func (s *gstSource) monitorBus(ctx context.Context, parts *pipelineParts) {
	defer s.wg.Done()

	bus := parts.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Short poll keeps shutdown responsive with no bus traffic.
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			s.log.Info("source: end of stream", "source", s.name)
			s.sendFault(io.EOF)
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			category := Classify(gerr.Error())
			s.log.Error("source: pipeline error",
				"source", s.name,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
			)
			s.sendFault(fmt.Errorf("%w: [%s] %s", ErrRead, category, gerr.Error()))
			return

		case gst.MessageStateChanged:
			if msg.Source() == parts.pipeline.GetName() {
				old, newState := msg.ParseStateChanged()
				s.log.Debug("source: pipeline state changed", "source", s.name, "from", old, "to", newState)
			}
		}
	}
}

// readNegotiatedLocked inspects the appsink pad caps for the actual stream
// parameters, falling back to the request hints where caps are unavailable.
func (s *gstSource) readNegotiatedLocked() frame.StreamConfig {
	cfg := frame.StreamConfig{Width: s.hints.Width, Height: s.hints.Height, FPS: s.hints.FPS}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}

	pad := s.parts.appsink.Element.GetStaticPad("sink")
	if pad == nil {
		return cfg
	}
	caps := pad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return cfg
	}
	st := caps.GetStructureAt(0)
	if st == nil {
		return cfg
	}

	if v, err := st.GetValue("width"); err == nil {
		if w, ok := v.(int); ok && w > 0 {
			cfg.Width = w
		}
	}
	if v, err := st.GetValue("height"); err == nil {
		if h, ok := v.(int); ok && h > 0 {
			cfg.Height = h
		}
	}
	return cfg
}

// rgbCaps builds the appsink caps string carrying the request hints.
func rgbCaps(hints Hints) string {
	fps := hints.FPS
	if fps <= 0 {
		fps = 30
	}
	num, den := 1, 1
	if fps < 1.0 {
		den = int(1.0 / fps)
	} else {
		num = int(fps)
	}
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d",
		hints.Width, hints.Height, num, den)
}

// newAppSink creates the pipeline's terminal appsink, tuned for real-time
// capture: no clock sync, keep only the latest frame, drop stale ones.
func newAppSink() (*app.Sink, error) {
	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)
	appsink.SetProperty("qos", true)
	return appsink, nil
}
