package recorder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
)

// VideoSink accepts frames at a fixed resolution/fps, appended in order,
// and produces a container file on Close.
type VideoSink interface {
	Write(f frame.Frame) error
	Close() error
}

// SinkFactory opens a VideoSink writing to path with the given stream
// configuration. The factory seam lets tests substitute a fake sink.
type SinkFactory func(path string, cfg frame.StreamConfig) (VideoSink, error)

// gstVideoSink encodes RGB frames to an MP4 file.
//
// Pipeline: appsrc → videoconvert → x264enc → mp4mux → filesink.
type gstVideoSink struct {
	pipeline *gst.Pipeline
	appsrc   *app.Source
	log      *slog.Logger
	closed   bool
}

// NewGstSinkFactory returns a SinkFactory backed by a GStreamer H.264/MP4
// encoding pipeline.
func NewGstSinkFactory(log *slog.Logger) SinkFactory {
	if log == nil {
		log = slog.Default()
	}
	return func(path string, cfg frame.StreamConfig) (VideoSink, error) {
		return newGstVideoSink(path, cfg, log)
	}
}

func newGstVideoSink(path string, cfg frame.StreamConfig, log *slog.Logger) (*gstVideoSink, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsrc: %w", err)
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	caps := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		cfg.Width, cfg.Height, int(fps))
	appsrc.SetCaps(gst.NewCapsFromString(caps))
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("do-timestamp", true)
	appsrc.SetProperty("format", 3) // GST_FORMAT_TIME

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	encoder, err := gst.NewElement("x264enc")
	if err != nil {
		return nil, fmt.Errorf("failed to create x264enc: %w", err)
	}
	// Real-time encode on the capture thread's cadence: no lookahead,
	// no B-frames.
	encoder.SetProperty("speed-preset", 1) // ultrafast
	encoder.SetProperty("tune", 4)         // zerolatency

	muxer, err := gst.NewElement("mp4mux")
	if err != nil {
		return nil, fmt.Errorf("failed to create mp4mux: %w", err)
	}

	filesink, err := gst.NewElement("filesink")
	if err != nil {
		return nil, fmt.Errorf("failed to create filesink: %w", err)
	}
	filesink.SetProperty("location", path)

	if err := pipeline.AddMany(appsrc.Element, converter, encoder, muxer, filesink); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(appsrc.Element, converter, encoder, muxer, filesink); err != nil {
		return nil, fmt.Errorf("failed to link elements: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start encode pipeline: %w", err)
	}

	log.Debug("recorder: video sink opened", "path", path, "caps", caps)
	return &gstVideoSink{pipeline: pipeline, appsrc: appsrc, log: log}, nil
}

// Write appends one frame to the encoder. Safe to call at capture-thread
// cadence; the encoder consumes buffers without unbounded queuing.
func (s *gstVideoSink) Write(f frame.Frame) error {
	if s.closed {
		return fmt.Errorf("video sink is closed")
	}
	buffer := gst.NewBufferFromBytes(f.Data)
	if ret := s.appsrc.PushBuffer(buffer); ret != gst.FlowOK {
		return fmt.Errorf("appsrc push failed: %v", ret)
	}
	return nil
}

// Close sends EOS, waits for the muxer to finalize the container, and
// releases the pipeline. The MP4 moov atom is only written on EOS, so the
// wait matters: killing the pipeline early produces an unplayable file.
func (s *gstVideoSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.appsrc.EndStream()

	bus := s.pipeline.GetPipelineBus()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		if msg.Type() == gst.MessageEOS {
			break
		}
		if msg.Type() == gst.MessageError {
			gerr := msg.ParseError()
			s.pipeline.SetState(gst.StateNull)
			return fmt.Errorf("encode pipeline error: %s", gerr.Error())
		}
	}

	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop encode pipeline: %w", err)
	}
	return nil
}
