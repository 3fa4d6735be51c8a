package source

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
)

// NewRTSPSource returns a FrameSource consuming an already-established RTSP
// stream at url.
//
// Pipeline: rtspsrc → rtph264depay → avdec_h264 → videoconvert →
// videoscale → videorate → capsfilter(RGB, hints) → appsink.
// TCP-only transport; rtspsrc pads are dynamic and linked on pad-added.
func NewRTSPSource(url string, hints Hints, log *slog.Logger) FrameSource {
	return newGstSource("rtsp", hints, func(h Hints) (*pipelineParts, error) {
		return buildRTSPPipeline(url, h, log)
	}, log)
}

func buildRTSPPipeline(url string, hints Hints, log *slog.Logger) (*pipelineParts, error) {
	if url == "" {
		return nil, fmt.Errorf("rtsp url is required")
	}
	if log == nil {
		log = slog.Default()
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", url)
	rtspsrc.SetProperty("protocols", 4) // TCP only
	rtspsrc.SetProperty("latency", 200)
	rtspsrc.SetProperty("tcp-timeout", uint64(10000000)) // 10s

	depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtph264depay: %w", err)
	}
	depay.SetProperty("request-keyframe", true)

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return nil, fmt.Errorf("failed to create avdec_h264: %w", err)
	}
	decoder.SetProperty("max-threads", 0)
	decoder.SetProperty("output-corrupt", false)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rgbCaps(hints)))

	appsink, err := newAppSink()
	if err != nil {
		return nil, err
	}

	if err := pipeline.AddMany(rtspsrc, depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	// rtspsrc has dynamic pads; everything downstream of the depayloader is
	// linked statically.
	if err := gst.ElementLinkMany(depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link elements: %w", err)
	}

	rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil {
			log.Error("source: failed to get depayloader sink pad")
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			log.Error("source: failed to link rtspsrc pad",
				"src_pad", srcPad.GetName(),
				"ret", ret,
			)
			return
		}
		log.Debug("source: rtspsrc pad linked", "src_pad", srcPad.GetName())
	})

	return &pipelineParts{pipeline: pipeline, appsink: appsink}, nil
}
