package source

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/tinyzimmer/go-gst/gst"
)

// NewDeviceSource returns a FrameSource reading from a local capture device
// (USB or Continuity camera) identified by index.
//
// Pipeline: <platform src> → videoconvert → videoscale → videorate →
// capsfilter(RGB, hints) → appsink.
func NewDeviceSource(index int, hints Hints, log *slog.Logger) FrameSource {
	name := fmt.Sprintf("device[%d]", index)
	return newGstSource(name, hints, func(h Hints) (*pipelineParts, error) {
		return buildDevicePipeline(index, h)
	}, log)
}

func buildDevicePipeline(index int, hints Hints) (*pipelineParts, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := newPlatformVideoSrc(index)
	if err != nil {
		return nil, err
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
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
	if hints.BufferDepth > 0 {
		appsink.SetProperty("max-buffers", hints.BufferDepth)
	}

	if err := pipeline.AddMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link elements: %w", err)
	}

	return &pipelineParts{pipeline: pipeline, appsink: appsink}, nil
}

// newPlatformVideoSrc picks the capture element for the host platform.
// Device hints (resolution/fps) are applied downstream via the capsfilter;
// the element itself only needs the device identity.
func newPlatformVideoSrc(index int) (*gst.Element, error) {
	switch runtime.GOOS {
	case "darwin":
		src, err := gst.NewElement("avfvideosrc")
		if err != nil {
			return nil, fmt.Errorf("failed to create avfvideosrc: %w", err)
		}
		src.SetProperty("device-index", index)
		return src, nil
	default:
		src, err := gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", fmt.Sprintf("/dev/video%d", index))
		return src, nil
	}
}
