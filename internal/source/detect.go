package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
)

// maxProbeIndex bounds the device probe range.
const maxProbeIndex = 10

// DeviceInfo describes one probed capture device.
type DeviceInfo struct {
	// Index is the local device index
	Index int
	// Config is the negotiated stream configuration at probe time
	Config frame.StreamConfig
}

// ListDevices probes device indices 0..9 and reports the ones that opened
// and delivered a negotiated configuration.
func ListDevices(ctx context.Context, log *slog.Logger) []DeviceInfo {
	var devices []DeviceInfo

	for index := 0; index < maxProbeIndex; index++ {
		cfg, ok := probeDevice(ctx, index, log)
		if !ok {
			continue
		}
		devices = append(devices, DeviceInfo{Index: index, Config: cfg})
	}
	return devices
}

// Detect runs the discovery strategy once at startup: probe increasing
// indices and prefer the first high-resolution device (external cameras
// negotiate at or above 1080p; built-in webcams usually do not). Falls back
// to the first device that opened at all.
//
// Detection is not re-run on reconnect unless the operator asks for it.
func Detect(ctx context.Context, log *slog.Logger) (int, error) {
	first := -1

	for index := 0; index < maxProbeIndex; index++ {
		cfg, ok := probeDevice(ctx, index, log)
		if !ok {
			continue
		}
		if first < 0 {
			first = index
		}
		if cfg.Width >= 1920 || cfg.Height >= 1080 {
			log.Info("source: high-resolution device selected",
				"index", index,
				"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			)
			return index, nil
		}
	}

	if first < 0 {
		return 0, fmt.Errorf("%w: no capture device found", ErrConnect)
	}
	log.Info("source: no high-resolution device, using first available", "index", first)
	return first, nil
}

func probeDevice(ctx context.Context, index int, log *slog.Logger) (frame.StreamConfig, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	src := NewDeviceSource(index, DefaultHints(), log)
	cfg, err := src.Connect(probeCtx)
	if err != nil {
		return frame.StreamConfig{}, false
	}
	defer src.Disconnect()

	log.Debug("source: probe succeeded",
		"index", index,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
	)
	return cfg, true
}
