package recorder

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// Audio capture settings: mono 16-bit PCM at 44.1 kHz by convention.
const (
	audioSampleRate = 44100
	audioChannels   = 1
	audioPeriod     = 1024 // frames per chunk
)

// AudioSource yields fixed-size PCM chunks from an audio input handle.
// Start delivers chunks to onChunk until Stop; both are called at most once
// per recording session.
type AudioSource interface {
	Start(onChunk func([]byte)) error
	Stop() error
}

// MalgoSource captures from the system's default input device via miniaudio.
type MalgoSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	log    *slog.Logger
}

// NewMalgoSource initializes the audio backend. Returns an error when no
// audio subsystem is available; callers degrade to video-only recording.
func NewMalgoSource(log *slog.Logger) (*MalgoSource, error) {
	if log == nil {
		log = slog.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("recorder: audio context init: %w", err)
	}
	return &MalgoSource{ctx: ctx, log: log}, nil
}

// Start opens the capture device and begins delivering PCM chunks.
// Each chunk is copied out of miniaudio's volatile buffer before delivery.
func (m *MalgoSource) Start(onChunk func([]byte)) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = audioChannels
	cfg.SampleRate = audioSampleRate
	cfg.PeriodSizeInFrames = audioPeriod
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if frameCount == 0 {
				return
			}
			chunk := make([]byte, len(pInput))
			copy(chunk, pInput)
			onChunk(chunk)
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("recorder: audio device init: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("recorder: audio device start: %w", err)
	}

	m.device = device
	m.log.Info("recorder: audio capture started",
		"sample_rate", audioSampleRate,
		"channels", audioChannels,
	)
	return nil
}

// Stop halts chunk delivery and releases the capture device. Idempotent.
func (m *MalgoSource) Stop() error {
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	return nil
}

// Close releases the audio backend. Call once at process shutdown.
func (m *MalgoSource) Close() {
	m.Stop()
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}

// audioTask is the session-scoped accumulator for PCM chunks. The audio
// backend's callback thread is the concurrent producer; chunks are appended
// under the mutex in callback order, so the flushed segment preserves
// arrival order exactly. Memory use is bounded by the recording length.
type audioTask struct {
	src AudioSource

	mu     sync.Mutex
	chunks [][]byte
}

func newAudioTask(src AudioSource) *audioTask {
	return &audioTask{src: src}
}

// start begins capture; chunks accumulate until finish.
func (t *audioTask) start() error {
	return t.src.Start(t.append)
}

// append runs on the audio backend's callback thread. It takes only the
// mutex and never blocks on I/O, so the backend is never stalled.
func (t *audioTask) append(chunk []byte) {
	t.mu.Lock()
	t.chunks = append(t.chunks, chunk)
	t.mu.Unlock()
}

// finish stops capture and returns the accumulated segment in arrival
// order. Stop halts chunk delivery before returning, so the snapshot is
// complete and never truncated.
func (t *audioTask) finish() [][]byte {
	_ = t.src.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunks
}
