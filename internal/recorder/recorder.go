// Package recorder persists the capture stream to disk: video frames go to
// an encoder sink synchronously on the capture thread (lossless, unlike the
// preview path), audio chunks accumulate in a session-scoped task, and the
// two are muxed by an external tool after stop.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
)

var (
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("recorder: already recording")

	// ErrNotRecording is returned by Stop with no active session.
	ErrNotRecording = errors.New("recorder: not recording")

	// ErrSinkInit is returned by Start when the video sink cannot be
	// opened; the pipeline stays Connected and the operator is notified.
	ErrSinkInit = errors.New("recorder: video sink init failed")
)

// MergeError reports a failed audio/video merge. Non-fatal: both temp files
// are preserved and their paths carried here, never silently dropped.
type MergeError struct {
	VideoPath string
	AudioPath string
	Err       error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("recorder: merge failed, video saved separately from audio (video=%s audio=%s): %v",
		e.VideoPath, e.AudioPath, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// Session describes one active recording, from start to stop.
// At most one Session exists at a time.
type Session struct {
	// ID uniquely identifies the session
	ID string
	// StartedAt is the wall-clock start time
	StartedAt time.Time
	// FinalPath is where the finished recording lands
	FinalPath string
	// TempVideoPath is the in-progress video container
	TempVideoPath string
	// TempAudioPath is the flushed audio segment (absent when video-only)
	TempAudioPath string
	// AudioEnabled reports whether the audio task is live
	AudioEnabled bool

	sink          VideoSink
	audio         *audioTask
	framesWritten atomic.Uint64
}

// FramesWritten returns the number of frames appended so far.
func (s *Session) FramesWritten() uint64 { return s.framesWritten.Load() }

// Result summarizes a stopped session.
type Result struct {
	// FinalPath is the finished recording (empty after a merge failure)
	FinalPath string
	// VideoOnly is true when no audio made it into the recording
	VideoOnly bool
	// FramesWritten is the total frame count persisted
	FramesWritten uint64
	// AudioChunks is the number of PCM chunks collected
	AudioChunks int
}

// Recorder owns the output sink lifecycle. Construct once, reuse across
// sessions.
type Recorder struct {
	outputDir string
	newSink   SinkFactory
	audio     AudioSource // nil = video-only pipeline
	merge     MergeFunc
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	session *Session

	skipped atomic.Uint64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithAudio attaches an audio source; without it sessions record video only.
func WithAudio(src AudioSource) Option {
	return func(r *Recorder) { r.audio = src }
}

// WithMerge overrides the external merge step (tests, alternate muxers).
func WithMerge(m MergeFunc) Option {
	return func(r *Recorder) { r.merge = m }
}

// WithClock overrides the timestamp source for deterministic file names.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a Recorder writing into outputDir via the given sink factory.
func New(outputDir string, newSink SinkFactory, log *slog.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		outputDir: outputDir,
		newSink:   newSink,
		merge:     FFmpegMerge,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Session returns the active session, or nil.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Start opens a new recording session at the negotiated configuration.
// Fails with ErrAlreadyRecording if a session is active, or ErrSinkInit if
// the video sink cannot be opened. Audio init failure is absorbed: the
// session proceeds video-only.
func (r *Recorder) Start(cfg frame.StreamConfig) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return nil, ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkInit, err)
	}

	ts := r.now().Format("20060102_150405")
	s := &Session{
		ID:            uuid.New().String(),
		StartedAt:     r.now(),
		TempVideoPath: filepath.Join(r.outputDir, "temp_video_"+ts+".mp4"),
		TempAudioPath: filepath.Join(r.outputDir, "temp_audio_"+ts+".wav"),
		FinalPath:     filepath.Join(r.outputDir, "recording_"+ts+".mp4"),
	}

	sink, err := r.newSink(s.TempVideoPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkInit, err)
	}
	s.sink = sink

	if r.audio != nil {
		task := newAudioTask(r.audio)
		if err := task.start(); err != nil {
			// Degrade to video-only; never block video capture on audio.
			r.log.Warn("recorder: audio init failed, recording video only",
				"session", s.ID, "error", err)
		} else {
			s.audio = task
			s.AudioEnabled = true
		}
	}

	r.session = s
	r.log.Info("recorder: recording started",
		"session", s.ID,
		"output", s.FinalPath,
		"audio", s.AudioEnabled,
		"config", cfg.String(),
	)
	return s, nil
}

// WriteFrame appends a frame to the open video sink. A counted no-op when
// idle. Holds the recorder lock for exactly one sink write, so Stop can
// never race a write against sink finalization.
func (r *Recorder) WriteFrame(f frame.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		r.skipped.Add(1)
		return nil
	}
	if err := r.session.sink.Write(f); err != nil {
		return fmt.Errorf("recorder: write frame %d: %w", f.Seq, err)
	}
	r.session.framesWritten.Add(1)
	return nil
}

// SkippedFrames returns the number of frames offered while no session was
// active.
func (r *Recorder) SkippedFrames() uint64 { return r.skipped.Load() }

// Stop finalizes the active session: close the video sink, join the audio
// task, then either merge (audio collected), or rename the temp video into
// place (no audio). Merge failure is non-fatal and returns *MergeError with
// both temp files preserved.
//
// The session is detached before finalization so capture and preview loops
// observe "not recording" immediately and are never blocked by the merge.
func (r *Recorder) Stop(ctx context.Context) (Result, error) {
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()

	if s == nil {
		return Result{}, ErrNotRecording
	}

	res := Result{}

	closeErr := s.sink.Close()

	// Join the audio task before touching files: a truncated segment must
	// never be flushed.
	var chunks [][]byte
	if s.audio != nil {
		chunks = s.audio.finish()
	}
	res.FramesWritten = s.framesWritten.Load()
	res.AudioChunks = len(chunks)

	if closeErr != nil {
		return res, fmt.Errorf("recorder: close video sink: %w", closeErr)
	}

	if len(chunks) == 0 {
		// Video-only: content-preserving rename, no audio temp remains.
		if err := os.Rename(s.TempVideoPath, s.FinalPath); err != nil {
			return res, fmt.Errorf("recorder: finalize video: %w", err)
		}
		res.FinalPath = s.FinalPath
		res.VideoOnly = true
		r.log.Info("recorder: recording saved (video only)",
			"session", s.ID,
			"path", s.FinalPath,
			"frames", res.FramesWritten,
		)
		return res, nil
	}

	if err := writeWAV(s.TempAudioPath, chunks); err != nil {
		// Audio lost but video salvageable: fall back to video-only.
		r.log.Error("recorder: audio flush failed, saving video only",
			"session", s.ID, "error", err)
		if renameErr := os.Rename(s.TempVideoPath, s.FinalPath); renameErr != nil {
			return res, fmt.Errorf("recorder: finalize video after audio failure: %w", renameErr)
		}
		res.FinalPath = s.FinalPath
		res.VideoOnly = true
		return res, nil
	}

	r.log.Info("recorder: merging audio and video",
		"session", s.ID,
		"video", s.TempVideoPath,
		"audio", s.TempAudioPath,
	)
	if err := r.merge(ctx, s.TempVideoPath, s.TempAudioPath, s.FinalPath); err != nil {
		merr := &MergeError{VideoPath: s.TempVideoPath, AudioPath: s.TempAudioPath, Err: err}
		r.log.Error("recorder: merge failed, temp files preserved",
			"session", s.ID,
			"video", s.TempVideoPath,
			"audio", s.TempAudioPath,
			"error", err,
		)
		return res, merr
	}

	if err := os.Remove(s.TempVideoPath); err != nil && !os.IsNotExist(err) {
		r.log.Warn("recorder: failed to remove temp video",
			"session", s.ID, "path", s.TempVideoPath, "error", err)
	}
	if err := os.Remove(s.TempAudioPath); err != nil && !os.IsNotExist(err) {
		r.log.Warn("recorder: failed to remove temp audio",
			"session", s.ID, "path", s.TempAudioPath, "error", err)
	}
	res.FinalPath = s.FinalPath

	r.log.Info("recorder: recording saved",
		"session", s.ID,
		"path", s.FinalPath,
		"frames", res.FramesWritten,
		"audio_chunks", res.AudioChunks,
	)
	return res, nil
}
