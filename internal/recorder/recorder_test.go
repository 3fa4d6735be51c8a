package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
)

// fileSink is a VideoSink writing raw frame bytes to the target path, so
// tests can observe real temp files without GStreamer.
type fileSink struct {
	f *os.File
}

func newFileSinkFactory() SinkFactory {
	return func(path string, cfg frame.StreamConfig) (VideoSink, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		return &fileSink{f: f}, nil
	}
}

func (s *fileSink) Write(f frame.Frame) error {
	_, err := s.f.Write(f.Data)
	return err
}

func (s *fileSink) Close() error { return s.f.Close() }

// fakeAudio delivers scripted chunks when the session's audio task starts.
type fakeAudio struct {
	chunks  [][]byte
	failure error
	stopped bool
}

func (a *fakeAudio) Start(onChunk func([]byte)) error {
	if a.failure != nil {
		return a.failure
	}
	for _, c := range a.chunks {
		onChunk(c)
	}
	return nil
}

func (a *fakeAudio) Stop() error {
	a.stopped = true
	return nil
}

func testConfig() frame.StreamConfig {
	return frame.StreamConfig{Width: 8, Height: 8, FPS: 30}
}

func testFrame(seq uint64) frame.Frame {
	return frame.Frame{Seq: seq, Timestamp: time.Now(), Width: 8, Height: 8, Data: make([]byte, 8*8*3)}
}

// TestIdleWritesAreCountedNoOps verifies frames pushed while not recording
// produce no writes and no output file.
func TestIdleWritesAreCountedNoOps(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, newFileSinkFactory(), nil)

	for seq := uint64(1); seq <= 10; seq++ {
		if err := r.WriteFrame(testFrame(seq)); err != nil {
			t.Fatalf("WriteFrame while idle: %v", err)
		}
	}

	if got := r.SkippedFrames(); got != 10 {
		t.Errorf("expected 10 skipped frames, got %d", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty output dir, found %d entries", len(entries))
	}
}

// TestSecondStartRejected verifies at most one session exists at a time.
func TestSecondStartRejected(t *testing.T) {
	r := New(t.TempDir(), newFileSinkFactory(), nil)

	first, err := r.Start(testConfig())
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	if _, err := r.Start(testConfig()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}

	if got := r.Session(); got != first {
		t.Error("active session changed after rejected start")
	}
}

// TestSinkInitFailureRejectsStart verifies a failed sink open leaves the
// recorder idle.
func TestSinkInitFailureRejectsStart(t *testing.T) {
	factory := func(path string, cfg frame.StreamConfig) (VideoSink, error) {
		return nil, errors.New("unsupported format")
	}
	r := New(t.TempDir(), factory, nil)

	if _, err := r.Start(testConfig()); !errors.Is(err, ErrSinkInit) {
		t.Fatalf("expected ErrSinkInit, got %v", err)
	}
	if r.Recording() {
		t.Error("recorder should not be recording after sink init failure")
	}
}

// TestStopWithoutAudioRenames verifies a zero-chunk stop is a
// content-preserving rename with no audio temp left behind.
func TestStopWithoutAudioRenames(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, newFileSinkFactory(), nil)

	s, err := r.Start(testConfig())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f := testFrame(1)
	if err := r.WriteFrame(f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	res, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !res.VideoOnly {
		t.Error("expected a video-only result")
	}
	if res.FramesWritten != 1 {
		t.Errorf("expected 1 frame written, got %d", res.FramesWritten)
	}

	data, err := os.ReadFile(res.FinalPath)
	if err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	if len(data) != len(f.Data) {
		t.Errorf("rename did not preserve content: %d bytes vs %d", len(data), len(f.Data))
	}
	if _, err := os.Stat(s.TempVideoPath); !os.IsNotExist(err) {
		t.Error("temp video file survived stop")
	}
	if _, err := os.Stat(s.TempAudioPath); !os.IsNotExist(err) {
		t.Error("audio temp file exists for a session that collected no audio")
	}
}

// TestStopWithAudioMerges verifies both temps exist immediately before the
// merge call and neither survives a successful stop.
func TestStopWithAudioMerges(t *testing.T) {
	dir := t.TempDir()

	var sawVideo, sawAudio bool
	merge := func(ctx context.Context, videoPath, audioPath, outputPath string) error {
		if _, err := os.Stat(videoPath); err == nil {
			sawVideo = true
		}
		if _, err := os.Stat(audioPath); err == nil {
			sawAudio = true
		}
		return os.WriteFile(outputPath, []byte("merged"), 0o644)
	}

	audio := &fakeAudio{chunks: [][]byte{{0x01, 0x00, 0x02, 0x00}}}
	r := New(dir, newFileSinkFactory(), nil, WithAudio(audio), WithMerge(merge))

	s, err := r.Start(testConfig())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.AudioEnabled {
		t.Fatal("expected audio-enabled session")
	}
	r.WriteFrame(testFrame(1))

	res, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !sawVideo || !sawAudio {
		t.Errorf("temp files missing at merge time: video=%v audio=%v", sawVideo, sawAudio)
	}
	if !audio.stopped {
		t.Error("audio source was not stopped")
	}
	if res.AudioChunks != 1 {
		t.Errorf("expected 1 audio chunk, got %d", res.AudioChunks)
	}
	if _, err := os.Stat(res.FinalPath); err != nil {
		t.Errorf("final file missing: %v", err)
	}
	if _, err := os.Stat(s.TempVideoPath); !os.IsNotExist(err) {
		t.Error("temp video survived successful merge")
	}
	if _, err := os.Stat(s.TempAudioPath); !os.IsNotExist(err) {
		t.Error("temp audio survived successful merge")
	}
}

// TestMergeFailurePreservesTemps verifies a failed merge is non-fatal,
// reports MergeError, and leaves both temp files on disk.
func TestMergeFailurePreservesTemps(t *testing.T) {
	dir := t.TempDir()

	merge := func(ctx context.Context, videoPath, audioPath, outputPath string) error {
		return errors.New("exit status 1")
	}
	audio := &fakeAudio{chunks: [][]byte{{0x01, 0x00}}}
	r := New(dir, newFileSinkFactory(), nil, WithAudio(audio), WithMerge(merge))

	s, err := r.Start(testConfig())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.WriteFrame(testFrame(1))

	_, err = r.Stop(context.Background())
	var merr *MergeError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *MergeError, got %v", err)
	}
	if merr.VideoPath != s.TempVideoPath || merr.AudioPath != s.TempAudioPath {
		t.Errorf("MergeError paths mismatch: %+v", merr)
	}
	if _, err := os.Stat(s.TempVideoPath); err != nil {
		t.Error("temp video was not preserved after merge failure")
	}
	if _, err := os.Stat(s.TempAudioPath); err != nil {
		t.Error("temp audio was not preserved after merge failure")
	}
	if r.Recording() {
		t.Error("recorder still recording after failed stop")
	}
}

// TestAudioChunksKeepArrivalOrder verifies a burst of chunks comes back in
// exactly the order delivered; the WAV flush depends on it.
func TestAudioChunksKeepArrivalOrder(t *testing.T) {
	chunks := make([][]byte, 70)
	for i := range chunks {
		chunks[i] = []byte{byte(i), 0x00}
	}

	task := newAudioTask(&fakeAudio{chunks: chunks})
	if err := task.start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	got := task.finish()
	if len(got) != len(chunks) {
		t.Fatalf("expected %d chunks, got %d", len(chunks), len(got))
	}
	for i, c := range got {
		if c[0] != byte(i) {
			t.Fatalf("chunk %d out of order: holds chunk %d", i, c[0])
		}
	}
}

// TestStopToleratesConsumedTemps verifies a merge step that consumes its
// inputs does not fail the stop: missing temps after a successful merge are
// not an error.
func TestStopToleratesConsumedTemps(t *testing.T) {
	dir := t.TempDir()

	merge := func(ctx context.Context, videoPath, audioPath, outputPath string) error {
		if err := os.WriteFile(outputPath, []byte("merged"), 0o644); err != nil {
			return err
		}
		os.Remove(videoPath)
		os.Remove(audioPath)
		return nil
	}
	audio := &fakeAudio{chunks: [][]byte{{0x01, 0x00}}}
	r := New(dir, newFileSinkFactory(), nil, WithAudio(audio), WithMerge(merge))

	if _, err := r.Start(testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.WriteFrame(testFrame(1))

	res, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(res.FinalPath); err != nil {
		t.Errorf("final file missing: %v", err)
	}
	temps, _ := filepath.Glob(filepath.Join(dir, "temp_*"))
	if len(temps) != 0 {
		t.Errorf("temp files left behind: %v", temps)
	}
}

// TestAudioInitFailureDegradesToVideoOnly verifies a broken audio source
// never blocks video recording.
func TestAudioInitFailureDegradesToVideoOnly(t *testing.T) {
	dir := t.TempDir()
	audio := &fakeAudio{failure: errors.New("device busy")}
	r := New(dir, newFileSinkFactory(), nil, WithAudio(audio))

	s, err := r.Start(testConfig())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.AudioEnabled {
		t.Error("session reports audio despite init failure")
	}
	r.WriteFrame(testFrame(1))

	res, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !res.VideoOnly {
		t.Error("expected video-only result")
	}
	if _, err := os.Stat(res.FinalPath); err != nil {
		t.Errorf("final file missing: %v", err)
	}
}

// TestStopWhileIdle verifies Stop without a session reports ErrNotRecording.
func TestStopWhileIdle(t *testing.T) {
	r := New(t.TempDir(), newFileSinkFactory(), nil)
	if _, err := r.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

// TestDeterministicNaming verifies the filesystem layout contract.
func TestDeterministicNaming(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 8, 27, 15, 4, 5, 0, time.UTC)
	r := New(dir, newFileSinkFactory(), nil, WithClock(func() time.Time { return fixed }))

	s, err := r.Start(testConfig())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())

	wantVideo := filepath.Join(dir, "temp_video_20260827_150405.mp4")
	wantFinal := filepath.Join(dir, "recording_20260827_150405.mp4")
	if s.TempVideoPath != wantVideo {
		t.Errorf("temp video path = %s, want %s", s.TempVideoPath, wantVideo)
	}
	if s.FinalPath != wantFinal {
		t.Errorf("final path = %s, want %s", s.FinalPath, wantFinal)
	}
}
