package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
	"github.com/ebowwa/iphone-photobooth/internal/framebuffer"
	"github.com/ebowwa/iphone-photobooth/internal/preview"
	"github.com/ebowwa/iphone-photobooth/internal/recorder"
)

const testWait = 2 * time.Second

// step is one scripted NextFrame result.
type step struct {
	f   frame.Frame
	err error
}

// fakeSource replays a scripted stream; tests feed it frames and faults.
type fakeSource struct {
	cfg   frame.StreamConfig
	steps chan step

	mu          sync.Mutex
	connects    int
	disconnects int
	connectErr  func(attempt int) error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		cfg:   frame.StreamConfig{Width: 8, Height: 8, FPS: 30},
		steps: make(chan step, 16),
	}
}

func (s *fakeSource) Connect(ctx context.Context) (frame.StreamConfig, error) {
	s.mu.Lock()
	s.connects++
	n := s.connects
	fn := s.connectErr
	s.mu.Unlock()
	if fn != nil {
		if err := fn(n); err != nil {
			return frame.StreamConfig{}, err
		}
	}
	return s.cfg, nil
}

func (s *fakeSource) NextFrame(ctx context.Context) (frame.Frame, error) {
	select {
	case st := <-s.steps:
		if st.err != nil {
			return frame.Frame{}, st.err
		}
		return st.f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

func (s *fakeSource) Disconnect() error {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Config() frame.StreamConfig { return s.cfg }

func (s *fakeSource) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *fakeSource) feed(seq uint64) {
	s.steps <- step{f: frame.Frame{Seq: seq, Timestamp: time.Now(), Width: 8, Height: 8, Data: make([]byte, 8*8*3)}}
}

func (s *fakeSource) fault(err error) {
	s.steps <- step{err: err}
}

type fileSink struct{ f *os.File }

func fileSinkFactory(path string, cfg frame.StreamConfig) (recorder.VideoSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) Write(f frame.Frame) error { _, err := s.f.Write(f.Data); return err }
func (s *fileSink) Close() error              { return s.f.Close() }

func newTestRecorder(t *testing.T) (*recorder.Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	return recorder.New(dir, fileSinkFactory, nil), dir
}

func runController(t *testing.T, c *Controller) (done chan error) {
	t.Helper()
	done = make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(testWait):
		t.Fatal("controller did not stop in time")
		return nil
	}
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state never reached %v, stuck at %v", want, c.State())
}

// TestFramesReachPreviewBuffer verifies the capture loop fans frames into
// the lossy preview path.
func TestFramesReachPreviewBuffer(t *testing.T) {
	src := newFakeSource()
	buf := framebuffer.New(4)
	rec, _ := newTestRecorder(t)
	cmds := make(chan preview.Command, 4)

	c := New(src, buf, rec, cmds, nil, Options{Reconnect: fastReconnect(2)})
	done := runController(t, c)

	src.feed(1)
	src.feed(2)

	f, ok := buf.Next(testWait)
	if !ok || f.Seq != 1 {
		t.Fatalf("expected frame 1 in preview buffer, got seq=%d ok=%v", f.Seq, ok)
	}

	cmds <- preview.CommandQuit
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("expected disconnected after quit, got %v", c.State())
	}
}

// TestInitialConnectFailsFast verifies a bad source is reported immediately
// instead of being retried.
func TestInitialConnectFailsFast(t *testing.T) {
	src := newFakeSource()
	cause := errors.New("no such device")
	src.connectErr = func(int) error { return cause }
	rec, _ := newTestRecorder(t)

	c := New(src, framebuffer.New(4), rec, make(chan preview.Command), nil, Options{Reconnect: fastReconnect(5)})
	err := c.Run(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("expected connect error, got %v", err)
	}
	if src.connectCount() != 1 {
		t.Errorf("expected exactly 1 connect attempt, got %d", src.connectCount())
	}
}

// TestFaultRecoversWithinBudget verifies a stream fault triggers reconnect
// and frames flow again afterwards.
func TestFaultRecoversWithinBudget(t *testing.T) {
	src := newFakeSource()
	buf := framebuffer.New(4)
	rec, _ := newTestRecorder(t)
	cmds := make(chan preview.Command, 4)

	c := New(src, buf, rec, cmds, nil, Options{Reconnect: fastReconnect(3)})
	done := runController(t, c)

	src.feed(1)
	if _, ok := buf.Next(testWait); !ok {
		t.Fatal("no frame before fault")
	}

	src.fault(errors.New("stream reset"))

	deadline := time.Now().Add(testWait)
	for src.connectCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if src.connectCount() < 2 {
		t.Fatal("no reconnect attempt after fault")
	}
	waitState(t, c, StateConnected)

	src.feed(2)
	f, ok := buf.Next(testWait)
	if !ok || f.Seq != 2 {
		t.Fatalf("expected frame 2 after reconnect, got seq=%d ok=%v", f.Seq, ok)
	}

	cmds <- preview.CommandQuit
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

// TestFaultBudgetSpentStopsPipeline verifies the pipeline gives up after
// the bounded retry budget instead of looping forever.
func TestFaultBudgetSpentStopsPipeline(t *testing.T) {
	src := newFakeSource()
	src.connectErr = func(attempt int) error {
		if attempt == 1 {
			return nil // initial connect succeeds
		}
		return errors.New("camera unplugged")
	}
	rec, _ := newTestRecorder(t)

	c := New(src, framebuffer.New(4), rec, make(chan preview.Command), nil, Options{Reconnect: fastReconnect(2)})
	done := runController(t, c)

	src.fault(errors.New("stream reset"))

	err := waitDone(t, done)
	if err == nil {
		t.Fatal("expected terminal error after spent budget")
	}
	if !strings.Contains(err.Error(), "max retries") {
		t.Errorf("unexpected terminal error: %v", err)
	}
	// initial + (MaxRetries+1) reconnect attempts
	if got := src.connectCount(); got != 4 {
		t.Errorf("expected 4 connect attempts, got %d", got)
	}
}

// TestQuitWhileRecordingMaterializesFile verifies quit finalizes the active
// session so captured frames land in a playable file.
func TestQuitWhileRecordingMaterializesFile(t *testing.T) {
	src := newFakeSource()
	buf := framebuffer.New(4)
	rec, dir := newTestRecorder(t)
	cmds := make(chan preview.Command, 4)

	c := New(src, buf, rec, cmds, nil, Options{Reconnect: fastReconnect(2)})
	done := runController(t, c)

	src.feed(1)
	cmds <- preview.CommandToggleRecording
	waitState(t, c, StateRecording)

	src.feed(2)
	deadline := time.Now().Add(testWait)
	for rec.Session() != nil && rec.Session().FramesWritten() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	cmds <- preview.CommandQuit
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "recording_*.mp4"))
	if len(matches) != 1 {
		t.Fatalf("expected 1 finished recording, found %v", matches)
	}
	temps, _ := filepath.Glob(filepath.Join(dir, "temp_*"))
	if len(temps) != 0 {
		t.Errorf("temp files left behind: %v", temps)
	}
}

// TestFaultWhileRecordingFinalizesSession verifies a stream fault stops the
// session cleanly before reconnecting.
func TestFaultWhileRecordingFinalizesSession(t *testing.T) {
	src := newFakeSource()
	buf := framebuffer.New(4)
	rec, dir := newTestRecorder(t)
	cmds := make(chan preview.Command, 4)

	c := New(src, buf, rec, cmds, nil, Options{Reconnect: fastReconnect(3)})
	done := runController(t, c)

	src.feed(1)
	cmds <- preview.CommandToggleRecording
	waitState(t, c, StateRecording)

	src.fault(errors.New("stream reset"))
	waitState(t, c, StateConnected)

	if rec.Recording() {
		t.Error("recorder still active after fault recovery")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "recording_*.mp4"))
	if len(matches) != 1 {
		t.Fatalf("expected finalized recording after fault, found %v", matches)
	}

	cmds <- preview.CommandQuit
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

// TestToggleRecordingRoundTrip verifies start/stop transitions through the
// command path.
func TestToggleRecordingRoundTrip(t *testing.T) {
	src := newFakeSource()
	rec, _ := newTestRecorder(t)
	cmds := make(chan preview.Command, 4)

	c := New(src, framebuffer.New(4), rec, cmds, nil, Options{Reconnect: fastReconnect(2)})
	done := runController(t, c)

	cmds <- preview.CommandToggleRecording
	waitState(t, c, StateRecording)

	cmds <- preview.CommandToggleRecording
	waitState(t, c, StateConnected)
	if rec.Recording() {
		t.Error("recorder active after stop toggle")
	}

	cmds <- preview.CommandQuit
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

// TestStateStrings pins state names used in logs and scrapes.
func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnected:    "connected",
		StateRecording:    "recording",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
