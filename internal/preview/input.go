package preview

import (
	"log/slog"
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

const (
	rawcodeEscape = 65307
	commandDepth  = 8
)

// KeyReader turns raw keyboard events into pipeline commands. Unknown keys
// are ignored. Commands queue up so a slow consumer never stalls the hook
// callback; the queue is small because commands are operator-paced.
type KeyReader struct {
	log *slog.Logger

	commands chan Command

	mu      sync.Mutex
	running bool
}

// NewKeyReader creates an idle reader. Call Start before polling.
func NewKeyReader(log *slog.Logger) *KeyReader {
	if log == nil {
		log = slog.Default()
	}
	return &KeyReader{
		log:      log,
		commands: make(chan Command, commandDepth),
	}
}

// Start installs the global keyboard hook and begins translating key-down
// events. Returns immediately; events arrive on the internal queue.
func (k *KeyReader) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return
	}
	k.running = true

	events := hook.Start()
	go k.translate(events)
}

// Stop removes the keyboard hook.
func (k *KeyReader) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return
	}
	k.running = false
	hook.End()
}

// Poll returns the next pending command, or CommandNone after the timeout.
func (k *KeyReader) Poll(timeout time.Duration) Command {
	select {
	case cmd := <-k.commands:
		return cmd
	case <-time.After(timeout):
		return CommandNone
	}
}

// Commands exposes the queue for select-based consumers.
func (k *KeyReader) Commands() <-chan Command { return k.commands }

func (k *KeyReader) translate(events <-chan hook.Event) {
	for ev := range events {
		if ev.Kind != hook.KeyDown {
			continue
		}
		cmd := mapKey(ev)
		if cmd == CommandNone {
			continue
		}
		select {
		case k.commands <- cmd:
		default:
			k.log.Warn("preview: command queue full, dropping", "command", cmd.String())
		}
	}
}

func mapKey(ev hook.Event) Command {
	if ev.Rawcode == rawcodeEscape {
		return CommandQuit
	}
	switch ev.Keychar {
	case ' ':
		return CommandToggleRecording
	case 's', 'S':
		return CommandScreenshot
	case 'f', 'F':
		return CommandToggleFullscreen
	case 'r', 'R':
		return CommandResetConnection
	case 'q', 'Q':
		return CommandQuit
	}
	return CommandNone
}
