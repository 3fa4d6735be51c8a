package preview

// Command is an operator instruction raised from the keyboard.
type Command int

const (
	CommandNone Command = iota
	CommandToggleRecording
	CommandScreenshot
	CommandToggleFullscreen
	CommandResetConnection
	CommandQuit
)

func (c Command) String() string {
	switch c {
	case CommandToggleRecording:
		return "toggle-recording"
	case CommandScreenshot:
		return "screenshot"
	case CommandToggleFullscreen:
		return "toggle-fullscreen"
	case CommandResetConnection:
		return "reset-connection"
	case CommandQuit:
		return "quit"
	default:
		return "none"
	}
}
