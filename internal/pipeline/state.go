package pipeline

// State is the controller's lifecycle phase. Transitions are serialized by
// the control loop; readers observe them atomically.
type State int32

const (
	// StateDisconnected means no live source; frames do not flow.
	StateDisconnected State = iota
	// StateConnected means frames flow to the preview path only.
	StateConnected
	// StateRecording means frames flow to both the preview and record paths.
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}
