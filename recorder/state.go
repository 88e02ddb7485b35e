package recorder

// State is the session lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StatePaused
	StateFinalizing
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateFinalizing:
		return "finalizing"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Active reports whether a session exists in this state.
func (s State) Active() bool {
	return s == StateRecording || s == StatePaused
}
