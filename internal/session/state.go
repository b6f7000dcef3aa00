package session

// State is the lifecycle state of a [Controller]. Exactly one controller
// instance exists per experiment run; it moves strictly forward through these
// states and releases the camera on every exit path.
type State int

const (
	// StateIdle is the initial state before Start.
	StateIdle State = iota

	// StateLoading means the classifier model load is in flight.
	StateLoading

	// StateArmed means the model is loaded, the stimulus is cued, and the
	// camera is held, but playback has not begun.
	StateArmed

	// StateRecording means the stimulus is playing and the scheduler is
	// sampling expressions.
	StateRecording

	// StateFinalizing means sampling has stopped, the sample buffer has been
	// snapshotted, and the recording artifact is being finalized and
	// persisted.
	StateFinalizing

	// StateCompleted is the successful terminal state; the completion
	// callback has fired.
	StateCompleted

	// StateFailed is the unrecoverable terminal state (classifier load or
	// camera acquisition failure). No samples are produced.
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateArmed:
		return "armed"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the two terminal states.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
