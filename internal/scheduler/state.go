package scheduler

// State is the scheduling phase of the most recent session.
type State int32

const (
	StateIdle State = iota
	// StatePriming means the first buffer is being decoded synchronously.
	StatePriming
	// StateStreaming means buffers are decoded ahead on the work queue as
	// earlier ones complete.
	StateStreaming
	// StateDraining means the end of the track or loop pass has been
	// decoded and the last buffers are playing.
	StateDraining
	StateCompleted
	// StateLooping means a loop pass ended and playback is restarting at
	// the loop start.
	StateLooping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePriming:
		return "priming"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateLooping:
		return "looping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
