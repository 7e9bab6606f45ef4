package worker

// State is a worker lifecycle state.
type State int32

// Worker states.
const (
	StateStopped State = iota
	StateRunning
	StatePaused
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is a point-in-time view of a worker's progress.
type Snapshot struct {
	Name  string
	State State
	// Fraction is the completion ratio in [0,1]. It is reset to 0 when the
	// worker terminates; the counters are kept.
	Fraction  float64
	Processed int64
	Succeeded int64
	Failed    int64
	// Stopped is true once the worker has terminated.
	Stopped bool
}
