package concurrency

// State is the lifecycle state of a BoundedExecutor.
// Values are ordered; an executor only ever moves forward.
type State int32

const (
	StateActive State = iota
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
