package domain

// State is the bridge lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateSessionEstablished
	StateSubscribed
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSessionEstablished:
		return "session_established"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
