package client

// State is the lifecycle state of the client's single connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateDeactivated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// Status is the externally visible projection of State.
type Status bool

const (
	Disconnected Status = false
	Connected    Status = true
)

func (s Status) String() string {
	if s {
		return "connected"
	}
	return "not connected"
}
