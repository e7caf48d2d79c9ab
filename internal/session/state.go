package session

// State is the lifecycle state of a session.
type State int

const (
	StateHandshaking State = iota
	StateRelaying
	StateStalled
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateRelaying:
		return "relaying"
	case StateStalled:
		return "stalled"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
