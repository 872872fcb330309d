package session

// State is where a session is in its single forward pass.
type State int32

const (
	StateNotStarted State = iota
	StateNavigating
	StateMonitoring
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateNavigating:
		return "navigating"
	case StateMonitoring:
		return "monitoring"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
