package bridge

// SessionState tracks the lifecycle of a bridge session. Transitions are
// monotonic per run — no state is revisited except the terminal return to
// Idle after teardown.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StatePairing
	StateBridging
	StateFaulted
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePairing:
		return "pairing"
	case StateBridging:
		return "bridging"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
