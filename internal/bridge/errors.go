package bridge

import (
	"errors"
	"fmt"
)

// ErrSessionActive is returned by Start when a session is already running.
var ErrSessionActive = errors.New("a bridge session is already active")

// TransportOpenError reports a serial port that could not be opened.
// Fatal during startup: the wireless side is never attempted.
type TransportOpenError struct {
	Port string
	Err  error
}

func (e *TransportOpenError) Error() string {
	return fmt.Sprintf("open serial port %s: %v", e.Port, e.Err)
}

func (e *TransportOpenError) Unwrap() error { return e.Err }

// ConnectError reports a wireless connection failure. Fatal during startup;
// the already-open serial port is released.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// PairError reports a failed pairing negotiation: the handshake itself, a
// cancelled PIN prompt, or a prompt timeout. Err may be nil when the failure
// is local (timeout, cancel).
type PairError struct {
	Reason string
	Err    error
}

func (e *PairError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pairing failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("pairing failed: %s", e.Reason)
}

func (e *PairError) Unwrap() error { return e.Err }

// ForwardWriteError reports a failed chunk transfer in either direction.
// Recoverable: it feeds the failure counter rather than ending the session.
type ForwardWriteError struct {
	Direction string // "ble→serial" or "serial→ble"
	Err       error
}

func (e *ForwardWriteError) Error() string {
	return fmt.Sprintf("%s write failed: %v", e.Direction, e.Err)
}

func (e *ForwardWriteError) Unwrap() error { return e.Err }

// LivenessLostError reports a wireless drop detected by the health monitor,
// as opposed to a local write-error escalation.
type LivenessLostError struct {
	Address string
}

func (e *LivenessLostError) Error() string {
	return fmt.Sprintf("wireless link to %s dropped", e.Address)
}
