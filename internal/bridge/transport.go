package bridge

import "context"

// SerialLink is the wired side of the bridge. Implementations are handed to
// the session already open.
type SerialLink interface {
	// ReadPending returns whatever bytes arrived within one poll window.
	// (0, nil) means nothing is pending; implementations must not block
	// longer than the polling granularity.
	ReadPending(buf []byte) (int, error)
	// Write sends bytes out the wire verbatim.
	Write(p []byte) (int, error)
	// Close releases the port. Safe to call on a failed link.
	Close() error
}

// WirelessLink is the BLE side of the bridge, already connected when handed
// to the session. Implementations must leave nothing open when a method
// returns an error during session startup.
type WirelessLink interface {
	// Pair performs the authentication handshake. An empty pin requests
	// default-level (Just Works) pairing.
	Pair(ctx context.Context, pin string) error
	// StartNotify subscribes to the notify characteristic. Received chunks
	// arrive on the returned channel until StopNotify or the link drops.
	StartNotify(ctx context.Context) (<-chan []byte, error)
	// StopNotify unsubscribes. The underlying transport may already be
	// gone; callers suppress the error.
	StopNotify() error
	// Write sends one chunk to the write characteristic without waiting
	// for acknowledgement.
	Write(p []byte) error
	// Alive reports transport-level liveness, independent of data-path
	// errors.
	Alive() bool
	// Close disconnects. Safe to call more than once.
	Close() error
}

// SerialOpener opens the wired side. cmd/blebridged wires the real serial
// implementation; tests substitute fakes.
type SerialOpener func(port string, baud int) (SerialLink, error)

// WirelessDialer connects the BLE side. The context bounds the connect
// attempt; on error nothing may be left open.
type WirelessDialer func(ctx context.Context, address string) (WirelessLink, error)

// PinPrompt asks the interactive collaborator for a pairing PIN. ok=false
// means the prompt was cancelled or nobody answered.
type PinPrompt interface {
	Ask(ctx context.Context) (pin string, ok bool)
}
