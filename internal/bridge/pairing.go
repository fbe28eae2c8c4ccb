package bridge

import (
	"context"
	"time"

	"blebridged/internal/config"
	"blebridged/internal/eventlog"
)

// pinPollInterval is the resolution at which the negotiator polls for a
// prompt answer. With the default 60s budget that is 600 iterations.
const pinPollInterval = 100 * time.Millisecond

// DefaultPinTimeout bounds how long pairing waits for an interactive PIN.
const DefaultPinTimeout = time.Minute

// negotiator performs the pairing handshake with interactive PIN fallback.
type negotiator struct {
	prompt  PinPrompt
	events  *eventlog.Bus
	timeout time.Duration
}

// negotiate tries default-level pairing first, then falls back to the
// configured PIN, then to the interactive prompt. Any failure aborts the
// session.
func (n *negotiator) negotiate(ctx context.Context, link WirelessLink, cfg config.ConnectionConfig) error {
	err := link.Pair(ctx, "")
	if err == nil {
		n.events.Emit("pairing", "paired without PIN")
		return nil
	}
	n.events.Emit("pairing", "default pairing refused, PIN required: %v", err)

	pin := cfg.PIN
	if pin == "" {
		pin, err = n.askPin(ctx)
		if err != nil {
			return err
		}
	}

	if err := link.Pair(ctx, pin); err != nil {
		return &PairError{Reason: "PIN pairing rejected", Err: err}
	}
	n.events.Emit("pairing", "paired using PIN")
	return nil
}

// askPin waits for the prompt collaborator, polling at pinPollInterval up
// to the configured budget. Three outcomes: a PIN, a cancelled prompt, or
// a timeout — the last two abort the negotiation.
func (n *negotiator) askPin(ctx context.Context) (string, error) {
	if n.prompt == nil {
		return "", &PairError{Reason: "PIN required but no prompt is available"}
	}

	timeout := n.timeout
	if timeout <= 0 {
		timeout = DefaultPinTimeout
	}
	polls := int(timeout / pinPollInterval)
	if polls < 1 {
		polls = 1
	}

	type answer struct {
		pin string
		ok  bool
	}
	resp := make(chan answer, 1)
	promptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		pin, ok := n.prompt.Ask(promptCtx)
		resp <- answer{pin, ok}
	}()

	n.events.Emit("pairing", "waiting for PIN entry (up to %s)", timeout)

	ticker := time.NewTicker(pinPollInterval)
	defer ticker.Stop()
	for i := 0; i < polls; i++ {
		select {
		case <-ctx.Done():
			return "", &PairError{Reason: "session cancelled while waiting for PIN"}
		case a := <-resp:
			if !a.ok || a.pin == "" {
				return "", &PairError{Reason: "PIN entry cancelled"}
			}
			return a.pin, nil
		case <-ticker.C:
		}
	}
	return "", &PairError{Reason: "no PIN entered within " + timeout.String()}
}
