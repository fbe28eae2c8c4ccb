package handlers

import (
	"context"
	"sync"

	"blebridged/internal/eventlog"
)

// PinRelay connects the pairing negotiator to the HTTP surface. The
// negotiator blocks in Ask while a client answers via POST /bridge/pin.
// One outstanding request at a time; the single-session invariant of the
// supervisor already guarantees that.
type PinRelay struct {
	events *eventlog.Bus

	mu      sync.Mutex
	waiting chan string
}

func NewPinRelay(events *eventlog.Bus) *PinRelay {
	return &PinRelay{events: events}
}

// Ask blocks until a PIN is submitted or the session is cancelled.
func (p *PinRelay) Ask(ctx context.Context) (string, bool) {
	ch := make(chan string, 1)

	p.mu.Lock()
	if p.waiting != nil {
		p.mu.Unlock()
		return "", false
	}
	p.waiting = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.waiting == ch {
			p.waiting = nil
		}
		p.mu.Unlock()
	}()

	p.events.Emit("pin_required", "device requires a PIN, submit it via POST /bridge/pin")

	select {
	case <-ctx.Done():
		return "", false
	case pin := <-ch:
		return pin, pin != ""
	}
}

// Submit delivers a PIN to the waiting negotiator. Returns false when no
// request is pending.
func (p *PinRelay) Submit(pin string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.waiting == nil {
		return false
	}
	p.waiting <- pin
	p.waiting = nil
	return true
}

// Pending reports whether a PIN request is waiting for an answer.
func (p *PinRelay) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting != nil
}
