package bridge

import (
	"context"
	"time"

	"blebridged/internal/eventlog"
)

const (
	// serialPollInterval paces the outbound loop when the port is quiet,
	// bounding shutdown latency to well under 100ms.
	serialPollInterval = 10 * time.Millisecond
	serialReadBufSize  = 4096
)

// pipeline runs the two forwarding loops of one session. Bytes pass through
// verbatim — no framing, no buffering beyond the single in-flight chunk.
type pipeline struct {
	serial   SerialLink
	wireless WirelessLink
	counter  *FailureCounter
	events   *eventlog.Bus

	// cancel ends the session without marking it faulted (orderly drop,
	// e.g. notify channel closed). escalate marks the session faulted
	// first; used when the failure threshold is reached.
	cancel   context.CancelFunc
	escalate func()
}

// inbound forwards wireless notify chunks to the serial port.
func (p *pipeline) inbound(ctx context.Context) {
	ch, err := p.wireless.StartNotify(ctx)
	if err != nil {
		p.events.Emit("bridge", "notify subscription failed: %v", err)
		p.escalate()
		return
	}
	// The transport may already be gone on the way out.
	defer func() { _ = p.wireless.StopNotify() }()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				p.events.Emit("bridge", "notify stream ended")
				p.cancel()
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if _, err := p.serial.Write(chunk); err != nil {
				p.transferFailed(&ForwardWriteError{Direction: "ble→serial", Err: err})
				continue
			}
			p.counter.Reset()
			p.events.Emit("bridge", "[ble→serial] %x", chunk)
		}
	}
}

// outbound polls the serial port and forwards pending bytes to the wireless
// write characteristic, without waiting for acknowledgement.
func (p *pipeline) outbound(ctx context.Context) {
	buf := make([]byte, serialReadBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := p.serial.ReadPending(buf)
		if err != nil {
			// A dead serial port cannot be ridden out; end the session.
			p.events.Emit("bridge", "serial read failed: %v", err)
			p.escalate()
			return
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(serialPollInterval):
			}
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		if err := p.wireless.Write(chunk); err != nil {
			p.transferFailed(&ForwardWriteError{Direction: "serial→ble", Err: err})
			continue
		}
		p.counter.Reset()
		p.events.Emit("bridge", "[serial→ble] %x", chunk)
	}
}

func (p *pipeline) transferFailed(werr *ForwardWriteError) {
	count, escalate := p.counter.Fail()
	p.events.Emit("bridge", "%v (%d/%d)", werr, count, p.counter.Threshold())
	if escalate {
		p.events.Emit("bridge", "sustained transfer failures, dropping session")
		p.escalate()
	}
}
