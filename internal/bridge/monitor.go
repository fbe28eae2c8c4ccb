package bridge

import (
	"context"
	"time"

	"blebridged/internal/eventlog"
)

// DefaultWatchdogInterval is how often the health monitor probes the
// wireless link.
const DefaultWatchdogInterval = time.Second

// healthMonitor probes wireless liveness independently of the data path.
// It is the only component that distinguishes an unexpected remote drop
// from a local write-error escalation.
type healthMonitor struct {
	link     WirelessLink
	address  string
	interval time.Duration
	events   *eventlog.Bus
	onLost   func(*LivenessLostError)
}

func (m *healthMonitor) run(ctx context.Context) {
	interval := m.interval
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.link.Alive() {
				continue
			}
			err := &LivenessLostError{Address: m.address}
			m.events.Emit("bridge", "%v", err)
			m.onLost(err)
			return
		}
	}
}
