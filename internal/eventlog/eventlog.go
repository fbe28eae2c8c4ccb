// Package eventlog carries timestamped status lines from the bridge engine
// to whatever front end is watching (HTTP event stream, log file, tests).
package eventlog

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Event is one timestamped line destined for the UI/log sink.
type Event struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Bus fans events out to subscribers and retains a bounded history so late
// subscribers can replay recent lines. History survives session teardown —
// failure context is exactly what a post-mortem needs.
type Bus struct {
	mu      sync.RWMutex
	history []Event
	histIdx int
	histMax int

	subs   map[uint64]chan Event
	nextID uint64
}

// DefaultHistorySize bounds the replay buffer, matching the original tool's
// 1000-line log window.
const DefaultHistorySize = 1000

// NewBus creates a bus retaining up to historySize events.
func NewBus(historySize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		history: make([]Event, 0, historySize),
		histMax: historySize,
		subs:    make(map[uint64]chan Event),
	}
}

// Emit records an event and fans it out. It never blocks: slow subscribers
// have events dropped rather than stalling a forwarding loop.
func (b *Bus) Emit(typ, format string, args ...interface{}) {
	ev := Event{
		Type:    typ,
		Message: fmt.Sprintf(format, args...),
		Time:    time.Now().UTC(),
	}
	log.Printf("%s: %s", ev.Type, ev.Message)

	b.mu.Lock()
	if len(b.history) < b.histMax {
		b.history = append(b.history, ev)
	} else {
		b.history[b.histIdx] = ev
	}
	b.histIdx = (b.histIdx + 1) % b.histMax
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow consumer
		}
	}
}

// Subscribe returns a buffered channel of live events and an unsubscribe
// function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// History returns the retained events, oldest first.
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.history) < b.histMax {
		out := make([]Event, len(b.history))
		copy(out, b.history)
		return out
	}
	out := make([]Event, 0, b.histMax)
	out = append(out, b.history[b.histIdx:]...)
	out = append(out, b.history[:b.histIdx]...)
	return out
}
