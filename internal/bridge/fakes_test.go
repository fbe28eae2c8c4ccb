package bridge

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"blebridged/internal/config"
	"blebridged/internal/eventlog"
)

// fakeSerial is an in-memory SerialLink. ReadPending hands out queued
// chunks one per call; writes are recorded.
type fakeSerial struct {
	mu        sync.Mutex
	pending   [][]byte
	writes    [][]byte
	writeErrs []error
	readErr   error
	closed    bool
	closeErr  error
}

func (f *fakeSerial) ReadPending(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.pending) == 0 {
		return 0, nil
	}
	chunk := f.pending[0]
	f.pending = f.pending[1:]
	return copy(buf, chunk), nil
}

func (f *fakeSerial) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeSerial) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeSerial) enqueue(chunks ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, chunks...)
}

func (f *fakeSerial) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSerial) writesSnapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// fakeWireless is an in-memory WirelessLink. Notify chunks are pushed via
// the notify channel; characteristic writes are recorded with attempts
// counted even when they fail.
type fakeWireless struct {
	mu         sync.Mutex
	pairErr    error // returned for the no-PIN attempt
	pairPinErr error // returned for PIN attempts
	pairedPin  string
	notify     chan []byte
	stopped    bool
	writes     [][]byte
	attempts   int
	writeErrs  []error
	alive      bool
	closed     bool
	closeErr   error
}

func newFakeWireless() *fakeWireless {
	return &fakeWireless{
		notify: make(chan []byte, 16),
		alive:  true,
	}
}

func (f *fakeWireless) Pair(ctx context.Context, pin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pin == "" {
		return f.pairErr
	}
	f.pairedPin = pin
	return f.pairPinErr
}

func (f *fakeWireless) StartNotify(ctx context.Context) (<-chan []byte, error) {
	return f.notify, nil
}

func (f *fakeWireless) StopNotify() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeWireless) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		if err != nil {
			return err
		}
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakeWireless) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeWireless) setAlive(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = v
}

func (f *fakeWireless) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeWireless) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeWireless) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeWireless) writeAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeWireless) writesSnapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// promptFunc adapts a function to the PinPrompt interface.
type promptFunc func(ctx context.Context) (string, bool)

func (f promptFunc) Ask(ctx context.Context) (string, bool) { return f(ctx) }

func testConfig() config.ConnectionConfig {
	return config.ConnectionConfig{
		SerialPort: "/dev/ttyUSB0",
		BaudRate:   9600,
		Address:    "AA:BB:CC:DD:EE:FF",
	}
}

// testOptions keeps intervals short so tests run fast. The watchdog is off
// unless a test turns it on.
func testOptions() Options {
	return Options{
		PairingRequired:  false,
		WatchdogEnabled:  false,
		FailureThreshold: 3,
		WatchdogInterval: 20 * time.Millisecond,
		PinTimeout:       300 * time.Millisecond,
	}
}

func openerFor(fs *fakeSerial) SerialOpener {
	return func(port string, baud int) (SerialLink, error) { return fs, nil }
}

func dialerFor(fw *fakeWireless) WirelessDialer {
	return func(ctx context.Context, address string) (WirelessLink, error) { return fw, nil }
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func historyContains(bus *eventlog.Bus, typ, substr string) bool {
	for _, ev := range bus.History() {
		if ev.Type == typ && strings.Contains(ev.Message, substr) {
			return true
		}
	}
	return false
}
