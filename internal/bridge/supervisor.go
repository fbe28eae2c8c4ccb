// Package bridge implements the supervised BLE↔serial bridge session engine:
// one cancellable concurrent pipeline that opens both transports, negotiates
// pairing, runs two forwarding loops plus a liveness monitor, and guarantees
// ordered teardown on every exit path.
package bridge

import (
	"context"
	"sync"
	"time"

	"blebridged/internal/config"
	"blebridged/internal/eventlog"
)

// Options select which engine features are active. The original tool
// shipped three near-identical builds (with/without watchdog, failure
// threshold, PIN fallback); one engine with flags replaces them.
type Options struct {
	PairingRequired  bool
	WatchdogEnabled  bool
	FailureThreshold int
	WatchdogInterval time.Duration
	PinTimeout       time.Duration
}

// DefaultOptions enables every feature with the standard intervals.
func DefaultOptions() Options {
	return Options{
		PairingRequired:  true,
		WatchdogEnabled:  true,
		FailureThreshold: DefaultFailureThreshold,
		WatchdogInterval: DefaultWatchdogInterval,
		PinTimeout:       DefaultPinTimeout,
	}
}

// Supervisor owns the single bridge session and its lifecycle. At most one
// session is non-idle at a time; Start while busy is rejected, not queued.
type Supervisor struct {
	open   SerialOpener
	dial   WirelessDialer
	prompt PinPrompt
	events *eventlog.Bus
	opts   Options

	mu    sync.Mutex
	state SessionState
	sess  *session
}

// session bundles everything torn down together. Created fresh on every
// Start, never reused.
type session struct {
	cfg     config.ConnectionConfig
	counter *FailureCounter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Guarded by Supervisor.mu so teardown and the startup sequence agree
	// on which handles exist.
	serial   SerialLink
	wireless WirelessLink

	once sync.Once
	done chan struct{}
}

// New creates a supervisor. open and dial produce the two transports;
// prompt may be nil when no interactive front end exists.
func New(opts Options, open SerialOpener, dial WirelessDialer, prompt PinPrompt, events *eventlog.Bus) *Supervisor {
	return &Supervisor{
		open:   open,
		dial:   dial,
		prompt: prompt,
		events: events,
		opts:   opts,
	}
}

// State returns the current session state.
func (s *Supervisor) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status describes the supervisor for the control surface.
type Status struct {
	State      string `json:"state"`
	SerialPort string `json:"serial_port,omitempty"`
	BaudRate   int    `json:"baud_rate,omitempty"`
	Address    string `json:"address,omitempty"`
	Failures   int    `json:"failures"`
	Threshold  int    `json:"failure_threshold"`
}

// Status returns a snapshot of the current session.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:     s.state.String(),
		Threshold: s.opts.FailureThreshold,
	}
	if st.Threshold <= 0 {
		st.Threshold = DefaultFailureThreshold
	}
	if s.sess != nil {
		st.SerialPort = s.sess.cfg.SerialPort
		st.BaudRate = s.sess.cfg.BaudRate
		st.Address = s.sess.cfg.Address
		st.Failures = s.sess.counter.Count()
	}
	return st
}

// Start runs the startup sequence: open serial, connect wireless, negotiate
// pairing, then spawn the forwarding pipeline and health monitor under the
// session's cancellation scope. It returns once the bridge is running (nil)
// or the startup step that failed. The caller's context bounds startup only;
// a running session is owned by the supervisor until Stop, Reset, fault
// escalation, or a wireless drop cancels it.
func (s *Supervisor) Start(ctx context.Context, cfg config.ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		s.events.Emit("bridge", "start rejected: %v", err)
		return err
	}

	s.mu.Lock()
	if s.state != StateIdle || s.sess != nil {
		state := s.state
		s.mu.Unlock()
		s.events.Emit("bridge", "start rejected: session already active (%s)", state)
		return ErrSessionActive
	}
	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		cfg:     cfg,
		counter: NewFailureCounter(s.opts.FailureThreshold),
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.sess = sess
	s.state = StateConnecting
	s.mu.Unlock()
	s.events.Emit("bridge", "session starting: port=%s baud=%d address=%s",
		cfg.SerialPort, cfg.BaudRate, cfg.Address)

	// Abort startup if the caller gives up, but detach once bridging
	// begins so the session outlives the request that started it.
	detach := context.AfterFunc(ctx, cancel)
	defer detach()

	serial, err := s.open(cfg.SerialPort, cfg.BaudRate)
	if err != nil {
		oerr := &TransportOpenError{Port: cfg.SerialPort, Err: err}
		s.events.Emit("bridge", "%v", oerr)
		s.fail(sess)
		return oerr
	}
	if !s.adopt(sess, func() { sess.serial = serial }, serial.Close) {
		s.fail(sess)
		return sess.ctx.Err()
	}
	s.events.Emit("bridge", "serial port %s open at %d baud", cfg.SerialPort, cfg.BaudRate)

	wireless, err := s.dial(sess.ctx, cfg.Address)
	if err != nil {
		cerr := &ConnectError{Address: cfg.Address, Err: err}
		s.events.Emit("bridge", "%v", cerr)
		s.fail(sess)
		return cerr
	}
	if !s.adopt(sess, func() { sess.wireless = wireless }, wireless.Close) {
		s.fail(sess)
		return sess.ctx.Err()
	}
	s.events.Emit("bridge", "wireless connected to %s", cfg.Address)

	s.setState(StatePairing)
	if s.opts.PairingRequired {
		neg := &negotiator{prompt: s.prompt, events: s.events, timeout: s.opts.PinTimeout}
		if err := neg.negotiate(sess.ctx, wireless, cfg); err != nil {
			s.events.Emit("bridge", "%v", err)
			s.fail(sess)
			return err
		}
	} else {
		s.events.Emit("pairing", "pairing disabled, skipping handshake")
	}

	s.setState(StateBridging)
	p := &pipeline{
		serial:   serial,
		wireless: wireless,
		counter:  sess.counter,
		events:   s.events,
		cancel:   sess.cancel,
		escalate: func() { s.faultAndCancel(sess) },
	}
	sess.wg.Add(2)
	go func() { defer sess.wg.Done(); p.inbound(sess.ctx) }()
	go func() { defer sess.wg.Done(); p.outbound(sess.ctx) }()

	if s.opts.WatchdogEnabled {
		mon := &healthMonitor{
			link:     wireless,
			address:  cfg.Address,
			interval: s.opts.WatchdogInterval,
			events:   s.events,
			onLost:   func(*LivenessLostError) { s.faultAndCancel(sess) },
		}
		sess.wg.Add(1)
		go func() { defer sess.wg.Done(); mon.run(sess.ctx) }()
	}

	s.events.Emit("bridge", "bridge running")
	go s.run(sess)
	return nil
}

// Stop requests an orderly shutdown of the active session. Idempotent; a
// no-op (beyond a warning) when nothing is running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()

	if sess == nil {
		s.events.Emit("bridge", "stop requested but no session is active")
		return
	}
	s.events.Emit("bridge", "disconnect requested")
	sess.cancel()
}

// Reset forces cancellation regardless of state and waits for teardown to
// complete. Used to recover a stuck session and at process shutdown.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()

	s.events.Emit("bridge", "hard reset requested")
	if sess == nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return
	}
	sess.cancel()
	s.teardown(sess)
}

// run waits for the session's cancellation token and performs teardown.
// This is the one owner of the graceful exit path.
func (s *Supervisor) run(sess *session) {
	<-sess.ctx.Done()
	s.teardown(sess)
}

// adopt records a freshly opened handle on the session unless a hard reset
// already tore the session down, in which case the handle is closed and
// adopt reports false. Sharing the supervisor mutex with teardown's handle
// snapshot means a handle is never both missed and leaked.
func (s *Supervisor) adopt(sess *session, attach func(), closeHandle func() error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ctx.Err() != nil {
		_ = closeHandle()
		return false
	}
	attach()
	return true
}

func (s *Supervisor) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.events.Emit("status", "%s", st)
}

// fail marks a startup failure: Faulted, then the shared teardown path back
// to Idle. If the session is already gone (a reset raced us) it does nothing.
func (s *Supervisor) fail(sess *session) {
	select {
	case <-sess.done:
		return
	default:
	}
	s.setState(StateFaulted)
	sess.cancel()
	s.teardown(sess)
}

// faultAndCancel is the escalation hook for the pipeline and monitor: mark
// the session faulted and signal cancellation; the run goroutine finishes
// the teardown.
func (s *Supervisor) faultAndCancel(sess *session) {
	select {
	case <-sess.done:
		return
	default:
	}
	s.setState(StateFaulted)
	sess.cancel()
}

// teardown executes the ordered cleanup exactly once per session: cancel,
// await all tasks, close wireless, close serial, reset the counter, return
// to Idle. Close failures are logged and swallowed — the session must always
// release its exclusivity. Concurrent callers block until cleanup completes.
func (s *Supervisor) teardown(sess *session) {
	sess.once.Do(func() {
		s.events.Emit("bridge", "cleaning up session")
		sess.cancel()
		sess.wg.Wait()

		s.mu.Lock()
		wireless, serial := sess.wireless, sess.serial
		s.mu.Unlock()

		if wireless != nil {
			if err := wireless.Close(); err != nil {
				s.events.Emit("bridge", "wireless close failed: %v", err)
			} else {
				s.events.Emit("bridge", "wireless disconnected")
			}
		}
		if serial != nil {
			if err := serial.Close(); err != nil {
				s.events.Emit("bridge", "serial close failed: %v", err)
			} else {
				s.events.Emit("bridge", "serial port closed")
			}
		}

		sess.counter.Reset()

		s.mu.Lock()
		if s.sess == sess {
			s.sess = nil
		}
		s.state = StateIdle
		s.mu.Unlock()
		s.events.Emit("status", "%s", StateIdle)

		close(sess.done)
	})
	<-sess.done
}
