package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"blebridged/internal/bridge"
	"blebridged/internal/config"
	"blebridged/internal/eventlog"
)

// stubSerial and stubWireless are just enough transport to drive the
// supervisor through the HTTP surface.
type stubSerial struct{}

func (stubSerial) ReadPending(buf []byte) (int, error) { return 0, nil }
func (stubSerial) Write(p []byte) (int, error)         { return len(p), nil }
func (stubSerial) Close() error                        { return nil }

type stubWireless struct {
	mu      sync.Mutex
	pairErr error // returned for the no-PIN attempt
	pin     string
	notify  chan []byte
}

func newStubWireless(pairErr error) *stubWireless {
	return &stubWireless{pairErr: pairErr, notify: make(chan []byte, 1)}
}

func (s *stubWireless) Pair(ctx context.Context, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pin == "" {
		return s.pairErr
	}
	s.pin = pin
	return nil
}

func (s *stubWireless) StartNotify(ctx context.Context) (<-chan []byte, error) { return s.notify, nil }
func (s *stubWireless) StopNotify() error                                      { return nil }
func (s *stubWireless) Write(p []byte) error                                   { return nil }
func (s *stubWireless) Alive() bool                                            { return true }
func (s *stubWireless) Close() error                                           { return nil }

func (s *stubWireless) pairedPin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin
}

type testEnv struct {
	handler *BridgeHandler
	sup     *bridge.Supervisor
	pins    *PinRelay
	bus     *eventlog.Bus
	server  *httptest.Server
}

func newTestEnv(t *testing.T, opts bridge.Options, wireless *stubWireless) *testEnv {
	t.Helper()

	bus := eventlog.NewBus(256)
	pins := NewPinRelay(bus)
	open := func(port string, baud int) (bridge.SerialLink, error) { return stubSerial{}, nil }
	dial := func(ctx context.Context, address string) (bridge.WirelessLink, error) {
		return wireless, nil
	}
	sup := bridge.New(opts, open, dial, pins, bus)
	store := config.NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	h := NewBridgeHandler(sup, store, bus, pins, "hci0")

	r := chi.NewRouter()
	r.Post("/bridge/start", h.StartBridge)
	r.Post("/bridge/stop", h.StopBridge)
	r.Post("/bridge/reset", h.ResetBridge)
	r.Get("/bridge/status", h.GetBridgeStatus)
	r.Post("/bridge/pin", h.SubmitPin)
	r.Get("/config", h.GetConfig)
	r.Put("/config", h.PutConfig)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		sup.Reset()
		srv.Close()
	})

	return &testEnv{handler: h, sup: sup, pins: pins, bus: bus, server: srv}
}

func testBridgeOptions() bridge.Options {
	return bridge.Options{
		FailureThreshold: 3,
		WatchdogInterval: 20 * time.Millisecond,
		PinTimeout:       500 * time.Millisecond,
	}
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

const startBody = `{"serial_port":"/dev/ttyUSB0","baud_rate":9600,"address":"AA:BB:CC:DD:EE:FF"}`

func TestStartStopOverHTTP(t *testing.T) {
	env := newTestEnv(t, testBridgeOptions(), newStubWireless(nil))

	resp := postJSON(t, env.server.URL+"/bridge/start", startBody)
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d: %v", resp.StatusCode, body)
	}
	if body["state"] != "bridging" {
		t.Errorf("state = %v, want bridging", body["state"])
	}

	resp = postJSON(t, env.server.URL+"/bridge/stop", "")
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop returned %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.sup.State() != bridge.StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("session did not return to idle after stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartRejectsBadConfig(t *testing.T) {
	env := newTestEnv(t, testBridgeOptions(), newStubWireless(nil))

	resp := postJSON(t, env.server.URL+"/bridge/start", `{"serial_port":"/dev/ttyUSB0","baud_rate":9600}`)
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("start without address returned %d, want 400", resp.StatusCode)
	}
}

func TestStartWhileActiveConflicts(t *testing.T) {
	env := newTestEnv(t, testBridgeOptions(), newStubWireless(nil))

	resp := postJSON(t, env.server.URL+"/bridge/start", startBody)
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first start returned %d", resp.StatusCode)
	}

	resp = postJSON(t, env.server.URL+"/bridge/start", startBody)
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start returned %d, want 409", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, testBridgeOptions(), newStubWireless(nil))

	resp, err := http.Get(env.server.URL + "/bridge/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	body := decodeBody(t, resp)
	if body["state"] != "idle" {
		t.Errorf("state = %v, want idle", body["state"])
	}
	if body["pin_pending"] != false {
		t.Errorf("pin_pending = %v, want false", body["pin_pending"])
	}
}

func TestPinSubmitWithoutRequestConflicts(t *testing.T) {
	env := newTestEnv(t, testBridgeOptions(), newStubWireless(nil))

	resp := postJSON(t, env.server.URL+"/bridge/pin", `{"pin":"123456"}`)
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("pin without pending request returned %d, want 409", resp.StatusCode)
	}
}

func TestPinFlowOverHTTP(t *testing.T) {
	opts := testBridgeOptions()
	opts.PairingRequired = true
	opts.PinTimeout = 5 * time.Second
	wireless := newStubWireless(errors.New("authentication required"))
	env := newTestEnv(t, opts, wireless)

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(env.server.URL+"/bridge/start", "application/json",
			bytes.NewBufferString(startBody))
		if err == nil {
			done <- resp
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !env.pins.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("pairing never asked for a PIN")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := postJSON(t, env.server.URL+"/bridge/pin", `{"pin":"654321"}`)
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pin submit returned %d", resp.StatusCode)
	}

	select {
	case startResp := <-done:
		body := decodeBody(t, startResp)
		if startResp.StatusCode != http.StatusOK {
			t.Fatalf("start returned %d: %v", startResp.StatusCode, body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("start request did not complete after PIN submission")
	}

	if got := wireless.pairedPin(); got != "654321" {
		t.Errorf("device paired with PIN %q, want %q", got, "654321")
	}
}

func TestConfigRoundtripOverHTTP(t *testing.T) {
	env := newTestEnv(t, testBridgeOptions(), newStubWireless(nil))

	req, err := http.NewRequest(http.MethodPut, env.server.URL+"/config",
		bytes.NewBufferString(`{"serial_port":"/dev/ttyACM1","baud_rate":115200,"address":"11:22:33:44:55:66","pin":"000000"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT config: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT config returned %d: %v", resp.StatusCode, body)
	}

	resp, err = http.Get(env.server.URL + "/config")
	if err != nil {
		t.Fatalf("GET config: %v", err)
	}
	body = decodeBody(t, resp)
	if body["serial_port"] != "/dev/ttyACM1" || body["baud_rate"] != float64(115200) {
		t.Errorf("stored config = %v", body)
	}
}

func TestStreamEventsReplaysHistory(t *testing.T) {
	env := newTestEnv(t, testBridgeOptions(), newStubWireless(nil))
	env.bus.Emit("status", "idle")
	env.bus.Emit("bridge", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/bridge/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	env.handler.StreamEvents(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "event: status") || !strings.Contains(out, "event: bridge") {
		t.Errorf("history replay missing events:\n%s", out)
	}
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("event payload not serialized:\n%s", out)
	}
}

func TestPinRelaySingleWaiter(t *testing.T) {
	bus := eventlog.NewBus(16)
	relay := NewPinRelay(bus)

	got := make(chan string, 1)
	go func() {
		pin, ok := relay.Ask(context.Background())
		if !ok {
			pin = ""
		}
		got <- pin
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !relay.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("Ask never registered")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if !relay.Submit("4242") {
		t.Fatal("Submit failed with a waiter pending")
	}
	if relay.Submit("9999") {
		t.Error("Submit succeeded with no waiter pending")
	}
	if pin := <-got; pin != "4242" {
		t.Errorf("Ask returned %q, want %q", pin, "4242")
	}
}

func TestPinRelayCancelledContext(t *testing.T) {
	bus := eventlog.NewBus(16)
	relay := NewPinRelay(bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := relay.Ask(ctx); ok {
		t.Error("Ask succeeded on a cancelled context")
	}
	if relay.Pending() {
		t.Error("relay still pending after cancelled Ask")
	}
}
