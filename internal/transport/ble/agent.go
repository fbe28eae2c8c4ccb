package ble

import (
	"fmt"
	"log"
	"strconv"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
)

const (
	bluezAgentManager1 = "org.bluez.AgentManager1"
	bluezAgent1        = "org.bluez.Agent1"
	agentCapability    = "KeyboardOnly"
)

var agentSeq atomic.Uint64

// pinAgent answers BlueZ pairing requests with a fixed PIN. It is exported
// on the bus only for the duration of one Pair call.
type pinAgent struct {
	conn *dbus.Conn
	path dbus.ObjectPath
	pin  string
}

// registerPinAgent exports the agent and makes it the default so BlueZ
// routes the device's PIN request to it.
func registerPinAgent(conn *dbus.Conn, pin string) (*pinAgent, error) {
	a := &pinAgent{
		conn: conn,
		path: dbus.ObjectPath(fmt.Sprintf("/blebridged/agent%d", agentSeq.Add(1))),
		pin:  pin,
	}

	if err := conn.Export(a, a.path, bluezAgent1); err != nil {
		return nil, fmt.Errorf("export agent: %w", err)
	}

	manager := conn.Object(bluezBus, "/org/bluez")
	call := manager.Call(bluezAgentManager1+".RegisterAgent", 0, a.path, agentCapability)
	if call.Err != nil {
		_ = conn.Export(nil, a.path, bluezAgent1)
		return nil, fmt.Errorf("RegisterAgent failed: %w", call.Err)
	}
	call = manager.Call(bluezAgentManager1+".RequestDefaultAgent", 0, a.path)
	if call.Err != nil {
		manager.Call(bluezAgentManager1+".UnregisterAgent", 0, a.path)
		_ = conn.Export(nil, a.path, bluezAgent1)
		return nil, fmt.Errorf("RequestDefaultAgent failed: %w", call.Err)
	}

	log.Printf("ble: pairing agent registered at %s", a.path)
	return a, nil
}

// release unregisters and unexports the agent. Safe after a failed pairing.
func (a *pinAgent) release() {
	manager := a.conn.Object(bluezBus, "/org/bluez")
	manager.Call(bluezAgentManager1+".UnregisterAgent", 0, a.path)
	_ = a.conn.Export(nil, a.path, bluezAgent1)
}

// ===== org.bluez.Agent1 =====

func (a *pinAgent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	log.Printf("ble: agent answering PIN request for %s", device)
	return a.pin, nil
}

func (a *pinAgent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	key, err := strconv.ParseUint(a.pin, 10, 32)
	if err != nil {
		return 0, dbus.MakeFailedError(fmt.Errorf("PIN %q is not a numeric passkey", a.pin))
	}
	log.Printf("ble: agent answering passkey request for %s", device)
	return uint32(key), nil
}

func (a *pinAgent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	return nil
}

func (a *pinAgent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	return nil
}

func (a *pinAgent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	return nil
}

func (a *pinAgent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	return nil
}

func (a *pinAgent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}

func (a *pinAgent) Cancel() *dbus.Error {
	log.Printf("ble: pairing agent request cancelled by BlueZ")
	return nil
}

func (a *pinAgent) Release() *dbus.Error {
	return nil
}
