// Package ble connects to the remote GATT peripheral through the BlueZ
// DBus API. No BLE stack of its own is needed — only godbus/dbus.
//
// Bridged GATT characteristics:
//
//	notify:  0000fff1-0000-1000-8000-00805f9b34fb   (device → host)
//	write:   0000fff2-0000-1000-8000-00805f9b34fb   (host → device)
package ble

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notifyCharUUID = "0000fff1-0000-1000-8000-00805f9b34fb"
	writeCharUUID  = "0000fff2-0000-1000-8000-00805f9b34fb"

	// BlueZ DBus constants
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	defaultConnectTimeout = 10 * time.Second
	resolveTimeout        = 15 * time.Second
	notifyQueueSize       = 64
)

// Dialer connects to a peripheral by MAC address on a given adapter.
type Dialer struct {
	Adapter        string        // BlueZ adapter name (default: "hci0")
	ConnectTimeout time.Duration // 0 = defaultConnectTimeout
}

// Dial connects to the peripheral and resolves its GATT characteristics.
// On error nothing is left connected.
func (d *Dialer) Dial(ctx context.Context, address string) (*Transport, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	adapter := d.Adapter
	if adapter == "" {
		adapter = "hci0"
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system DBus: %w", err)
	}

	t := &Transport{
		conn:       conn,
		adapter:    adapter,
		address:    address,
		devicePath: devicePath(adapter, address),
	}

	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	if err := t.connectDevice(ctx, timeout); err != nil {
		return nil, err
	}
	if err := t.waitServicesResolved(ctx); err != nil {
		t.disconnectDevice()
		return nil, err
	}
	if err := t.discoverCharacteristics(); err != nil {
		t.disconnectDevice()
		return nil, err
	}

	log.Printf("ble: connected to %s via %s", address, adapter)
	return t, nil
}

// Transport is a connected GATT peripheral. It satisfies the bridge's
// wireless link contract.
type Transport struct {
	mu sync.Mutex

	conn    *dbus.Conn
	adapter string
	address string

	devicePath dbus.ObjectPath
	notifyPath dbus.ObjectPath
	writePath  dbus.ObjectPath

	notifyCh chan []byte
	sigCh    chan *dbus.Signal
	stopCh   chan struct{}
}

// Address returns the peripheral's MAC address.
func (t *Transport) Address() string { return t.address }

// Pair performs the BlueZ pairing handshake. With an empty pin it relies on
// Just Works pairing; with a pin it registers a temporary agent that answers
// BlueZ's PIN/passkey requests with the given value. An already-paired
// device succeeds immediately.
func (t *Transport) Pair(ctx context.Context, pin string) error {
	paired, err := getProperty[bool](t.conn, t.devicePath, bluezDevice1, "Paired")
	if err == nil && paired {
		log.Printf("ble: device %s already paired", t.address)
		return nil
	}

	var agent *pinAgent
	if pin != "" {
		agent, err = registerPinAgent(t.conn, pin)
		if err != nil {
			return fmt.Errorf("register pairing agent: %w", err)
		}
		defer agent.release()
	}

	device := t.conn.Object(bluezBus, t.devicePath)
	call := device.CallWithContext(ctx, bluezDevice1+".Pair", 0)
	if call.Err != nil {
		if derr, ok := call.Err.(dbus.Error); ok && derr.Name == "org.bluez.Error.AlreadyExists" {
			return nil
		}
		return fmt.Errorf("pair with %s: %w", t.address, call.Err)
	}
	return nil
}

// StartNotify subscribes to the notify characteristic. Value changes arrive
// on the returned channel until StopNotify or Close.
func (t *Transport) StartNotify(ctx context.Context) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.notifyCh != nil {
		return t.notifyCh, nil
	}

	matchRule := fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBus, dbusProperties, t.notifyPath,
	)
	call := t.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule)
	if call.Err != nil {
		return nil, fmt.Errorf("add signal match: %w", call.Err)
	}

	obj := t.conn.Object(bluezBus, t.notifyPath)
	call = obj.Call(bluezGattChar+".StartNotify", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("StartNotify failed: %w", call.Err)
	}

	t.notifyCh = make(chan []byte, notifyQueueSize)
	t.stopCh = make(chan struct{})
	t.sigCh = make(chan *dbus.Signal, notifyQueueSize)
	t.conn.Signal(t.sigCh)

	go t.pumpNotifications(t.notifyCh, t.sigCh, t.stopCh)

	log.Printf("ble: subscribed to notifications from %s", t.address)
	return t.notifyCh, nil
}

// pumpNotifications translates PropertiesChanged signals on the notify
// characteristic into byte chunks. Runs until StopNotify or Close.
func (t *Transport) pumpNotifications(out chan<- []byte, sigCh chan *dbus.Signal, stopCh chan struct{}) {
	defer close(out)
	for {
		select {
		case <-stopCh:
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			if sig.Path != t.notifyPath || sig.Name != dbusProperties+".PropertiesChanged" {
				continue
			}
			if len(sig.Body) < 2 {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			valueVar, ok := changed["Value"]
			if !ok {
				continue
			}
			value, ok := valueVar.Value().([]byte)
			if !ok || len(value) == 0 {
				continue
			}
			chunk := make([]byte, len(value))
			copy(chunk, value)
			select {
			case out <- chunk:
			default:
				log.Printf("ble: notify queue full, dropping %d bytes", len(chunk))
			}
		}
	}
}

// StopNotify unsubscribes from the notify characteristic. Errors from a
// device that is already gone are returned for logging only.
func (t *Transport) StopNotify() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopNotifyLocked()
}

func (t *Transport) stopNotifyLocked() error {
	if t.stopCh == nil {
		return nil
	}
	close(t.stopCh)
	t.stopCh = nil
	t.conn.RemoveSignal(t.sigCh)
	t.sigCh = nil
	t.notifyCh = nil

	obj := t.conn.Object(bluezBus, t.notifyPath)
	call := obj.Call(bluezGattChar+".StopNotify", 0)
	if call.Err != nil {
		return fmt.Errorf("StopNotify failed: %w", call.Err)
	}
	return nil
}

// Write sends one chunk to the write characteristic as a write-without-
// response command.
func (t *Transport) Write(p []byte) error {
	obj := t.conn.Object(bluezBus, t.writePath)
	call := obj.Call(bluezGattChar+".WriteValue", 0, p, map[string]dbus.Variant{
		"type": dbus.MakeVariant("command"),
	})
	if call.Err != nil {
		return fmt.Errorf("GATT write failed: %w", call.Err)
	}
	return nil
}

// Alive reports whether BlueZ still considers the device connected.
func (t *Transport) Alive() bool {
	connected, err := getProperty[bool](t.conn, t.devicePath, bluezDevice1, "Connected")
	return err == nil && connected
}

// Close unsubscribes and disconnects the device. The system DBus connection
// is a shared cached handle from dbus.SystemBus() and is never closed here;
// closing it would break every other DBus user in the process.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_ = t.stopNotifyLocked()
	t.disconnectDevice()
	return nil
}

// ===== BlueZ connection helpers =====

func (t *Transport) connectDevice(ctx context.Context, timeout time.Duration) error {
	connected, err := getProperty[bool](t.conn, t.devicePath, bluezDevice1, "Connected")
	if err == nil && connected {
		log.Printf("ble: device %s already connected", t.address)
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	device := t.conn.Object(bluezBus, t.devicePath)
	call := device.CallWithContext(connectCtx, bluezDevice1+".Connect", 0)
	if call.Err != nil {
		return fmt.Errorf("BlueZ Connect failed for %s: %w", t.address, call.Err)
	}

	// BlueZ may report the call done before the link settles.
	time.Sleep(500 * time.Millisecond)
	connected, err = getProperty[bool](t.conn, t.devicePath, bluezDevice1, "Connected")
	if err != nil || !connected {
		return fmt.Errorf("device %s did not confirm connection", t.address)
	}
	return nil
}

func (t *Transport) disconnectDevice() {
	if t.conn == nil || t.devicePath == "" {
		return
	}
	device := t.conn.Object(bluezBus, t.devicePath)
	device.Call(bluezDevice1+".Disconnect", 0)
}

// waitServicesResolved waits for BlueZ to finish GATT service discovery.
func (t *Transport) waitServicesResolved(ctx context.Context) error {
	deadline := time.After(resolveTimeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("service discovery timed out after %v", resolveTimeout)
		case <-ticker.C:
			resolved, err := getProperty[bool](t.conn, t.devicePath, bluezDevice1, "ServicesResolved")
			if err == nil && resolved {
				return nil
			}
		}
	}
}

// discoverCharacteristics locates the notify and write characteristics by
// UUID among the device's GATT objects.
func (t *Transport) discoverCharacteristics() error {
	root := t.conn.Object(bluezBus, "/")

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := root.Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return fmt.Errorf("GetManagedObjects failed: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return fmt.Errorf("parse managed objects: %w", err)
	}

	prefix := string(t.devicePath) + "/"
	for path, ifaces := range objects {
		charProps, ok := ifaces[bluezGattChar]
		if !ok {
			continue
		}
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuidVar, ok := charProps["UUID"]
		if !ok {
			continue
		}
		uuid, ok := uuidVar.Value().(string)
		if !ok {
			continue
		}

		switch strings.ToLower(uuid) {
		case notifyCharUUID:
			t.notifyPath = path
			log.Printf("ble: found notify characteristic at %s", path)
		case writeCharUUID:
			t.writePath = path
			log.Printf("ble: found write characteristic at %s", path)
		}
	}

	if t.notifyPath == "" {
		return fmt.Errorf("notify characteristic %s not found", notifyCharUUID)
	}
	if t.writePath == "" {
		return fmt.Errorf("write characteristic %s not found", writeCharUUID)
	}
	return nil
}

// ===== DBus helpers =====

// devicePath converts a MAC address to a BlueZ DBus object path.
// Example: "AA:BB:CC:DD:EE:FF" → "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"
func devicePath(adapter, address string) dbus.ObjectPath {
	devAddr := strings.ReplaceAll(address, ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, devAddr))
}

// getProperty reads one property from a BlueZ DBus object.
func getProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	obj := conn.Object(bluezBus, path)

	variant, err := obj.GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}

// ValidateAddress validates a BLE MAC address (XX:XX:XX:XX:XX:XX).
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("BLE address is required")
	}
	parts := strings.Split(address, ":")
	if len(parts) != 6 {
		return fmt.Errorf("invalid BLE address format (expected XX:XX:XX:XX:XX:XX)")
	}
	for _, part := range parts {
		if len(part) != 2 {
			return fmt.Errorf("invalid BLE address format (expected XX:XX:XX:XX:XX:XX)")
		}
		for _, c := range part {
			if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')) {
				return fmt.Errorf("invalid BLE address format (non-hex character)")
			}
		}
	}
	return nil
}
