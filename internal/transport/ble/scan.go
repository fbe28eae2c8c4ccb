package ble

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const defaultScanWindow = 5 * time.Second

// DeviceInfo describes one peripheral seen during a scan.
type DeviceInfo struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
	RSSI    int16  `json:"rssi,omitempty"`
	Paired  bool   `json:"paired"`
}

// Scan runs a brief LE discovery on the adapter and returns every device
// BlueZ knows about afterwards, strongest signal first. It is independent
// of any active bridge session.
func Scan(ctx context.Context, adapter string, window time.Duration) ([]DeviceInfo, error) {
	if adapter == "" {
		adapter = "hci0"
	}
	if window <= 0 {
		window = defaultScanWindow
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system DBus: %w", err)
	}

	adapterPath := dbus.ObjectPath("/org/bluez/" + adapter)
	adapterObj := conn.Object(bluezBus, adapterPath)

	powered, err := getProperty[bool](conn, adapterPath, bluezAdapter1, "Powered")
	if err != nil {
		return nil, fmt.Errorf("adapter %s unavailable: %w", adapter, err)
	}
	if !powered {
		return nil, fmt.Errorf("adapter %s is not powered", adapter)
	}

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	adapterObj.Call(bluezAdapter1+".SetDiscoveryFilter", 0, filter)

	call := adapterObj.Call(bluezAdapter1+".StartDiscovery", 0)
	if call.Err != nil {
		// Discovery may already be running; cached devices still answer.
		log.Printf("ble: StartDiscovery: %v (listing cached devices)", call.Err)
	} else {
		select {
		case <-ctx.Done():
		case <-time.After(window):
		}
		adapterObj.Call(bluezAdapter1+".StopDiscovery", 0)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	root := conn.Object(bluezBus, "/")
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call = root.Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects failed: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("parse managed objects: %w", err)
	}

	adapterPrefix := string(adapterPath) + "/"
	var devices []DeviceInfo
	for path, ifaces := range objects {
		devProps, ok := ifaces[bluezDevice1]
		if !ok {
			continue
		}
		if !strings.HasPrefix(string(path), adapterPrefix) {
			continue
		}

		info := DeviceInfo{}
		if v, ok := devProps["Address"]; ok {
			info.Address, _ = v.Value().(string)
		}
		if info.Address == "" {
			continue
		}
		if v, ok := devProps["Name"]; ok {
			info.Name, _ = v.Value().(string)
		}
		if v, ok := devProps["RSSI"]; ok {
			info.RSSI, _ = v.Value().(int16)
		}
		if v, ok := devProps["Paired"]; ok {
			info.Paired, _ = v.Value().(bool)
		}
		devices = append(devices, info)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].RSSI > devices[j].RSSI })
	log.Printf("ble: scan on %s found %d devices", adapter, len(devices))
	return devices, nil
}
