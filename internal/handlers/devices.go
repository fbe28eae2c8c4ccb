package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"blebridged/internal/transport/ble"
	"blebridged/internal/transport/serialport"
)

// ============================================================================
// Device Discovery
// ============================================================================

// ScanDevices runs a BLE scan and returns the devices seen, strongest
// signal first. The optional ?window= query bounds the scan in seconds.
func (h *BridgeHandler) ScanDevices(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(0)
	if s := r.URL.Query().Get("window"); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs <= 0 || secs > 60 {
			errorResponse(w, http.StatusBadRequest, "window must be 1-60 seconds")
			return
		}
		window = time.Duration(secs) * time.Second
	}

	devices, err := ble.Scan(r.Context(), h.adapter, window)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "scan failed: "+err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

// ListSerialPorts enumerates the host's serial ports.
func (h *BridgeHandler) ListSerialPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := serialport.List()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "failed to list ports: "+err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"ports": ports,
		"count": len(ports),
	})
}

// ============================================================================
// Connection Config
// ============================================================================

// GetConfig returns the stored connection settings.
func (h *BridgeHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.store.Load())
}

// PutConfig replaces the stored connection settings.
func (h *BridgeHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg struct {
		SerialPort string `json:"serial_port"`
		BaudRate   int    `json:"baud_rate"`
		Address    string `json:"address"`
		PIN        string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stored := h.store.Load()
	stored.SerialPort = cfg.SerialPort
	stored.BaudRate = cfg.BaudRate
	stored.Address = cfg.Address
	stored.PIN = cfg.PIN

	if err := stored.Validate(); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.Save(stored); err != nil {
		errorResponse(w, http.StatusInternalServerError, "failed to save config: "+err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, stored)
}
