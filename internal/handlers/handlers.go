package handlers

import (
	"encoding/json"
	"net/http"

	"blebridged/internal/bridge"
	"blebridged/internal/config"
	"blebridged/internal/eventlog"
)

// BridgeHandler handles all bridge control endpoints
type BridgeHandler struct {
	sup     *bridge.Supervisor
	store   *config.Store
	events  *eventlog.Bus
	pins    *PinRelay
	adapter string
}

// NewBridgeHandler creates a new bridge handler. adapter is the BlueZ
// adapter used for scans (empty = hci0).
func NewBridgeHandler(sup *bridge.Supervisor, store *config.Store, events *eventlog.Bus, pins *PinRelay, adapter string) *BridgeHandler {
	return &BridgeHandler{
		sup:     sup,
		store:   store,
		events:  events,
		pins:    pins,
		adapter: adapter,
	}
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]interface{}{
		"error": message,
		"code":  status,
	})
}

func successResponse(w http.ResponseWriter, message string) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"message": message,
	})
}

// HealthCheck reports service liveness
func (h *BridgeHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "blebridged",
		"state":   h.sup.State().String(),
	})
}
