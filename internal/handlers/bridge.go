package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"blebridged/internal/bridge"
)

// ============================================================================
// Bridge Session Operations
// ============================================================================

// StartBridge starts a bridge session. The request body may override any
// stored connection setting; provided fields are persisted before the
// session starts so the next boot reuses them.
func (h *BridgeHandler) StartBridge(w http.ResponseWriter, r *http.Request) {
	cfg := h.store.Load()

	if r.Body != nil && r.ContentLength != 0 {
		var req struct {
			SerialPort *string `json:"serial_port"`
			BaudRate   *int    `json:"baud_rate"`
			Address    *string `json:"address"`
			PIN        *string `json:"pin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SerialPort != nil {
			cfg.SerialPort = *req.SerialPort
		}
		if req.BaudRate != nil {
			cfg.BaudRate = *req.BaudRate
		}
		if req.Address != nil {
			cfg.Address = *req.Address
		}
		if req.PIN != nil {
			cfg.PIN = *req.PIN
		}
	}

	if err := cfg.Validate(); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.Save(cfg); err != nil {
		errorResponse(w, http.StatusInternalServerError, "failed to save config: "+err.Error())
		return
	}

	if err := h.sup.Start(r.Context(), cfg); err != nil {
		if errors.Is(err, bridge.ErrSessionActive) {
			errorResponse(w, http.StatusConflict, err.Error())
			return
		}
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"state":  h.sup.State().String(),
	})
}

// StopBridge requests an orderly shutdown of the active session.
func (h *BridgeHandler) StopBridge(w http.ResponseWriter, r *http.Request) {
	h.sup.Stop()
	successResponse(w, "disconnect requested")
}

// ResetBridge forces the session down and waits for teardown to complete.
func (h *BridgeHandler) ResetBridge(w http.ResponseWriter, r *http.Request) {
	h.sup.Reset()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"state":  h.sup.State().String(),
	})
}

// GetBridgeStatus returns the session snapshot plus whether a PIN entry
// is currently being waited on.
func (h *BridgeHandler) GetBridgeStatus(w http.ResponseWriter, r *http.Request) {
	st := h.sup.Status()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"state":             st.State,
		"serial_port":       st.SerialPort,
		"baud_rate":         st.BaudRate,
		"address":           st.Address,
		"failures":          st.Failures,
		"failure_threshold": st.Threshold,
		"pin_pending":       h.pins.Pending(),
	})
}

// SubmitPin answers an outstanding PIN request from a pairing session.
func (h *BridgeHandler) SubmitPin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PIN == "" {
		errorResponse(w, http.StatusBadRequest, "pin is required")
		return
	}

	if !h.pins.Submit(req.PIN) {
		errorResponse(w, http.StatusConflict, "no PIN request is pending")
		return
	}
	successResponse(w, "PIN accepted")
}
