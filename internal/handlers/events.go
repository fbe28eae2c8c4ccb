package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"blebridged/internal/eventlog"
)

// ============================================================================
// Event Stream (Server-Sent Events)
// ============================================================================

// StreamEvents replays the event history and then streams live events until
// the client disconnects. Must be mounted outside any request-timeout
// middleware.
func (h *BridgeHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	for _, ev := range h.events.History() {
		writeSSE(w, ev)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev eventlog.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}
