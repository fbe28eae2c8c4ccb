package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes configures all bridge API routes.
func SetupRoutes(r chi.Router, h *BridgeHandler) {
	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// Health check
	r.Get("/health", h.HealthCheck)

	// Bridge session control
	r.Route("/bridge", func(r chi.Router) {
		r.Post("/start", h.StartBridge)
		r.Post("/stop", h.StopBridge)
		r.Post("/reset", h.ResetBridge)
		r.Get("/status", h.GetBridgeStatus)
		r.Post("/pin", h.SubmitPin)

		// Long-lived SSE stream; keep it outside timeout middleware
		r.Get("/events", h.StreamEvents)
	})

	// Device discovery
	r.Get("/scan", h.ScanDevices)
	r.Get("/ports", h.ListSerialPorts)

	// Connection config
	r.Get("/config", h.GetConfig)
	r.Put("/config", h.PutConfig)
}
