// blebridged bridges a BLE GATT device to a local serial port and exposes
// an HTTP control surface for starting, monitoring, and stopping the bridge.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"

	"blebridged/internal/bridge"
	"blebridged/internal/config"
	"blebridged/internal/eventlog"
	"blebridged/internal/handlers"
	"blebridged/internal/transport/ble"
	"blebridged/internal/transport/serialport"
)

const (
	defaultPort = "6020"
	defaultHost = "0.0.0.0"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("blebridged starting...")

	port := os.Getenv("BRIDGE_PORT")
	if port == "" {
		port = defaultPort
	}
	host := os.Getenv("BRIDGE_HOST")
	if host == "" {
		host = defaultHost
	}
	adapter := os.Getenv("BRIDGE_ADAPTER")

	opts := bridge.DefaultOptions()
	if v := os.Getenv("BRIDGE_PAIRING"); v == "0" || v == "false" {
		opts.PairingRequired = false
	}
	if v := os.Getenv("BRIDGE_WATCHDOG"); v == "0" || v == "false" {
		opts.WatchdogEnabled = false
	}
	if v := os.Getenv("BRIDGE_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.FailureThreshold = n
		}
	}

	events := eventlog.NewBus(eventlog.DefaultHistorySize)
	store := config.NewStore(config.DefaultPath())
	pins := handlers.NewPinRelay(events)

	dialer := &ble.Dialer{Adapter: adapter}
	open := func(name string, baud int) (bridge.SerialLink, error) {
		return serialport.Open(name, baud)
	}
	dial := func(ctx context.Context, address string) (bridge.WirelessLink, error) {
		return dialer.Dial(ctx, address)
	}

	sup := bridge.New(opts, open, dial, pins, events)
	h := handlers.NewBridgeHandler(sup, store, events, pins, adapter)

	r := chi.NewRouter()
	handlers.SetupRoutes(r, h)

	addr := host + ":" + port
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: /bridge/events is a long-lived SSE stream.
	}

	go func() {
		log.Printf("blebridged listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify failed: %v", err)
	} else if sent {
		log.Println("notified systemd: ready")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down blebridged...")
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	// End any running session before the HTTP surface goes away.
	sup.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("blebridged stopped")
}
