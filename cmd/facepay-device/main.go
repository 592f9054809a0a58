// facepay-device: simulated capture device for the facepay bridge
// Dials /ws/device/:id on a facepay server and answers permission,
// detection and capture requests with a simulated camera. Reconnects
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/bridge"
	"github.com/teslashibe/go-facepay/pkg/capability"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

var (
	server       = flag.String("server", "ws://localhost:8080", "facepay server base URL")
	deviceID     = flag.String("id", "", "Device ID (random if empty)")
	interval     = flag.Duration("interval", time.Second, "Detection sample interval")
	presence     = flag.Float64("presence", 0, "Chance a sample contains a face (0 = always)")
	deny         = flag.Bool("deny", false, "Deny camera permission")
	fail         = flag.String("fail", "", "Fail captures with this reason (e.g. low_quality)")
	retry        = flag.Duration("retry", 2*time.Second, "Delay between reconnect attempts")
	pingInterval = flag.Duration("ping", 30*time.Second, "Keepalive ping interval")
	logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()
	log.Init(*logLevel)

	id := *deviceID
	if id == "" {
		id = "device-" + uuid.NewString()[:8]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := capability.NewSimulator(capability.SimulatorConfig{
		Interval:       *interval,
		PresenceRate:   *presence,
		DenyPermission: *deny,
		FailCapture:    scan.CaptureReason(*fail),
		Logger:         log.With("component", "simulator", "device", id),
	})
	dev := &bridge.Device{
		ID:       id,
		Server:   *server,
		Provider: sim,
		Logger:   log.With("component", "device", "device", id),
	}

	if err := run(ctx, dev); err != nil {
		fmt.Fprintf(os.Stderr, "facepay-device: %v\n", err)
		os.Exit(1)
	}
	sim.Wait()
	log.Info("device stopped", "device", id)
}

func run(ctx context.Context, dev *bridge.Device) error {
	if _, err := dev.URL(); err != nil {
		return err
	}
	go keepalive(ctx, dev)

	for {
		err := dev.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Warn("bridge connection lost", "error", err, "retry", *retry)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*retry):
		}
	}
}

func keepalive(ctx context.Context, dev *bridge.Device) {
	ticker := time.NewTicker(*pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dev.Ping(); err != nil {
				log.Debug("ping failed", "error", err)
			}
		}
	}
}
