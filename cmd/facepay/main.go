// facepay: face-payment POS scan service
// Runs scan sessions over HTTP, streams their events over websocket, and
// accepts remote capture devices on /ws/device/:id.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-facepay/internal/config"
	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/bridge"
	"github.com/teslashibe/go-facepay/pkg/camera"
	"github.com/teslashibe/go-facepay/pkg/hub"
	"github.com/teslashibe/go-facepay/pkg/metrics"
	"github.com/teslashibe/go-facepay/pkg/scan"
	"github.com/teslashibe/go-facepay/pkg/session"
	"github.com/teslashibe/go-facepay/pkg/web"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = flag.String("config", "facepay.yaml", "Path to YAML config file")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	provider   = flag.String("provider", "", "Capability provider: simulator, camera or bridge")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "facepay: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return cfg, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Init(cfg.LogLevel)
	logger := log.L()

	settings, err := camera.NewManagerFromPreset(cfg.Camera.Preset)
	if err != nil {
		return err
	}
	settings.OnChange(func(c camera.Config) error {
		logger.Info("camera settings changed", "width", c.Width, "height", c.Height, "quality", c.Quality)
		return nil
	})

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	devices := bridge.NewHub(log.With("component", "bridge"))
	devices.OnConnect(func(id string) { logger.Info("device connected", "device", id) })
	devices.OnDisconnect(func(id string) { logger.Info("device disconnected", "device", id) })

	factory, closeProviders, err := newProviderFactory(cfg, settings, devices)
	if err != nil {
		return err
	}
	defer closeProviders()

	events := hub.New("events")
	sessions := session.NewManager(factory,
		session.WithStore(store),
		session.WithEventSink(web.HubSink(events)),
		session.WithMetrics(metrics.New()),
		session.WithProviderName(cfg.Provider),
		session.WithScanOptions(
			scan.WithPolicy(scan.Policy{
				Increment:      cfg.Scan.Increment,
				SampleInterval: cfg.Scan.SampleInterval,
				MinConfidence:  cfg.Scan.MinConfidence,
			}),
			scan.WithPermissionTimeout(cfg.Scan.PermissionTimeout),
			scan.WithCaptureTimeout(cfg.Scan.CaptureTimeout),
		),
	)

	srv := web.NewServer(sessions,
		web.WithEvents(events),
		web.WithCamera(settings),
		web.WithBridge(devices),
		web.WithRequestLog(log.ParseLevel(cfg.LogLevel) == slog.LevelDebug),
	)

	logger.Info("facepay starting",
		"listen", cfg.Listen,
		"provider", cfg.Provider,
		"store", cfg.Store.Kind,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.Listen(cfg.Listen); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("sessions: %w", err))
		}
		devices.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("goodbye")
	return nil
}
