package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-facepay/internal/config"
	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/bridge"
	"github.com/teslashibe/go-facepay/pkg/camera"
	"github.com/teslashibe/go-facepay/pkg/capability"
	"github.com/teslashibe/go-facepay/pkg/detection"
	"github.com/teslashibe/go-facepay/pkg/scan"
	"github.com/teslashibe/go-facepay/pkg/session"
)

// newProviderFactory builds the providers selected by cfg.Provider. The
// returned func releases them.
func newProviderFactory(cfg config.Config, settings *camera.Manager, devices *bridge.Hub) (session.ProviderFactory, func(), error) {
	switch cfg.Provider {
	case config.ProviderSimulator:
		sim := capability.NewSimulator(capability.SimulatorConfig{
			Interval:         cfg.Scan.SampleInterval,
			DenyPermission:   cfg.Simulator.DenyPermission,
			PresenceRate:     cfg.Simulator.PresenceRate,
			ConfidenceJitter: cfg.Simulator.ConfidenceJitter,
			Seed:             cfg.Simulator.Seed,
			CaptureDelay:     cfg.Simulator.CaptureDelay,
			FailCapture:      scan.CaptureReason(cfg.Simulator.FailCapture),
		})
		factory := func(ctx context.Context, req session.StartRequest) (scan.Provider, error) {
			return sim, nil
		}
		return factory, sim.Wait, nil

	case config.ProviderCamera:
		dcfg := detection.DefaultConfig()
		if cfg.Camera.Model != "" {
			dcfg.ModelPath = cfg.Camera.Model
		}
		detector, err := detection.NewYuNet(dcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("camera provider: %w", err)
		}
		cam := capability.NewCamera(
			capability.NewSnapshotSource(cfg.Camera.SnapshotURL, settings),
			detector,
			capability.WithInterval(cfg.Scan.SampleInterval),
			capability.WithSettings(settings),
			capability.WithMinFaceArea(dcfg.MinFaceArea),
		)
		factory := func(ctx context.Context, req session.StartRequest) (scan.Provider, error) {
			return cam, nil
		}
		release := func() {
			cam.Wait()
			if err := cam.Close(); err != nil {
				log.Warn("failed to close detector", "error", err)
			}
		}
		return factory, release, nil

	case config.ProviderBridge:
		factory := func(ctx context.Context, req session.StartRequest) (scan.Provider, error) {
			if req.DeviceID == "" {
				return nil, fmt.Errorf("%w: device_id is required", session.ErrInvalidRequest)
			}
			if !devices.Connected(req.DeviceID) {
				return nil, fmt.Errorf("%w: %s", bridge.ErrDeviceNotConnected, req.DeviceID)
			}
			return devices.Provider(req.DeviceID, cfg.Scan.SampleInterval), nil
		}
		return factory, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// openStore connects the session store selected by cfg.Kind.
func openStore(ctx context.Context, cfg config.StoreConfig) (session.Store, func(), error) {
	if cfg.Kind != config.StoreRedis {
		return session.NewMemoryStore(cfg.TTL), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := session.NewRedisStore(client, cfg.Namespace, cfg.TTL)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	return store, func() { _ = client.Close() }, nil
}
