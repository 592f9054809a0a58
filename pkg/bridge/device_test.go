package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/capability"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

func runDevice(t *testing.T, base, id string, provider scan.Provider) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	dev := &Device{ID: id, Server: base, Provider: provider, Logger: log.Discard()}
	go func() { done <- dev.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("device did not stop")
		}
	})
}

func TestDevice_URL(t *testing.T) {
	d := &Device{ID: "till 1", Server: "ws://pos.local:8080/"}
	u, err := d.URL()
	require.NoError(t, err)
	assert.Equal(t, "ws://pos.local:8080/ws/device/till%201", u)
}

func TestDevice_RunWithoutProvider(t *testing.T) {
	err := (&Device{ID: "x", Server: "ws://127.0.0.1:1"}).Run(context.Background())
	assert.ErrorIs(t, err, scan.ErrNoProvider)
}

func TestDevice_SimulatedScanOverBridge(t *testing.T) {
	hub := NewHub(log.Discard())
	base := startServer(t, hub)

	cfg := capability.DefaultSimulatorConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.Logger = log.Discard()
	sim := capability.NewSimulator(cfg)
	runDevice(t, base, "phone-7", sim)
	require.Eventually(t, func() bool { return hub.Connected("phone-7") }, 2*time.Second, 5*time.Millisecond)

	c := scan.New(hub.Provider("phone-7", cfg.Interval), scan.WithLogger(log.Discard()))
	require.NoError(t, c.Start(context.Background(), scan.SessionContext{MerchantName: "Coffee Shop", PaymentAmount: "R45.00"}))

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session stuck in %s", c.State())
	}
	require.Equal(t, scan.StateCompleted, c.State())

	res := c.Snapshot().Result
	require.NotNil(t, res)
	assert.Equal(t, capability.SimulatorPlatform, res.SourcePlatform)
	assert.Equal(t, 0.95, res.Quality)
	require.Eventually(t, func() bool { return hub.GetStats().Streams == 0 }, time.Second, 5*time.Millisecond)
}

func TestDevice_DeniedOverBridge(t *testing.T) {
	hub := NewHub(log.Discard())
	base := startServer(t, hub)

	sim := capability.NewSimulator(capability.SimulatorConfig{DenyPermission: true, Logger: log.Discard()})
	runDevice(t, base, "locked", sim)
	require.Eventually(t, func() bool { return hub.Connected("locked") }, 2*time.Second, 5*time.Millisecond)

	c := scan.New(hub.Provider("locked", time.Second), scan.WithLogger(log.Discard()))
	require.NoError(t, c.Start(context.Background(), scan.SessionContext{}))
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.Equal(t, scan.StatePermissionDenied, c.State())
}
