package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/capability"
	"github.com/teslashibe/go-facepay/pkg/protocol"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

// startServer serves hub on a random local port and returns its ws:// base URL.
func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		hub.Close()
		_ = app.Shutdown()
	})
	return "ws://" + ln.Addr().String()
}

func dialDevice(t *testing.T, base, id string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/device/"+id, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.ParseMessage(data)
	require.NoError(t, err)
	return msg
}

func writeMessage(t *testing.T, ws *websocket.Conn, msg *protocol.Message, err error) {
	t.Helper()
	require.NoError(t, err)
	data, err := msg.Bytes()
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func TestNewHub(t *testing.T) {
	hub := NewHub(log.Discard())
	assert.Equal(t, 0, hub.DeviceCount())
	assert.Empty(t, hub.Devices())
	assert.Equal(t, Stats{}, hub.GetStats())
	assert.False(t, hub.Connected("nope"))
}

func TestDeviceConnection(t *testing.T) {
	hub := NewHub(log.Discard())
	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	hub.OnConnect(func(id string) { connected <- id })
	hub.OnDisconnect(func(id string) { disconnected <- id })
	base := startServer(t, hub)

	ws := dialDevice(t, base, "till-1")
	assert.Equal(t, "till-1", <-connected)
	assert.True(t, hub.Connected("till-1"))
	assert.Equal(t, 1, hub.DeviceCount())

	_ = ws.Close()
	select {
	case id := <-disconnected:
		assert.Equal(t, "till-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}
	assert.Equal(t, 0, hub.DeviceCount())
}

func TestPingPong(t *testing.T) {
	hub := NewHub(log.Discard())
	base := startServer(t, hub)
	ws := dialDevice(t, base, "ping-test")

	msg, err := protocol.NewMessage(protocol.TypePing, "p1", nil)
	writeMessage(t, ws, msg, err)

	resp := readMessage(t, ws)
	assert.Equal(t, protocol.TypePong, resp.Type)
	assert.Equal(t, "p1", resp.ID)
}

func TestProviderRequiresDevice(t *testing.T) {
	hub := NewHub(log.Discard())
	p := hub.Provider("ghost", time.Second)

	_, err := p.RequestPermission(context.Background())
	assert.ErrorIs(t, err, ErrDeviceNotConnected)

	_, err = p.SubscribeDetection(context.Background(), func(scan.DetectionSample) {})
	assert.ErrorIs(t, err, ErrDeviceNotConnected)

	_, err = p.Capture(context.Background(), scan.CaptureHint{})
	assert.Equal(t, scan.ReasonHardwareFault, scan.ReasonOf(err))
}

func TestProviderRoundTrips(t *testing.T) {
	hub := NewHub(log.Discard())
	base := startServer(t, hub)
	ws := dialDevice(t, base, "phone")
	require.Eventually(t, func() bool { return hub.Connected("phone") }, time.Second, 5*time.Millisecond)
	p := hub.Provider("phone", 250*time.Millisecond)

	t.Run("permission", func(t *testing.T) {
		done := make(chan bool, 1)
		go func() {
			granted, err := p.RequestPermission(context.Background())
			assert.NoError(t, err)
			done <- granted
		}()
		req := readMessage(t, ws)
		require.Equal(t, protocol.TypePermissionRequest, req.Type)
		reply, err := protocol.NewPermissionResult(req.ID, true, nil)
		writeMessage(t, ws, reply, err)
		assert.True(t, <-done)
	})

	t.Run("detection stream", func(t *testing.T) {
		var mu sync.Mutex
		var got []scan.DetectionSample
		sub, err := p.SubscribeDetection(context.Background(), func(s scan.DetectionSample) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		})
		require.NoError(t, err)

		start := readMessage(t, ws)
		require.Equal(t, protocol.TypeDetectStart, start.Type)
		data, err := start.GetDetectStart()
		require.NoError(t, err)
		assert.EqualValues(t, 250, data.IntervalMs)

		det, err := protocol.NewDetection(start.ID, capability.FaceSample())
		writeMessage(t, ws, det, err)
		stray, err := protocol.NewDetection("other-stream", capability.FaceSample())
		writeMessage(t, ws, stray, err)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 1
		}, time.Second, 5*time.Millisecond)

		sub.Unsubscribe()
		stop := readMessage(t, ws)
		assert.Equal(t, protocol.TypeDetectStop, stop.Type)
		assert.Equal(t, start.ID, stop.ID)
		assert.Equal(t, 0, hub.GetStats().Streams)
	})

	t.Run("capture failure", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			_, err := p.Capture(context.Background(), scan.CaptureHint{Confidence: 0.9})
			done <- err
		}()
		req := readMessage(t, ws)
		require.Equal(t, protocol.TypeCaptureRequest, req.Type)
		hint, err := req.GetCaptureHint()
		require.NoError(t, err)
		assert.Equal(t, 0.9, hint.Confidence)

		reply, err := protocol.NewCaptureResult(req.ID, nil, scan.NewCaptureError(scan.ReasonLowQuality, nil))
		writeMessage(t, ws, reply, err)
		assert.Equal(t, scan.ReasonLowQuality, scan.ReasonOf(<-done))
	})

	t.Run("request honours context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := p.RequestPermission(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		readMessage(t, ws) // drain the unanswered request
	})
}

func TestDisconnectFailsPendingRequest(t *testing.T) {
	hub := NewHub(log.Discard())
	base := startServer(t, hub)
	ws := dialDevice(t, base, "flaky")
	require.Eventually(t, func() bool { return hub.Connected("flaky") }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := hub.Provider("flaky", time.Second).Capture(context.Background(), scan.CaptureHint{})
		done <- err
	}()
	readMessage(t, ws)
	_ = ws.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeviceDisconnected)
		assert.Equal(t, scan.ReasonHardwareFault, scan.ReasonOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("pending capture not failed")
	}
}

func TestDisconnectReportsFaceLost(t *testing.T) {
	hub := NewHub(log.Discard())
	base := startServer(t, hub)
	ws := dialDevice(t, base, "kiosk")
	require.Eventually(t, func() bool { return hub.Connected("kiosk") }, time.Second, 5*time.Millisecond)

	samples := make(chan scan.DetectionSample, 4)
	sub, err := hub.Provider("kiosk", time.Second).SubscribeDetection(context.Background(), func(s scan.DetectionSample) {
		samples <- s
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	readMessage(t, ws)

	_ = ws.Close()
	select {
	case s := <-samples:
		assert.False(t, s.Present)
	case <-time.After(2 * time.Second):
		t.Fatal("no absent sample after disconnect")
	}

	// Reconnecting resumes the stream.
	ws2 := dialDevice(t, base, "kiosk")
	resumed := readMessage(t, ws2)
	assert.Equal(t, protocol.TypeDetectStart, resumed.Type)
}

func TestDetectionRateLimit(t *testing.T) {
	hub := NewHub(log.Discard())
	hub.SetDetectionLimit(rate.Every(time.Hour), 2)
	base := startServer(t, hub)
	ws := dialDevice(t, base, "flood")
	require.Eventually(t, func() bool { return hub.Connected("flood") }, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	received := 0
	sub, err := hub.Provider("flood", time.Second).SubscribeDetection(context.Background(), func(scan.DetectionSample) {
		mu.Lock()
		received++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	start := readMessage(t, ws)

	for i := 0; i < 5; i++ {
		msg, err := protocol.NewDetection(start.ID, capability.FaceSample())
		writeMessage(t, ws, msg, err)
	}

	require.Eventually(t, func() bool { return hub.GetStats().DetectionsReceived == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, hub.GetStats().DetectionsDropped)
	mu.Lock()
	assert.Equal(t, 2, received)
	mu.Unlock()
}

func TestAPIListDevices(t *testing.T) {
	hub := NewHub(log.Discard())
	app := fiber.New()
	hub.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/devices", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var result map[string]any
	require.NoError(t, json.Unmarshal(body, &result))
	assert.EqualValues(t, 0, result["count"])

	resp, err = app.Test(httptest.NewRequest("GET", "/api/devices/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestDeviceEndpointRequiresUpgrade(t *testing.T) {
	hub := NewHub(log.Discard())
	app := fiber.New()
	hub.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/device/x", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
