package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/bridge"
	"github.com/teslashibe/go-facepay/pkg/camera"
	"github.com/teslashibe/go-facepay/pkg/capability"
	"github.com/teslashibe/go-facepay/pkg/hub"
	"github.com/teslashibe/go-facepay/pkg/scan"
	"github.com/teslashibe/go-facepay/pkg/session"
)

type testServer struct {
	server   *Server
	sessions *session.Manager
	mock     *capability.Mock
	events   *hub.Hub
	camera   *camera.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		mock:   capability.NewMock(),
		events: hub.New("events").WithLogger(log.Discard()),
		camera: camera.NewManager(camera.DefaultConfig()),
	}
	ts.sessions = session.NewManager(
		func(ctx context.Context, req session.StartRequest) (scan.Provider, error) { return ts.mock, nil },
		session.WithEventSink(HubSink(ts.events)),
		session.WithLogger(log.Discard()),
		session.WithProviderName("mock"),
		session.WithScanOptions(scan.WithPolicy(scan.FastPolicy())),
	)
	ts.server = NewServer(ts.sessions,
		WithEvents(ts.events),
		WithCamera(ts.camera),
		WithBridge(bridge.NewHub(log.Discard())),
		WithLogger(log.Discard()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go ts.events.Run(ctx)
	t.Cleanup(func() {
		shutdown, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = ts.sessions.Shutdown(shutdown)
		cancel()
		<-ts.events.Stopped()
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.server.App().Test(req, 2000)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) startSession(t *testing.T) session.Record {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/sessions", `{"merchant_name":"Corner Cafe","payment_amount":"$4.50"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var rec session.Record
	require.NoError(t, json.Unmarshal(body, &rec))
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
	assert.Contains(t, string(body), `"devices":0`)
}

func TestStartSession(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.startSession(t)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Corner Cafe", rec.Context.MerchantName)
	assert.Equal(t, "mock", rec.Provider)

	resp, body := ts.do(t, http.MethodGet, "/api/sessions/"+rec.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got session.Record
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, rec.ID, got.ID)

	resp, body = ts.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []session.Record
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)
}

func TestStartSessionValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/sessions", `{"merchant_name":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "merchant_name")

	resp, _ = ts.do(t, http.MethodPost, "/api/sessions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelSession(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.startSession(t)

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+rec.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var got session.Record
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, scan.StateCancelled, got.State)

	require.Eventually(t, func() bool { return ts.sessions.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	resp, _ = ts.do(t, http.MethodPost, "/api/sessions/"+rec.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/sessions/"+rec.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, scan.StateCancelled, got.State)
	assert.NotNil(t, got.FinishedAt)
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/sessions/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCameraConfig(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/camera", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg camera.Config
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, camera.DefaultConfig(), cfg)

	resp, body = ts.do(t, http.MethodPut, "/api/camera", `{"preset":"low","quality":60}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 60, cfg.Quality)
	assert.Equal(t, cfg, ts.camera.Current())

	resp, _ = ts.do(t, http.MethodPut, "/api/camera", `{"preset":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/camera/presets", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"kiosk"`)
}

func TestDevicesRoute(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":0`)
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.startSession(t)

	resp, body := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "facepay_sessions_started_total 1")
}

func TestEventsRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/ws/events", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestEventsStream(t *testing.T) {
	ts := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = ts.server.Serve(ln) }()
	t.Cleanup(func() { _ = ts.server.Shutdown(context.Background()) })

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ts.events.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	rec := ts.startSession(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var u session.Update
	require.NoError(t, json.Unmarshal(data, &u))
	assert.Equal(t, rec.ID, u.SessionID)
	assert.Equal(t, scan.EventTransition, u.Kind)
	assert.Equal(t, scan.StateIdle, u.From)
	assert.Equal(t, scan.StateRequestingPermission, u.State)
}
