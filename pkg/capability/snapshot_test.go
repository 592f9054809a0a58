package capability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-facepay/internal/httpc"
	"github.com/teslashibe/go-facepay/pkg/camera"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

func TestSnapshotSource_Frame(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(testFrame)
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL+"/snapshot.jpg?lens=front", camera.NewManager(camera.LowBandwidthConfig()))
	defer src.Client.CloseIdleConnections()
	frame, err := src.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testFrame, frame)
	assert.Contains(t, gotQuery, "width=320")
	assert.Contains(t, gotQuery, "quality=70")
	assert.Contains(t, gotQuery, "lens=front")
}

func TestSnapshotSource_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL, nil)
	defer src.Client.CloseIdleConnections()
	_, err := src.Frame(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)

	cam := NewCamera(src, oneFace())
	granted, err := cam.RequestPermission(context.Background())
	assert.NoError(t, err)
	assert.False(t, granted)
}

func TestSnapshotSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL, nil)
	defer src.Client.CloseIdleConnections()
	_, err := src.Frame(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
}

func TestSnapshotSource_OversizedFrameFailsCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, MaxFrameBytes+1))
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL, nil)
	defer src.Client.CloseIdleConnections()
	_, err := src.Frame(context.Background())
	assert.ErrorIs(t, err, httpc.ErrTooLarge)

	_, err = newTestCamera(src, oneFace()).Capture(context.Background(), scan.CaptureHint{})
	assert.Equal(t, scan.ReasonHardwareFault, scan.ReasonOf(err))
}
