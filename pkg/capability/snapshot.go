package capability

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/teslashibe/go-facepay/internal/httpc"
	"github.com/teslashibe/go-facepay/pkg/camera"
)

// MaxFrameBytes caps a single snapshot download.
const MaxFrameBytes = 8 << 20

// SnapshotSource fetches JPEG snapshots over HTTP, passing the current
// capture settings as query parameters.
type SnapshotSource struct {
	URL      string
	Client   *http.Client
	Settings *camera.Manager
}

// NewSnapshotSource creates a source for rawURL with a 5s request timeout.
func NewSnapshotSource(rawURL string, settings *camera.Manager) *SnapshotSource {
	return &SnapshotSource{
		URL:      rawURL,
		Client:   httpc.NewClient(5 * time.Second),
		Settings: settings,
	}
}

// Frame fetches one snapshot. 401 and 403 map to ErrPermissionDenied.
func (s *SnapshotSource) Frame(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, err
	}
	if s.Settings != nil {
		q := u.Query()
		for k, v := range s.Settings.Current().Query() {
			q[k] = v
		}
		u.RawQuery = q.Encode()
	}

	frame, err := httpc.Fetch(ctx, s.Client, u.String(), MaxFrameBytes)
	var se *httpc.StatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
		return nil, ErrPermissionDenied
	}
	return frame, err
}
