package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/camera"
	"github.com/teslashibe/go-facepay/pkg/detection"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

// CameraPlatform is reported as CaptureResult.SourcePlatform.
const CameraPlatform = "camera"

// ErrPermissionDenied is returned by a FrameSource that refuses access.
var ErrPermissionDenied = errors.New("capability: camera access denied")

// FrameSource yields JPEG frames.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
}

// FrameSourceFunc adapts a function to FrameSource.
type FrameSourceFunc func(ctx context.Context) ([]byte, error)

// Frame calls f.
func (f FrameSourceFunc) Frame(ctx context.Context) ([]byte, error) { return f(ctx) }

// Camera is a scan.Provider that polls a FrameSource and runs a face
// detector on every frame.
type Camera struct {
	source   FrameSource
	detector detection.Detector
	settings *camera.Manager
	interval time.Duration
	minArea  float64
	logger   *slog.Logger

	wg sync.WaitGroup
}

// CameraOption configures a Camera.
type CameraOption func(*Camera)

// WithInterval sets the frame polling interval.
func WithInterval(d time.Duration) CameraOption {
	return func(c *Camera) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithSettings sets the capture settings used to scale detections.
func WithSettings(m *camera.Manager) CameraOption {
	return func(c *Camera) {
		if m != nil {
			c.settings = m
		}
	}
}

// WithMinFaceArea ignores faces smaller than area (a fraction of the frame).
func WithMinFaceArea(area float64) CameraOption {
	return func(c *Camera) {
		c.minArea = area
	}
}

// WithCameraLogger sets the structured logger.
func WithCameraLogger(l *slog.Logger) CameraOption {
	return func(c *Camera) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCamera creates a camera provider.
func NewCamera(source FrameSource, detector detection.Detector, opts ...CameraOption) *Camera {
	c := &Camera{
		source:   source,
		detector: detector,
		settings: camera.NewManager(camera.DefaultConfig()),
		interval: DefaultSampleInterval,
		logger:   log.With("component", "camera"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestPermission probes the frame source. A source that refuses access
// is a denial; any other failure is returned as an error.
func (c *Camera) RequestPermission(ctx context.Context) (bool, error) {
	if _, err := c.source.Frame(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return false, nil
		}
		return false, fmt.Errorf("capability: probe camera: %w", err)
	}
	return true, nil
}

// SubscribeDetection runs detection on one frame per interval. Frames that
// fail to load or decode produce no sample.
func (c *Camera) SubscribeDetection(ctx context.Context, fn func(scan.DetectionSample)) (scan.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s, err := c.detect(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.logger.Warn("frame detection failed", "error", err)
					}
					continue
				}
				fn(s)
			}
		}
	}()
	return scan.SubscriptionFunc(cancel), nil
}

func (c *Camera) detect(ctx context.Context) (scan.DetectionSample, error) {
	_, s, err := c.detectFrame(ctx)
	return s, err
}

func (c *Camera) detectFrame(ctx context.Context) ([]byte, scan.DetectionSample, error) {
	frame, err := c.source.Frame(ctx)
	if err != nil {
		return nil, scan.DetectionSample{}, err
	}
	dets, err := c.detector.Detect(frame)
	if err != nil {
		return frame, scan.DetectionSample{}, err
	}
	now := time.Now()
	best := detection.SelectBest(detection.Filter(dets, c.minArea))
	if best == nil {
		return frame, scan.DetectionSample{Present: false, Timestamp: now}, nil
	}

	cfg := c.settings.Current()
	d := *best
	if cfg.Mirror {
		d.X = 1 - d.X - d.W
	}
	r := d.ToRect(cfg.Width, cfg.Height)
	return frame, scan.DetectionSample{
		Present:    true,
		Region:     &r,
		Confidence: d.Confidence,
		Timestamp:  now,
	}, nil
}

// Capture grabs a fresh frame and accepts it only if a face is still in it.
func (c *Camera) Capture(ctx context.Context, hint scan.CaptureHint) (*scan.CaptureResult, error) {
	frame, s, err := c.detectFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, scan.NewCaptureError(scan.ReasonHardwareFault, err)
	}
	if !s.Present {
		return nil, scan.NewCaptureError(scan.ReasonLowQuality, errors.New("no face in capture frame"))
	}
	return &scan.CaptureResult{
		Payload:        frame,
		Reference:      "cam-" + uuid.NewString(),
		Quality:        s.Confidence,
		CapturedAt:     s.Timestamp,
		SourcePlatform: CameraPlatform,
	}, nil
}

// Wait blocks until every detection loop has exited.
func (c *Camera) Wait() {
	c.wg.Wait()
}

// Close releases the detector.
func (c *Camera) Close() error {
	return c.detector.Close()
}
