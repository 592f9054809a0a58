package scan

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-facepay/internal/log"
)

// Option configures a Controller.
type Option func(*Controller)

// WithPolicy sets the progress policy.
func WithPolicy(p Policy) Option {
	return func(c *Controller) { c.policy = p.normalized() }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPermissionTimeout bounds the permission request (0 waits forever).
func WithPermissionTimeout(d time.Duration) Option {
	return func(c *Controller) { c.permissionTimeout = d }
}

// WithCaptureTimeout bounds the capture call (0 waits forever).
func WithCaptureTimeout(d time.Duration) Option {
	return func(c *Controller) { c.captureTimeout = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithListener registers a listener at construction time.
func WithListener(l Listener) Option {
	return func(c *Controller) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}

func defaultLogger() *slog.Logger {
	return log.With("component", "scan")
}
